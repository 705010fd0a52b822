package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/rollctl/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusSource reports the live session for /ready.
type StatusSource interface {
	Snapshot() session.Snapshot
}

// OpsServer serves /health, /ready and /metrics for one client process.
type OpsServer struct {
	router  *gin.Engine
	source  StatusSource
	started time.Time
}

func NewOpsServer(source StatusSource) *OpsServer {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observeOpsRequests(log.Logger))

	s := &OpsServer{
		router:  r,
		source:  source,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *OpsServer) Handler() http.Handler {
	return s.router
}

func (s *OpsServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "rollctl",
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		snap := s.source.Snapshot()
		ready := snap.State != session.StateIdle && snap.State != session.StateClosed
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		body := gin.H{
			"ready":      ready,
			"state":      snap.State.String(),
			"rolls_sent": snap.RollsSent,
			"results":    snap.Results,
		}
		if snap.Results > 0 {
			body["last_result"] = gin.H{
				"raw":     snap.LastResult.Raw,
				"value":   snap.LastResult.Value,
				"matched": snap.LastResult.Matched,
			}
		}
		c.JSON(status, body)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Serve listens on ln until ctx ends, then shuts down gracefully.
func (s *OpsServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("ops listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
