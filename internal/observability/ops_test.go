package observability

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rollctl/internal/protocol/dice"
	"github.com/danmuck/rollctl/internal/protocol/session"
	"github.com/danmuck/rollctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type staticSource struct {
	snap session.Snapshot
}

func (s staticSource) Snapshot() session.Snapshot {
	return s.snap
}

func TestOpsHealth(t *testing.T) {
	testlog.Start(t)
	srv := NewOpsServer(staticSource{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestOpsReadyReflectsSession(t *testing.T) {
	testlog.Start(t)
	idle := NewOpsServer(staticSource{snap: session.Snapshot{State: session.StateIdle}})
	rec := httptest.NewRecorder()
	idle.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("idle session should not be ready, got %d", rec.Code)
	}

	live := NewOpsServer(staticSource{snap: session.Snapshot{
		State:      session.StateRollAcked,
		RollsSent:  3,
		Results:    3,
		LastResult: dice.Result{Raw: "won:result=5;", Value: "5", Matched: true},
	}})
	rec = httptest.NewRecorder()
	live.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body struct {
		Ready      bool   `json:"ready"`
		State      string `json:"state"`
		RollsSent  uint64 `json:"rolls_sent"`
		LastResult struct {
			Value string `json:"value"`
		} `json:"last_result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Ready || body.State != "roll_acked" || body.RollsSent != 3 || body.LastResult.Value != "5" {
		t.Fatalf("unexpected ready body: %+v", body)
	}
}

func TestOpsMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	RecordCommandSent("hello\n")
	srv := NewOpsServer(staticSource{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "rollctl_session_commands_sent_total") {
		t.Fatalf("missing session metrics in body")
	}
}

func TestOpsServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewOpsServer(staticSource{}).Serve(ctx, ln)
	}()

	client := &http.Client{Timeout: 2 * time.Second}
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = client.Get("http://" + ln.Addr().String() + "/health")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve exit err: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("ops server did not stop")
	}
}

func TestOpsRequestsAreCountedByRoute(t *testing.T) {
	testlog.Start(t)
	srv := NewOpsServer(staticSource{})
	readyBefore := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ready", "503"))
	strayBefore := testutil.ToFloat64(httpRequests.WithLabelValues("GET", unmatchedRoute, "404"))

	srv.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ready", nil))
	for _, path := range []string{"/nope", "/rolls", "/health/deep"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: unexpected status %d", path, rec.Code)
		}
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ready", "503")) - readyBefore; got != 1 {
		t.Fatalf("unexpected /ready delta: %v", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", unmatchedRoute, "404")) - strayBefore; got != 3 {
		t.Fatalf("unexpected unmatched delta: %v", got)
	}
}
