package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rollctl/internal/logging"
	"github.com/danmuck/rollctl/internal/observability"
	"github.com/danmuck/rollctl/internal/roller"
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := resolveConfig(args, os.Getenv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "rollctl: %v\n", err)
		return 1
	}
	logging.ConfigureRuntime()

	client, err := roller.NewClient(cfg.Client)
	if err != nil {
		fmt.Fprintf(stderr, "rollctl: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opsDone, err := startOps(ctx, cfg.OpsAddr, client)
	if err != nil {
		fmt.Fprintf(stderr, "rollctl: %v\n", err)
		return 1
	}

	log.Info().Str("addr", cfg.Client.Address()).Dur("roll_interval", cfg.Client.Session.RollInterval).Msg("rollctl starting")
	runErr := client.Run(ctx)
	// stop cancels ctx, so classify the exit while ctx still tells an
	// interrupt apart from a failure.
	msg, code := exitStatus(ctx, runErr)
	stop()
	if opsDone != nil {
		<-opsDone
	}

	if runErr != nil {
		log.Error().Err(runErr).Msg("session ended")
	}
	fmt.Fprintln(stderr, msg)
	return code
}

// resolveConfig applies defaults, then the TOML file, then env, then flags.
func resolveConfig(args []string, getenv func(string) string, stderr io.Writer) (appConfig, error) {
	fs := flag.NewFlagSet("rollctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a TOML config file")
	host := fs.String("host", "", "dice service host")
	port := fs.Int("port", 0, "dice service TCP port")
	interval := fs.Duration("interval", 0, "delay between rolls")
	opsAddr := fs.String("ops-addr", "", "listen address for /health, /ready and /metrics (empty disables)")
	if err := fs.Parse(args); err != nil {
		return appConfig{}, err
	}
	if fs.NArg() > 0 {
		return appConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return appConfig{}, err
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return appConfig{}, err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Client.Host = *host
		case "port":
			cfg.Client.Port = *port
		case "interval":
			cfg.Client.Session.RollInterval = *interval
		case "ops-addr":
			cfg.OpsAddr = *opsAddr
		}
	})
	return cfg, nil
}

func startOps(ctx context.Context, addr string, client *roller.Client) (<-chan struct{}, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ops listen %s: %w", addr, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := observability.NewOpsServer(client).Serve(ctx, ln); err != nil {
			log.Warn().Err(err).Msg("ops server stopped")
		}
	}()
	return done, nil
}

// exitStatus maps how the session ended to the line shown to the operator
// and the process exit code.
func exitStatus(ctx context.Context, err error) (string, int) {
	switch {
	case ctx.Err() != nil && (err == nil || errors.Is(err, roller.ErrConnectFailed)):
		return "interrupt received, stopping", 0
	case err == nil:
		return "session finished", 0
	case errors.Is(err, roller.ErrConnectFailed):
		return "connection failed - goodbye", 1
	case errors.Is(err, roller.ErrProtocolViolation):
		return "protocol violation, connection closed - goodbye", 1
	case errors.Is(err, roller.ErrConnectionLost):
		return "connection lost - goodbye", 1
	default:
		return fmt.Sprintf("rollctl: %v", err), 1
	}
}
