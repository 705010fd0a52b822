package roller

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/rollctl/internal/protocol/session"
	"github.com/danmuck/rollctl/internal/testutil/testlog"
	"github.com/danmuck/rollctl/internal/testutil/tlstest"
)

// serveDice accepts one connection, answers hello and rolls the way the dice
// service does, and hangs up after maxRolls results. It returns every line
// the client sent.
func serveDice(ln net.Listener, maxRolls int) ([]string, error) {
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var lines []string
	reader := bufio.NewReader(conn)
	rolls := 0
	for {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			return lines, err
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return lines, nil
		}
		lines = append(lines, line)
		switch strings.TrimSpace(line) {
		case "hello":
			_, err = conn.Write([]byte("ok\n"))
		case "roll":
			rolls++
			_, err = fmt.Fprintf(conn, "won:result=%d;\n", rolls%6+1)
		default:
			_, err = conn.Write([]byte("error:reason=unknown command;\n"))
		}
		if err != nil {
			// The client hung up between our read and write.
			return lines, nil
		}
		if rolls >= maxRolls {
			return lines, nil
		}
	}
}

type serveResult struct {
	lines []string
	err   error
}

func listenerClientConfig(t *testing.T, ln net.Listener) ClientConfig {
	t.Helper()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	cfg := DefaultClientConfig()
	cfg.Host = host
	if _, err := fmt.Sscanf(port, "%d", &cfg.Port); err != nil {
		t.Fatalf("parse port: %v", err)
	}
	cfg.Session.RollInterval = 100 * time.Millisecond
	cfg.Session.ConnectTimeout = 500 * time.Millisecond
	return cfg
}

func TestClientRunsUntilServerHangsUp(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan serveResult, 1)
	go func() {
		lines, err := serveDice(ln, 3)
		done <- serveResult{lines: lines, err: err}
	}()

	client, err := NewClient(listenerClientConfig(t, ln))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = client.Run(ctx)
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("server err: %v", res.err)
	}
	want := []string{"hello\n", "roll\n", "roll\n", "roll\n"}
	if strings.Join(res.lines, "") != strings.Join(want, "") {
		t.Fatalf("server saw %q want %q", res.lines, want)
	}

	snap := client.Snapshot()
	if snap.RollsSent != 3 || snap.Results != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.LastResult.Matched || snap.LastResult.Value != "4" {
		t.Fatalf("unexpected last result: %+v", snap.LastResult)
	}
}

func TestClientCancelStopsRolling(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan serveResult, 1)
	go func() {
		lines, err := serveDice(ln, 1<<30)
		done <- serveResult{lines: lines, err: err}
	}()

	cfg := listenerClientConfig(t, ln)
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for client.Snapshot().Results < 2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("client never received results: %+v", client.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("cancelled run returned err: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not stop")
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("server err: %v", res.err)
	}
	if len(res.lines) < 3 || res.lines[0] != "hello\n" {
		t.Fatalf("unexpected server lines: %q", res.lines)
	}
	for _, line := range res.lines[1:] {
		if line != "roll\n" {
			t.Fatalf("unexpected line after hello: %q", line)
		}
	}
}

func TestClientConnectFailure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := listenerClientConfig(t, ln)
	_ = ln.Close()

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Run(ctx); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if snap := client.Snapshot(); snap.State != session.StateIdle {
		t.Fatalf("unexpected snapshot after failed dial: %+v", snap)
	}
}

func TestClientDialCancelledKeepsCause(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	client, err := NewClient(listenerClientConfig(t, ln))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = client.Run(ctx)
	if !errors.Is(err, ErrConnectFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrConnectFailed wrapping context.Canceled, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultClientConfig()
	cfg.Host = " "
	if _, err := NewClient(cfg); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}

	cfg = DefaultClientConfig()
	cfg.Port = 70000
	if _, err := NewClient(cfg); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired for port, got %v", err)
	}

	cfg = DefaultClientConfig()
	cfg.Session.TLS.Enabled = true
	if _, err := NewClient(cfg); !errors.Is(err, session.ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg = DefaultClientConfig()
	if got := cfg.Address(); got != "127.0.0.1:35555" {
		t.Fatalf("unexpected default address: %q", got)
	}
}

func TestClientOverTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "dice-ca")
	ln := ca.ListenLoopback(t, dir)
	done := make(chan serveResult, 1)
	go func() {
		lines, err := serveDice(ln, 2)
		done <- serveResult{lines: lines, err: err}
	}()

	cfg := listenerClientConfig(t, ln)
	cfg.Session.TLS = session.TLSConfig{
		Enabled: true,
		CAFile:  ca.CAFile(),
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Run(ctx); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("server err: %v", res.err)
	}
	if len(res.lines) != 3 || res.lines[0] != "hello\n" {
		t.Fatalf("unexpected server lines: %q", res.lines)
	}
}

func TestClientTLSRejectsUnknownAuthority(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	serverCA := tlstest.NewAuthority(t, dir, "server-ca")
	otherCA := tlstest.NewAuthority(t, t.TempDir(), "other-ca")
	ln := serverCA.ListenLoopback(t, dir)
	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.(*tls.Conn).Handshake()
		_ = conn.Close()
	}()

	cfg := listenerClientConfig(t, ln)
	cfg.Session.TLS = session.TLSConfig{Enabled: true, CAFile: otherCA.CAFile()}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Run(ctx); !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
}
