package roller

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/rollctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

type ClientConfig struct {
	Host    string
	Port    int
	Session session.Config
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:    "127.0.0.1",
		Port:    35555,
		Session: session.DefaultConfig(),
	}
}

// Address joins Host and Port.
func (c ClientConfig) Address() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}

type Client struct {
	cfg    ClientConfig
	clock  clock.Clock
	driver atomic.Pointer[Driver]
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, ErrAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:   cfg,
		clock: clock.New(),
	}, nil
}

// Snapshot reports the live session, or an idle snapshot before Run dials.
func (c *Client) Snapshot() session.Snapshot {
	if d := c.driver.Load(); d != nil {
		return d.Session().Snapshot()
	}
	return session.Snapshot{State: session.StateIdle}
}

// Run dials the dice service and drives one session until cancellation,
// connection loss, or a protocol violation.
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, c.cfg.Address(), err)
	}
	log.Info().Str("addr", conn.RemoteAddr().String()).Bool("tls", c.cfg.Session.TLS.Enabled).Msg("connected to dice service")

	d := NewDriver(c.cfg.Session, c.clock)
	c.driver.Store(d)
	return d.Run(ctx, conn)
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address())
	if err != nil {
		return nil, err
	}
	if !c.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) clientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.cfg.Session.TLS.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(c.cfg.Session.TLS.ServerName)
	if serverName == "" {
		serverName = strings.TrimSpace(c.cfg.Host)
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.cfg.Session.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("roller: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
