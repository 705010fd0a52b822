package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/rollctl/internal/roller"
)

const (
	envHost         = "ROLLCTL_HOST"
	envPort         = "ROLLCTL_PORT"
	envRollInterval = "ROLLCTL_ROLL_INTERVAL"
	envOpsAddr      = "ROLLCTL_OPS_ADDR"
)

var errConflictingRollInterval = errors.New("set only one of roll_interval and roll_interval_ms")

type appConfig struct {
	Client  roller.ClientConfig
	OpsAddr string
}

func defaultAppConfig() appConfig {
	return appConfig{
		Client: roller.DefaultClientConfig(),
	}
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileConfig struct {
	Host             string  `toml:"host"`
	Port             int     `toml:"port"`
	RollInterval     string  `toml:"roll_interval"`
	RollIntervalMS   int64   `toml:"roll_interval_ms"`
	ConnectTimeout   string  `toml:"connect_timeout"`
	HandshakeTimeout string  `toml:"handshake_timeout"`
	WriteTimeout     string  `toml:"write_timeout"`
	OpsAddr          string  `toml:"ops_addr"`
	TLS              fileTLS `toml:"tls"`
}

// loadConfig returns defaults overlaid with the TOML file at path. An empty
// path yields the defaults.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return appConfig{}, fmt.Errorf("load rollctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return appConfig{}, fmt.Errorf("load rollctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("roll_interval") && meta.IsDefined("roll_interval_ms") {
		return appConfig{}, fmt.Errorf("load rollctl config: %w", errConflictingRollInterval)
	}

	if meta.IsDefined("host") {
		cfg.Client.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Client.Port = raw.Port
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{key: "roll_interval", raw: raw.RollInterval, dst: &cfg.Client.Session.RollInterval},
		{key: "connect_timeout", raw: raw.ConnectTimeout, dst: &cfg.Client.Session.ConnectTimeout},
		{key: "handshake_timeout", raw: raw.HandshakeTimeout, dst: &cfg.Client.Session.HandshakeTimeout},
		{key: "write_timeout", raw: raw.WriteTimeout, dst: &cfg.Client.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("roll_interval_ms") {
		cfg.Client.Session.RollInterval = time.Duration(raw.RollIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("ops_addr") {
		cfg.OpsAddr = strings.TrimSpace(raw.OpsAddr)
	}

	if meta.IsDefined("tls", "enabled") {
		cfg.Client.Session.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Client.Session.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		cfg.Client.Session.TLS.ServerName = strings.TrimSpace(raw.TLS.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		cfg.Client.Session.TLS.InsecureSkipVerify = raw.TLS.InsecureSkipVerify
	}

	return cfg, nil
}

// applyEnv overlays ROLLCTL_* variables read through getenv.
func applyEnv(cfg *appConfig, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(envHost)); v != "" {
		cfg.Client.Host = v
	}
	if v := strings.TrimSpace(getenv(envPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envPort, err)
		}
		cfg.Client.Port = port
	}
	if v := strings.TrimSpace(getenv(envRollInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envRollInterval, err)
		}
		cfg.Client.Session.RollInterval = d
	}
	if v := strings.TrimSpace(getenv(envOpsAddr)); v != "" {
		cfg.OpsAddr = v
	}
	return nil
}
