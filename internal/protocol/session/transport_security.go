package session

import (
	"errors"
	"strings"
)

var (
	ErrTLSCAFileRequired     = errors.New("session: tls ca file required")
	ErrTLSSettingsWithoutTLS = errors.New("session: tls settings given but tls disabled")
	ErrInvalidRollInterval   = errors.New("session: roll interval must be positive")
	ErrInvalidReadBufferSize = errors.New("session: read buffer size must be positive")
	ErrTLSInsecureSkipWithCA = errors.New("session: insecure skip verify conflicts with ca file")
)

// ValidateClientTransport checks the pacing and TLS settings a client dials with.
func (c Config) ValidateClientTransport() error {
	if c.RollInterval <= 0 {
		return ErrInvalidRollInterval
	}
	if c.ReadBufferSize <= 0 {
		return ErrInvalidReadBufferSize
	}
	caFile := strings.TrimSpace(c.TLS.CAFile)
	if !c.TLS.Enabled {
		if caFile != "" || c.TLS.InsecureSkipVerify {
			return ErrTLSSettingsWithoutTLS
		}
		return nil
	}
	if caFile == "" && !c.TLS.InsecureSkipVerify {
		return ErrTLSCAFileRequired
	}
	if caFile != "" && c.TLS.InsecureSkipVerify {
		return ErrTLSInsecureSkipWithCA
	}
	return nil
}
