package roller

import "errors"

var (
	ErrAddressRequired   = errors.New("roller: server address required")
	ErrConnectFailed     = errors.New("roller: connect failed")
	ErrConnectionLost    = errors.New("roller: connection lost")
	ErrProtocolViolation = errors.New("roller: protocol violation")
)
