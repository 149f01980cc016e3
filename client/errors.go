package client

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig  = errors.New("invalid client config")
	ErrAlreadyStarted = errors.New("client already started")
	ErrNotRunning     = errors.New("client not running")
	ErrDestroyed      = errors.New("client destroyed")
)

// ConnectionError reports a failed open or login handshake.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
