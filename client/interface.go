package client

import (
	"context"
	"log/slog"
	"time"
)

// Transport opens connections to the notification service.
type Transport interface {
	Open(ctx context.Context, addr string, opts ConnOptions) (Conn, error)
}

// Conn is one live connection. Health is reported by the transport; the
// client never infers liveness from protocol traffic.
type Conn interface {
	IsOpen() bool
	IsWritable() bool
	// Send queues one newline-terminated frame for writing.
	Send(frame string) error
	Close() error
}

type ConnOptions struct {
	MaxFrameLength int
	WriteHighWater int
	WriteTimeout   time.Duration
	DialTimeout    time.Duration
	Logger         *slog.Logger

	// OnFrame is called from the connection's reader goroutine for every
	// inbound frame, without the delimiter.
	OnFrame func(frame string)
}
