package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrConnClosed  = errors.New("connection closed")
	ErrNotWritable = errors.New("connection not writable")
)

// bufferedConn owns the write side shared by the TCP and WebSocket
// transports: frames are queued on a bounded channel and written by a single
// goroutine. A full channel is reported as not writable.
type bufferedConn struct {
	write        func(frame string, deadline time.Time) error
	closeFn      func() error
	writeTimeout time.Duration
	logger       *slog.Logger

	frames chan string
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newBufferedConn(opts ConnOptions, write func(string, time.Time) error, closeFn func() error) *bufferedConn {
	highWater := opts.WriteHighWater
	if highWater <= 0 {
		highWater = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &bufferedConn{
		write:        write,
		closeFn:      closeFn,
		writeTimeout: opts.WriteTimeout,
		logger:       logger,
		frames:       make(chan string, highWater),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *bufferedConn) IsOpen() bool {
	select {
	case <-c.quit:
		return false
	default:
		return true
	}
}

func (c *bufferedConn) IsWritable() bool {
	return c.IsOpen() && len(c.frames) < cap(c.frames)
}

func (c *bufferedConn) Send(frame string) error {
	if !c.IsOpen() {
		return ErrConnClosed
	}
	select {
	case c.frames <- frame:
		return nil
	case <-c.quit:
		return ErrConnClosed
	default:
		return ErrNotWritable
	}
}

// Close stops accepting frames, flushes what is already queued (each write
// bounded by the write timeout) and closes the underlying connection.
func (c *bufferedConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.quit)
		<-c.done
		err = c.closeFn()
	})
	return err
}

// fail closes the connection after a read or write error.
func (c *bufferedConn) fail() {
	c.once.Do(func() {
		close(c.quit)
		err := c.closeFn()
		<-c.done
		if err != nil {
			c.logger.Debug("Close after failure", "error", err)
		}
	})
}

func (c *bufferedConn) writeLoop() {
	defer close(c.done)
	for {
		select {
		case frame := <-c.frames:
			if err := c.write(frame, c.deadline()); err != nil {
				c.logger.Warn("Write failed", "error", err)
				go c.fail()
				return
			}
		case <-c.quit:
			for {
				select {
				case frame := <-c.frames:
					if err := c.write(frame, c.deadline()); err != nil {
						c.logger.Debug("Dropped queued frames on close", "error", err, "remaining", len(c.frames))
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *bufferedConn) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}
