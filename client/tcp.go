package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

type TCPTransport struct{}

func NewTCPTransport() *TCPTransport {
	return &TCPTransport{}
}

func (t *TCPTransport) Open(ctx context.Context, addr string, opts ConnOptions) (Conn, error) {
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newStreamConn(conn, opts), nil
}

// streamConn frames a byte stream on '\n'.
type streamConn struct {
	*bufferedConn
	conn net.Conn
}

func newStreamConn(conn net.Conn, opts ConnOptions) *streamConn {
	c := &streamConn{conn: conn}
	c.bufferedConn = newBufferedConn(opts, c.writeFrame, conn.Close)
	go c.readLoop(opts)
	return c
}

func (c *streamConn) writeFrame(frame string, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, frame)
	return err
}

func (c *streamConn) readLoop(opts ConnOptions) {
	defer c.fail()

	maxLen := opts.MaxFrameLength
	if maxLen <= 0 {
		maxLen = bufio.MaxScanTokenSize
	}
	scanner := bufio.NewScanner(c.conn)
	// the scanner needs room for the delimiter on top of the frame itself
	scanner.Buffer(make([]byte, 0, min(maxLen+1, 4096)), maxLen+1)

	for scanner.Scan() {
		if opts.OnFrame != nil {
			opts.OnFrame(scanner.Text())
		}
	}

	err := scanner.Err()
	switch {
	case err == nil, errors.Is(err, net.ErrClosed):
		c.logger.Debug("Connection closed by peer", "remote_addr", c.conn.RemoteAddr())
	case errors.Is(err, bufio.ErrTooLong):
		c.logger.Warn("Inbound frame exceeds max frame length", "remote_addr", c.conn.RemoteAddr(), "max_frame_length", maxLen)
	default:
		c.logger.Warn("Connection read error", "remote_addr", c.conn.RemoteAddr(), "error", err)
	}
}

func (c *streamConn) String() string {
	return fmt.Sprintf("tcp(%s)", c.conn.RemoteAddr())
}

var (
	_ Conn      = (*streamConn)(nil)
	_ Transport = (*TCPTransport)(nil)
)
