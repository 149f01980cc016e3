package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketTransport carries one frame per text message.
type WebSocketTransport struct {
	Path string // request path, "/" when empty
}

func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{Path: "/"}
}

func (t *WebSocketTransport) Open(ctx context.Context, addr string, opts ConnOptions) (Conn, error) {
	u, err := t.url(addr)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	if opts.MaxFrameLength > 0 {
		conn.SetReadLimit(int64(opts.MaxFrameLength))
	}
	return newWSConn(conn, opts), nil
}

func (t *WebSocketTransport) url(addr string) (*url.URL, error) {
	// If no scheme is provided, assume ws://
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "tcp":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("unsupported WebSocket scheme %q", u.Scheme)
	}
	if u.Path == "" {
		u.Path = t.Path
		if u.Path == "" {
			u.Path = "/"
		}
	}
	return u, nil
}

type wsConn struct {
	*bufferedConn
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn, opts ConnOptions) *wsConn {
	c := &wsConn{conn: conn}
	c.bufferedConn = newBufferedConn(opts, c.writeFrame, c.closeConn)
	go c.readLoop(opts)
	return c
}

func (c *wsConn) writeFrame(frame string, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, []byte(strings.TrimSuffix(frame, "\n")))
}

func (c *wsConn) closeConn() error {
	deadline := time.Now().Add(time.Second)
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		// Log error but don't return it - we still want to close the connection
		c.logger.Debug("Failed to send close message", "error", err)
	}
	return c.conn.Close()
}

func (c *wsConn) readLoop(opts ConnOptions) {
	defer c.fail()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				c.logger.Warn("Inbound frame exceeds max frame length", "remote_addr", c.conn.RemoteAddr(), "max_frame_length", opts.MaxFrameLength)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				c.logger.Warn("WebSocket connection error", "remote_addr", c.conn.RemoteAddr(), "error", err)
			default:
				c.logger.Debug("WebSocket connection closed", "remote_addr", c.conn.RemoteAddr(), "error", err)
			}
			return
		}
		if opts.OnFrame != nil {
			opts.OnFrame(string(data))
		}
	}
}

var (
	_ Conn      = (*wsConn)(nil)
	_ Transport = (*WebSocketTransport)(nil)
)
