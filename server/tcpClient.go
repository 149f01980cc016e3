package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"
)

type TCPSession struct {
	SessionMetadata
	conn         net.Conn
	writeTimeout time.Duration
	wmu          sync.Mutex
}

func NewTCPSession(conn net.Conn, t Transport) *TCPSession {
	now := time.Now()
	return &TCPSession{
		conn:         conn,
		writeTimeout: 10 * time.Second,
		SessionMetadata: SessionMetadata{
			Id:          generateSessionId("tcp"),
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: now,
			LastSeen:    now,
			Transport:   t,
		},
	}
}

func (c *TCPSession) Send(v any) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return err
	}
	jsonData = append(jsonData, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	_, err = c.conn.Write(jsonData)
	slog.Debug("Sent frame", "to", c.Id, "size", len(jsonData))
	return err
}

func (c *TCPSession) Meta() *SessionMetadata {
	return &c.SessionMetadata
}

func (c *TCPSession) Close() error {
	return c.conn.Close()
}
