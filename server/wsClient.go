package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type WSSession struct {
	SessionMetadata
	conn *websocket.Conn
	wmu  sync.Mutex
}

func NewWSSession(conn *websocket.Conn, remoteAddr string, t Transport) *WSSession {
	now := time.Now()
	return &WSSession{
		conn: conn,
		SessionMetadata: SessionMetadata{
			Id:          generateSessionId("ws"),
			RemoteAddr:  remoteAddr,
			ConnectedAt: now,
			LastSeen:    now,
			Transport:   t,
		},
	}
}

func (c *WSSession) Send(v any) error {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
		return err
	}

	slog.Debug("Sent WebSocket frame", "to", c.Id, "size", len(jsonData))
	return nil
}

func (c *WSSession) Meta() *SessionMetadata {
	return &c.SessionMetadata
}

func (c *WSSession) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
