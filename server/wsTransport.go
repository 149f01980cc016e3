package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/gonoti/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

type WSTransport struct {
	Addr         string
	Path         string
	server       *http.Server
	listener     net.Listener
	lmu          sync.Mutex
	onMessage    func(proto.Message)
	onConnect    func(Session) error
	onDisconnect func(Session)

	name        string
	description string
	sessions    map[string]Session
	cmu         sync.RWMutex

	maxClients     int
	maxFrameLength int
	connected      bool
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{
		Addr:           addr,
		Path:           "/",
		maxClients:     16,
		maxFrameLength: defaultMaxFrameLength,
		sessions:       make(map[string]Session),
	}
}

func (t *WSTransport) Listen() error {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l
	return nil
}

func (t *WSTransport) ListenAddr() net.Addr {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Handler serves the upgrade endpoint. Start mounts it at Path.
func (t *WSTransport) Handler() http.Handler {
	return http.HandlerFunc(t.handleWebSocket)
}

func (t *WSTransport) Start() error {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined; this transport is likely being used outside of the server coordinator")
	}
	if err := t.Listen(); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(t.Path, t.Handler())

	t.lmu.Lock()
	l := t.listener
	t.server = &http.Server{Handler: mux}
	srv := t.server
	t.connected = true
	t.lmu.Unlock()

	slog.Info("Starting WebSocket server", "addr", l.Addr().String(), "path", t.Path)
	err := srv.Serve(l)

	t.lmu.Lock()
	t.connected = false
	t.lmu.Unlock()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t.cmu.RLock()
	count := len(t.sessions)
	t.cmu.RUnlock()

	if count >= t.maxClients {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	conn.SetReadLimit(int64(t.maxFrameLength))

	t.handleConnection(conn, r.RemoteAddr)
}

func (t *WSTransport) handleConnection(conn *websocket.Conn, remoteAddr string) {
	slog.Info("WebSocket client connected", "addr", remoteAddr)

	session := NewWSSession(conn, remoteAddr, t)

	defer func() {
		t.cmu.Lock()
		delete(t.sessions, session.Id)
		t.cmu.Unlock()

		t.onDisconnect(session)

		conn.Close()
		slog.Info("WebSocket client disconnected", "addr", remoteAddr, "id", session.Id)
	}()

	if err := t.onConnect(session); err != nil {
		slog.Error("Failed to register WebSocket session", "addr", remoteAddr, "error", err.Error())
		return
	}

	t.cmu.Lock()
	t.sessions[session.Id] = session
	t.cmu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket connection error", "addr", remoteAddr, "error", err)
			}
			break
		}

		var msg proto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid JSON frame received", "error", err, "data", string(data))
			session.Send(invalidMsg("malformed json"))
			continue
		}

		msg.Sender = session.Id
		session.touch()
		slog.Debug("WebSocket frame received", "cmd", msg.Cmd, "sender", msg.Sender, "size", len(data))
		t.onMessage(msg)
	}
}

func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)

	t.cmu.RLock()
	for _, s := range t.sessions {
		s.Close()
	}
	t.cmu.RUnlock()

	t.lmu.Lock()
	defer t.lmu.Unlock()
	t.connected = false
	if t.server != nil {
		return t.server.Close()
	}
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *WSTransport) OnMessage(fn func(proto.Message)) {
	t.onMessage = fn
}

func (t *WSTransport) OnConnect(fn func(Session) error) {
	t.onConnect = fn
}

func (t *WSTransport) OnDisconnect(fn func(Session)) {
	t.onDisconnect = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	t.cmu.RLock()
	count := len(t.sessions)
	t.cmu.RUnlock()

	t.lmu.Lock()
	connected := t.connected
	addr := t.Addr
	if t.listener != nil {
		addr = t.listener.Addr().String()
	}
	t.lmu.Unlock()

	return TransportMetadata{
		ID:          "ws-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     addr,
		Sessions:    count,
		MaxClients:  t.maxClients,
		Connected:   connected,
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *WSTransport) SetMaxFrameLength(n int) {
	t.maxFrameLength = n
}

func (t *WSTransport) SetDescription(description string) {
	t.description = description
}
