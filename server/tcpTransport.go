package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/gonoti/proto"
)

const defaultMaxFrameLength = 8192

type TCPTransport struct {
	Addr         string
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

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{
		Addr:           addr,
		maxClients:     16,
		maxFrameLength: defaultMaxFrameLength,
		sessions:       make(map[string]Session),
	}
}

// Listen binds the listener without accepting yet. Start calls it when
// needed; calling it first lets callers read the bound address.
func (t *TCPTransport) Listen() error {
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
	t.connected = true
	return nil
}

func (t *TCPTransport) ListenAddr() net.Addr {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *TCPTransport) Start() error {
	if t.onConnect == nil || t.onDisconnect == nil || t.onMessage == nil {
		return fmt.Errorf("the OnConnect, OnDisconnect, or OnMessage function is not defined; this transport is likely being used outside of the server coordinator")
	}
	if err := t.Listen(); err != nil {
		return err
	}
	l := t.listener
	slog.Info("Starting tcp server", "addr", l.Addr().String())
	defer func() {
		l.Close()
		t.lmu.Lock()
		t.connected = false
		t.lmu.Unlock()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		t.cmu.RLock()
		count := len(t.sessions)
		t.cmu.RUnlock()

		if count >= t.maxClients {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go t.handleConnection(conn)
	}
}

func (t *TCPTransport) handleConnection(c net.Conn) {
	ip := c.RemoteAddr().String()
	slog.Info("Client connected", "addr", ip)

	session := NewTCPSession(c, t)

	defer func() {
		t.cmu.Lock()
		delete(t.sessions, session.Id)
		t.cmu.Unlock()

		t.onDisconnect(session)

		c.Close()
		slog.Info("Client disconnected", "addr", ip, "id", session.Id)
	}()

	if err := t.onConnect(session); err != nil {
		slog.Error("Failed to register session", "addr", ip, "error", err.Error())
		return
	}
	t.cmu.Lock()
	t.sessions[session.Id] = session
	t.cmu.Unlock()

	reader := bufio.NewScanner(c)
	reader.Buffer(make([]byte, 0, 4096), t.maxFrameLength+1)

	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg proto.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			slog.Warn("Invalid JSON frame received", "error", err, "data", string(line))
			session.Send(invalidMsg("malformed json"))
			continue
		}
		msg.Sender = session.Id
		session.touch()
		slog.Debug("Frame received", "cmd", msg.Cmd, "sender", msg.Sender, "size", len(line))
		t.onMessage(msg)
	}

	if err := reader.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Warn("Connection error", "addr", ip, "error", err)
	}
}

func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp server", "addr", t.Addr)
	t.lmu.Lock()
	l := t.listener
	t.lmu.Unlock()

	t.cmu.RLock()
	for _, s := range t.sessions {
		s.Close()
	}
	t.cmu.RUnlock()

	if l != nil {
		return l.Close()
	}
	return nil
}

func (t *TCPTransport) OnMessage(fn func(proto.Message)) {
	t.onMessage = fn
}

func (t *TCPTransport) OnConnect(fn func(Session) error) {
	t.onConnect = fn
}

func (t *TCPTransport) OnDisconnect(fn func(Session)) {
	t.onDisconnect = fn
}

func (t *TCPTransport) Meta() TransportMetadata {
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
		ID:          "tcp-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "tcp",
		Address:     addr,
		Sessions:    count,
		MaxClients:  t.maxClients,
		Connected:   connected,
	}
}

func (t *TCPTransport) SetName(name string) {
	t.name = name
}

func (t *TCPTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *TCPTransport) SetMaxFrameLength(n int) {
	t.maxFrameLength = n
}

func (t *TCPTransport) SetDescription(description string) {
	t.description = description
}

func (s *SessionMetadata) touch() {
	s.Mu.Lock()
	s.LastSeen = time.Now()
	s.Mu.Unlock()
}
