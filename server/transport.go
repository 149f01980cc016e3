package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/gonoti/proto"
)

type Transport interface {
	Start() error
	OnMessage(func(proto.Message))
	OnConnect(func(Session) error)
	OnDisconnect(func(Session))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string
	Name        string // Human-friendly name, e.g., "TCP Server", "WebSocket Gateway"
	Protocol    string // "tcp" or "websocket"
	Address     string // Bind address, e.g., "0.0.0.0:2017"
	Description string

	Sessions   int  // Current active sessions
	MaxClients int  // Max allowed sessions
	Connected  bool // Whether the transport is currently bound
}

type SessionMetadata struct {
	Id          string
	RemoteAddr  string
	ConnectedAt time.Time
	LastSeen    time.Time
	LoggedIn    bool
	ProductKeys []string
	Prefetch    int
	Transport   Transport
	Mu          sync.RWMutex
}

// Session is one connected notification client.
type Session interface {
	// Send writes v as one JSON frame.
	Send(v any) error
	Meta() *SessionMetadata
	Close() error
}

func generateSessionId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
