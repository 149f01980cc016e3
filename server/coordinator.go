package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mbocsi/gonoti/proto"
)

// Authenticator accepts or rejects one login account.
type Authenticator func(account proto.LoginAccount) error

var ErrBadCredentials = errors.New("invalid auth id or secret")

func AllowAll(proto.LoginAccount) error { return nil }

// StaticCredentials accepts accounts whose auth id maps to their secret.
func StaticCredentials(creds map[string]string) Authenticator {
	return func(a proto.LoginAccount) error {
		secret, ok := creds[a.AuthID]
		if !ok || secret != a.AuthSecret {
			return ErrBadCredentials
		}
		return nil
	}
}

// ReceivedCommand is a remote control request accepted from a session.
type ReceivedCommand struct {
	SessionID  string
	Command    proto.RemoteControl
	ReceivedAt time.Time
}

type Coordinator struct {
	Registry   *SessionRegistry
	Broker     *Broker
	Auth       Authenticator
	Transports []Transport

	mu        sync.Mutex
	received  []ReceivedCommand
	onCommand func(ReceivedCommand)
}

func NewCoordinator(registry *SessionRegistry, broker *Broker, auth Authenticator) *Coordinator {
	if auth == nil {
		auth = AllowAll
	}
	return &Coordinator{Registry: registry, Broker: broker, Auth: auth}
}

func (c *Coordinator) Start(ctx context.Context) error {
	for _, t := range c.Transports {
		go func(t Transport) {
			if err := t.Start(); err != nil {
				slog.Error("Transport stopped", "transport", t.Meta().ID, "error", err.Error())
			}
		}(t)
	}

	<-ctx.Done()
	slog.Info("Shutting down transports and server")

	for _, t := range c.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	return nil
}

func (c *Coordinator) RegisterTransport(t Transport) {
	t.OnMessage(c.Handle)
	t.OnConnect(c.RegisterSession)
	t.OnDisconnect(c.UnregisterSession)
	c.Transports = append(c.Transports, t)
}

func (c *Coordinator) RegisterSession(session Session) error {
	c.Registry.Store(session)
	slog.Info("Registered session", "id", session.Meta().Id, "remote_addr", session.Meta().RemoteAddr)
	return nil
}

func (c *Coordinator) UnregisterSession(session Session) {
	c.Broker.UnsubscribeAll(session)
	c.Registry.Delete(session.Meta().Id)
}

func (c *Coordinator) OnCommand(fn func(ReceivedCommand)) {
	c.mu.Lock()
	c.onCommand = fn
	c.mu.Unlock()
}

func (c *Coordinator) Received() []ReceivedCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ReceivedCommand(nil), c.received...)
}

func (c *Coordinator) record(rc ReceivedCommand) {
	c.mu.Lock()
	c.received = append(c.received, rc)
	fn := c.onCommand
	c.mu.Unlock()

	if fn != nil {
		fn(rc)
	}
}
