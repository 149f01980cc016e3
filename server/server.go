package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbocsi/gonoti/proto"
)

type NotiServerOptions struct {
	Broker        *Broker          // Optional (defaults to new Broker if nil)
	Registry      *SessionRegistry // Optional (defaults to new Registry if nil)
	Authenticator Authenticator    // Optional (defaults to AllowAll)
	Context       context.Context  // Optional (defaults to context.Background())
}

// NotiServer is a local stand-in for the notification service: it accepts
// logins, records remote control requests and pushes events.
type NotiServer struct {
	options     NotiServerOptions
	coordinator *Coordinator
}

func NewNotiServer(opts NotiServerOptions) *NotiServer {
	if opts.Broker == nil {
		opts.Broker = NewBroker()
	}
	if opts.Registry == nil {
		opts.Registry = NewSessionRegistry()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	return &NotiServer{
		options:     opts,
		coordinator: NewCoordinator(opts.Registry, opts.Broker, opts.Authenticator),
	}
}

// NewNotiServerWithLogging installs a default logger built from logCfg.
func NewNotiServerWithLogging(opts NotiServerOptions, logCfg LogConfig) *NotiServer {
	slog.SetDefault(NewLogger(logCfg))
	return NewNotiServer(opts)
}

func (s *NotiServer) RegisterTransport(t Transport) {
	s.coordinator.RegisterTransport(t)
}

func (s *NotiServer) Coordinator() *Coordinator {
	return s.coordinator
}

// Start runs until SIGINT or SIGTERM.
func (s *NotiServer) Start() error {
	ctx, stop := signal.NotifyContext(s.options.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func (s *NotiServer) Run(ctx context.Context) error {
	return s.coordinator.Start(ctx)
}

// Push sends ev to every session logged in for its product key.
func (s *NotiServer) Push(ev proto.Event) int {
	if ev.Cmd == "" {
		ev.Cmd = proto.CmdEventPush
	}
	if len(s.SessionsFor(ev.ProductKey)) == 0 {
		slog.Debug("No session logged in for product key", "product_key", ev.ProductKey)
		return 0
	}
	return s.options.Broker.Publish(ev.ProductKey, ev)
}

func (s *NotiServer) Received() []ReceivedCommand {
	return s.coordinator.Received()
}

func (s *NotiServer) OnCommand(fn func(ReceivedCommand)) {
	s.coordinator.OnCommand(fn)
}

func (s *NotiServer) Sessions() []Session {
	return s.options.Registry.List()
}

// SessionsFor lists the sessions that would receive a Push for productKey.
func (s *NotiServer) SessionsFor(productKey string) []Session {
	return s.options.Registry.ByProductKey(productKey)
}
