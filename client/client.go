package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mbocsi/gonoti/proto"
	"github.com/prometheus/client_golang/prometheus"
)

// EventKind names a lifecycle event delivered to a Listener.
type EventKind int

const (
	EventInit EventKind = iota
	EventStart
	EventRestart
	EventDestroy
)

func (k EventKind) String() string {
	switch k {
	case EventInit:
		return "init"
	case EventStart:
		return "start"
	case EventRestart:
		return "restart"
	case EventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Listener receives lifecycle events synchronously.
type Listener func(EventKind)

// Client keeps a connection to the notification service alive, writes queued
// commands to it and collects pushed events for the caller.
type Client struct {
	id         string
	cfg        Config
	transport  Transport
	codec      proto.Codec
	logger     *slog.Logger
	listener   Listener
	registerer prometheus.Registerer
	metrics    *metrics

	sup     *supervisor
	session atomic.Pointer[session]

	lifeMu     sync.Mutex   // serializes Start and Destroy
	gate       sync.RWMutex // held shared by enqueuers, exclusively once by Destroy
	destroying atomic.Bool
}

// session holds the queues and the push loop of one Start.
type session struct {
	out *outboundQueue
	in  *inboundQueue

	abort     chan struct{} // closed when destroy begins
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{} // closed when the push loop exits
	destroyed bool          // guarded by Client.lifeMu
}

func New(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		id:        uuid.NewString(),
		cfg:       cfg,
		transport: NewTCPTransport(),
		codec:     proto.JSONCodec{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	c.metrics = newMetrics(c)
	c.sup = newSupervisor(c, ConnOptions{
		MaxFrameLength: c.cfg.MaxFrameLength,
		WriteHighWater: c.cfg.WriteHighWater,
		WriteTimeout:   c.cfg.WriteTimeout,
		DialTimeout:    c.cfg.DialTimeout,
		Logger:         c.logger,
		OnFrame:        c.onFrame,
	})
	if c.registerer != nil {
		if err := c.metrics.register(c.registerer); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

func (c *Client) ID() string { return c.id }
func (c *Client) Config() Config { return c.cfg }
func (c *Client) State() RunState { return c.sup.state.Load() }
func (c *Client) IsRunning() bool { return c.State() == StateRunning }
func (c *Client) Login() proto.Login { return c.sup.Login() }

// SetLogin replaces the login sent on the next start or restart. An open
// connection is not affected.
func (c *Client) SetLogin(login proto.Login) {
	c.sup.setLogin(login)
}

// Start creates fresh queues, opens the connection and starts the push loop.
// ctx bounds the initial open and login only. A failed open leaves the client
// stopped and returns a *ConnectionError.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if st := c.State(); st != StateStopped && st != StateDestroyed {
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, st)
	}
	if err := c.sup.Login().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := c.init()
	c.destroying.Store(false)

	if err := c.sup.Start(ctx); err != nil {
		s.cancel()
		close(s.done)
		c.logger.Error("Failed to start client", "addr", c.cfg.Addr(), "error", err)
		return err
	}

	go c.pushLoop(s)
	c.notify(EventStart)
	c.logger.Info("Client started", "addr", c.cfg.Addr(), "client_id", c.id)
	return nil
}

// init must be called with lifeMu held.
func (c *Client) init() *session {
	if prev := c.session.Load(); prev != nil {
		prev.in.close()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		out:    newOutboundQueue(c.cfg.OutboundCapacity),
		in:     newInboundQueue(c.cfg.InboundCapacity),
		abort:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.session.Store(s)
	c.notify(EventInit)
	return s
}

// Restart reconnects and re-sends the login. Queued commands are kept. If the
// client is not running afterwards it is destroyed.
func (c *Client) Restart() {
	s := c.session.Load()
	if s == nil || c.destroying.Load() {
		return
	}
	ok := c.sup.Restart(s.ctx, s.abort)
	c.metrics.restart(ok)
	c.notify(EventRestart)
	if !c.IsRunning() {
		c.logger.Error("Restart left client stopped, destroying", "addr", c.cfg.Addr())
		c.destroySession(context.Background(), s)
	}
}

// Destroy stops accepting commands, waits for the outbound queue to drain,
// then closes the connection. Cancelling ctx abandons the drain; destruction
// still completes and ctx.Err() is returned.
func (c *Client) Destroy(ctx context.Context) error {
	s := c.session.Load()
	if s == nil {
		c.sup.Destroy()
		return nil
	}
	return c.destroySession(ctx, s)
}

func (c *Client) destroySession(ctx context.Context, s *session) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if s.destroyed {
		return nil
	}
	s.destroyed = true
	current := c.session.Load() == s

	if current {
		c.destroying.Store(true)
	}
	// also ends any reconnect backoff in the push loop
	close(s.abort)
	// wait out enqueuers that saw the flag unset
	c.gate.Lock()
	c.gate.Unlock()

	err := c.drain(ctx, s)

	s.cancel()
	if current {
		c.sup.Destroy()
	}
	s.in.close()
	if !current {
		c.logger.Debug("Stale session torn down", "addr", c.cfg.Addr())
		return err
	}
	c.notify(EventDestroy)
	c.logger.Info("Client destroyed", "addr", c.cfg.Addr(), "client_id", c.id)
	return err
}

func (c *Client) drain(ctx context.Context, s *session) error {
	if s.out.Len() == 0 {
		return nil
	}
	c.logger.Info("Draining outbound queue", "pending", s.out.Len())

	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()
	for s.out.Len() > 0 {
		select {
		case <-ctx.Done():
			c.logger.Warn("Drain abandoned", "pending", s.out.Len(), "error", ctx.Err())
			return ctx.Err()
		case <-s.done:
			c.logger.Warn("Drain abandoned, push loop stopped", "pending", s.out.Len())
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// TrySend queues cmd for sending. It returns false without blocking when the
// client is not running or is being destroyed, and otherwise blocks only
// while the outbound queue is full.
func (c *Client) TrySend(cmd proto.Command) bool {
	if cmd == nil || c.destroying.Load() {
		return false
	}
	c.gate.RLock()
	defer c.gate.RUnlock()

	s := c.session.Load()
	if s == nil || c.destroying.Load() || !c.IsRunning() {
		return false
	}
	return s.out.put(proto.CloneCommand(cmd), s.abort)
}

// Receive blocks until an event is available. It returns false once the
// client is destroyed or if it was never started.
func (c *Client) Receive() (string, bool) {
	frame, err := c.ReceiveContext(context.Background())
	return frame, err == nil
}

func (c *Client) ReceiveContext(ctx context.Context) (string, error) {
	s := c.session.Load()
	if s == nil {
		return "", ErrNotRunning
	}
	return s.in.pop(ctx)
}

// HasPending reports whether an event is waiting in the inbound queue. After
// Destroy it is always false, even though Receive then returns immediately
// with ErrDestroyed.
func (c *Client) HasPending() bool {
	s := c.session.Load()
	return s != nil && s.in.Len() > 0
}

// Dispatch pushes a decoded event into the inbound queue, blocking while it
// is full. Transports call it through the frame callback.
func (c *Client) Dispatch(frame string) bool {
	s := c.session.Load()
	if s == nil {
		return false
	}
	if !s.in.push(frame) {
		return false
	}
	c.metrics.framesReceived.Inc()
	return true
}

func (c *Client) onFrame(frame string) {
	event, err := c.codec.Decode(frame)
	if err != nil {
		c.metrics.framesInvalid.Inc()
		c.logger.Warn("Dropping invalid frame", "error", err, "length", len(frame))
		return
	}
	if !c.Dispatch(event) {
		c.logger.Debug("Dropping frame after destroy", "length", len(frame))
	}
}

func (c *Client) pushLoop(s *session) {
	var held proto.Command
	for s.ctx.Err() == nil && c.State().active() {
		conn := c.sup.Conn()
		if conn == nil || !conn.IsOpen() || !conn.IsWritable() {
			c.logger.Warn("Connection unhealthy, restarting",
				"addr", c.cfg.Addr(),
				"open", conn != nil && conn.IsOpen(),
				"writable", conn != nil && conn.IsWritable(),
			)
			restarted, ok := c.sup.restartStale(s.ctx, s.abort, conn)
			if restarted {
				c.metrics.restart(ok)
				c.notify(EventRestart)
			}
			if !ok {
				break
			}
			continue
		}

		if held == nil {
			cmd, ok := s.out.take(s.ctx)
			if !ok {
				break
			}
			held = cmd
			// health may have changed while waiting
			continue
		}

		c.write(conn, held)
		held = nil
		s.out.done()
	}
	if held != nil {
		s.out.done()
	}
	close(s.done)

	if s.ctx.Err() == nil {
		c.logger.Error("Push loop stopped, destroying client", "addr", c.cfg.Addr(), "state", c.State())
		c.destroySession(context.Background(), s)
	}
}

// write sends one command. Failures are logged and the command is dropped.
func (c *Client) write(conn Conn, cmd proto.Command) {
	frame, err := c.codec.Encode(cmd)
	if err != nil {
		c.metrics.framesSkipped.Inc()
		c.logger.Warn("Failed to encode command", "cmd", cmd.Cmd(), "error", err)
		return
	}
	if frame == "" || frame == proto.NullFrame {
		c.metrics.framesSkipped.Inc()
		c.logger.Debug("Skipping empty frame", "cmd", cmd.Cmd())
		return
	}
	if err := conn.Send(frame + "\n"); err != nil {
		c.metrics.sendErrors.Inc()
		level := slog.LevelWarn
		if errors.Is(err, ErrConnClosed) {
			level = slog.LevelInfo
		}
		c.logger.Log(context.Background(), level, "Failed to send frame", "cmd", cmd.Cmd(), "error", err)
		return
	}
	c.metrics.framesSent.Inc()
	c.sup.markHealthy()
}

func (c *Client) notify(kind EventKind) {
	c.logger.Debug("Lifecycle event", "event", kind.String())
	if c.listener != nil {
		c.listener(kind)
	}
}

func (c *Client) outboundLen() int {
	if s := c.session.Load(); s != nil {
		return s.out.Len()
	}
	return 0
}

func (c *Client) inboundLen() int {
	if s := c.session.Load(); s != nil {
		return s.in.Len()
	}
	return 0
}
