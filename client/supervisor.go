package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mbocsi/gonoti/proto"
)

// supervisor owns the connection and the RunState. Open, restart and close
// sequences are serialized by mu; state changes go through the state machine
// so readers never need the lock.
type supervisor struct {
	addr      string
	transport Transport
	codec     proto.Codec
	opts      ConnOptions
	logger    *slog.Logger
	metrics   *metrics

	state stateMachine

	mu       sync.Mutex
	backoff  backoff.BackOff // nil when disabled
	attempts int             // consecutive re-opens without a healthy connection
	healthy  atomic.Bool     // a frame went out on the current connection

	connMu sync.RWMutex
	conn   Conn
	login  proto.Login
}

func newSupervisor(c *Client, opts ConnOptions) *supervisor {
	return &supervisor{
		addr:      c.cfg.Addr(),
		transport: c.transport,
		codec:     c.codec,
		opts:      opts,
		logger:    c.logger,
		metrics:   c.metrics,
		backoff:   c.cfg.Backoff.newBackOff(),
		login:     c.cfg.Login.Clone(),
	}
}

// Conn may return a handle that is already closed while a restart is under
// way. Callers re-check its health before every write.
func (s *supervisor) Conn() Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *supervisor) Login() proto.Login {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.login.Clone()
}

func (s *supervisor) setLogin(login proto.Login) {
	login = login.Clone()
	s.connMu.Lock()
	s.login = login
	s.connMu.Unlock()
}

func (s *supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.state.Transition(StateStarting, StateStopped, StateDestroyed); !ok {
		return fmt.Errorf("%w: state %s", ErrAlreadyStarted, prev)
	}
	s.healthy.Store(false)
	s.attempts = 0
	if s.backoff != nil {
		s.backoff.Reset()
	}

	if err := s.open(ctx); err != nil {
		s.state.Transition(StateStopped, StateStarting)
		return err
	}
	if _, ok := s.state.Transition(StateRunning, StateStarting); !ok {
		s.closeConn()
		return ErrDestroyed
	}
	return nil
}

// Restart forces a new connection. It reports whether the client is running
// afterwards. Closing stop ends any backoff wait and abandons further attempts.
func (s *supervisor) Restart(ctx context.Context, stop <-chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.state.Load(); st == StateDestroying || st == StateDestroyed {
		return false
	}
	return s.reopen(ctx, stop)
}

// restartStale replaces observed, the connection the caller found unhealthy.
// If another restart already swapped it out the call converges on that
// result instead of reconnecting again.
func (s *supervisor) restartStale(ctx context.Context, stop <-chan struct{}, observed Conn) (restarted, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.Load(); {
	case st == StateDestroying || st == StateDestroyed:
		return false, false
	case st == StateRunning && s.Conn() != observed:
		return false, true
	}
	return true, s.reopen(ctx, stop)
}

// reopen must be called with mu held.
func (s *supervisor) reopen(ctx context.Context, stop <-chan struct{}) bool {
	if _, ok := s.state.Transition(StateRestarting, StateRunning, StateStopped); !ok {
		return false
	}
	s.closeConn()

	if s.healthy.Swap(false) {
		s.attempts = 0
	}
	if s.attempts == 0 && s.backoff != nil {
		s.backoff.Reset()
	}

	for s.state.Load() == StateRestarting {
		if s.backoff != nil && s.attempts > 0 {
			wait := s.backoff.NextBackOff()
			if wait == backoff.Stop {
				s.logger.Error("Giving up reconnecting", "addr", s.addr, "attempts", s.attempts)
				break
			}
			s.logger.Debug("Waiting before reconnect", "addr", s.addr, "wait", wait, "attempt", s.attempts+1)
			if !sleepContext(ctx, stop, wait) {
				s.logger.Info("Reconnect abandoned", "addr", s.addr, "attempts", s.attempts)
				break
			}
		}
		s.attempts++

		err := s.open(ctx)
		if err == nil {
			if _, ok := s.state.Transition(StateRunning, StateRestarting); !ok {
				s.closeConn()
				return false
			}
			s.logger.Info("Connection restarted", "addr", s.addr, "attempt", s.attempts)
			return true
		}
		s.logger.Warn("Reconnect failed", "addr", s.addr, "attempt", s.attempts, "error", err)
		if s.backoff == nil || ctx.Err() != nil {
			break
		}
	}

	s.state.Transition(StateStopped, StateRestarting)
	return false
}

// open dials a new connection and writes the login as its first frame.
func (s *supervisor) open(ctx context.Context) error {
	login := s.Login()
	frame, err := s.codec.Encode(login)
	if err != nil {
		return &ConnectionError{Addr: s.addr, Err: fmt.Errorf("failed to encode login: %w", err)}
	}

	conn, err := s.transport.Open(ctx, s.addr, s.opts)
	if err != nil {
		return &ConnectionError{Addr: s.addr, Err: err}
	}
	if err := conn.Send(frame + "\n"); err != nil {
		conn.Close()
		return &ConnectionError{Addr: s.addr, Err: fmt.Errorf("failed to send login: %w", err)}
	}
	s.metrics.framesSent.Inc()

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.logger.Info("Connection opened", "addr", s.addr, "accounts", len(login.Accounts))
	return nil
}

func (s *supervisor) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		s.logger.Debug("Error closing connection", "addr", s.addr, "error", err)
	}
}

func (s *supervisor) markHealthy() {
	s.healthy.Store(true)
}

// Destroy is idempotent.
func (s *supervisor) Destroy() {
	if _, ok := s.state.Transition(StateDestroying, StateStopped, StateStarting, StateRunning, StateRestarting); !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeConn()
	s.state.Transition(StateDestroyed, StateDestroying)
	s.logger.Info("Connection destroyed", "addr", s.addr)
}

func sleepContext(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
