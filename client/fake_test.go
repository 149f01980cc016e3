package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/gonoti/proto"
	"github.com/stretchr/testify/require"
)

var errDialRefused = errors.New("dial refused")

// fakeTransport hands out scripted connections.
type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	failN   int  // fail the next n opens
	failAll bool // fail every open
	onFrame func(string)

	delay       time.Duration // how long each open stays in flight
	inflight    int
	maxInflight int
}

func (t *fakeTransport) Open(ctx context.Context, addr string, opts ConnOptions) (Conn, error) {
	t.mu.Lock()
	t.inflight++
	t.maxInflight = max(t.maxInflight, t.inflight)
	delay := t.delay
	t.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.onFrame = opts.OnFrame
	if t.failAll || t.failN > 0 {
		if t.failN > 0 {
			t.failN--
		}
		return nil, errDialRefused
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) setFailAll(v bool) {
	t.mu.Lock()
	t.failAll = v
	t.mu.Unlock()
}

func (t *fakeTransport) setFailN(n int) {
	t.mu.Lock()
	t.failN = n
	t.mu.Unlock()
}

func (t *fakeTransport) setDelay(d time.Duration) {
	t.mu.Lock()
	t.delay = d
	t.mu.Unlock()
}

// concurrentOpens is the most opens ever in flight at once.
func (t *fakeTransport) concurrentOpens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInflight
}

func (t *fakeTransport) opened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

// deliver plays an inbound frame as if read from the wire.
func (t *fakeTransport) deliver(frame string) {
	t.mu.Lock()
	fn := t.onFrame
	t.mu.Unlock()
	fn(frame)
}

type fakeConn struct {
	mu       sync.Mutex
	open     bool
	writable bool
	frames   []string
	block    chan struct{} // when set, Send waits for it to close
	waiting  int           // Sends parked on block
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true, writable: true, closed: make(chan struct{})}
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && c.writable
}

func (c *fakeConn) Send(frame string) error {
	c.mu.Lock()
	block := c.block
	if block != nil {
		c.waiting++
	}
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-c.closed:
			return ErrConnClosed
		}
		c.mu.Lock()
		c.waiting--
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrConnClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.open = false
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) setWritable(v bool) {
	c.mu.Lock()
	c.writable = v
	c.mu.Unlock()
}

// hold makes Send block until the returned func is called.
func (c *fakeConn) hold() func() {
	ch := make(chan struct{})
	c.mu.Lock()
	c.block = ch
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.block = nil
		c.mu.Unlock()
		close(ch)
	}
}

func (c *fakeConn) parked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting
}

func (c *fakeConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

// eventRecorder collects lifecycle events.
type eventRecorder struct {
	mu     sync.Mutex
	events []EventKind
}

func (r *eventRecorder) listen(k EventKind) {
	r.mu.Lock()
	r.events = append(r.events, k)
	r.mu.Unlock()
}

func (r *eventRecorder) Events() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventKind(nil), r.events...)
}

func (r *eventRecorder) count(k EventKind) int {
	n := 0
	for _, e := range r.Events() {
		if e == k {
			n++
		}
	}
	return n
}

func testLogin() proto.Login {
	return proto.NewLogin(proto.LoginAccount{
		ProductKey: "pk-test",
		AuthID:     "auth-id",
		AuthSecret: "auth-secret",
		Subkey:     "sub",
		Events:     []proto.EventType{proto.EventStatusKV},
	})
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeTransport, *eventRecorder) {
	t.Helper()
	transport := &fakeTransport{}
	rec := &eventRecorder{}
	cfg := DefaultConfig()
	cfg.Login = testLogin()
	cfg.DrainInterval = 5 * time.Millisecond

	base := []Option{
		WithTransport(transport),
		WithListener(rec.listen),
		WithLogger(NewLogger(SuppressedLogConfig())),
	}
	c, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c.Destroy(ctx)
	})
	return c, transport, rec
}

func startTestClient(t *testing.T, opts ...Option) (*Client, *fakeTransport, *eventRecorder) {
	t.Helper()
	c, transport, rec := newTestClient(t, opts...)
	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, transport.opened())
	return c, transport, rec
}

func control(id string) proto.RemoteControl {
	return proto.RemoteControl{
		MsgID:   id,
		Targets: []proto.Target{proto.NewAttrsTarget("pk-test", "", "did-1", proto.Attrs{"on": true})},
	}
}

// msgIDs decodes the frames and returns the msg_id of each remote control,
// or the command name for anything else.
func msgIDs(t *testing.T, frames []string) []string {
	t.Helper()
	ids := make([]string, 0, len(frames))
	for _, f := range frames {
		require.True(t, len(f) > 0 && f[len(f)-1] == '\n', "frame not newline terminated: %q", f)
		cmd, err := proto.ParseCommand(f[:len(f)-1])
		require.NoError(t, err)
		if rc, ok := cmd.(proto.RemoteControl); ok {
			ids = append(ids, rc.MsgID)
			continue
		}
		ids = append(ids, cmd.Cmd())
	}
	return ids
}

func waitFrames(t *testing.T, c *fakeConn, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Frames()) >= n }, 2*time.Second, time.Millisecond,
		"expected %d frames", n)
	return c.Frames()
}
