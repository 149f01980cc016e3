package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/gonoti/proto"
)

// outboundQueue is the bounded FIFO of commands waiting to be written.
// pending counts commands that were accepted but not yet handed to a
// connection, including producers blocked on a full queue and the command
// the worker is holding.
type outboundQueue struct {
	ch      chan proto.Command
	pending atomic.Int64
}

func newOutboundQueue(capacity int) *outboundQueue {
	return &outboundQueue{ch: make(chan proto.Command, capacity)}
}

// put blocks while the queue is full. It gives up when abort is closed.
func (q *outboundQueue) put(cmd proto.Command, abort <-chan struct{}) bool {
	q.pending.Add(1)
	select {
	case q.ch <- cmd:
		return true
	default:
	}
	select {
	case q.ch <- cmd:
		return true
	case <-abort:
		q.pending.Add(-1)
		return false
	}
}

func (q *outboundQueue) take(ctx context.Context) (proto.Command, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	case <-ctx.Done():
		return nil, false
	}
}

// done releases a command returned by take.
func (q *outboundQueue) done() {
	q.pending.Add(-1)
}

func (q *outboundQueue) Len() int {
	return int(q.pending.Load())
}

// inboundQueue holds decoded frames until the consumer receives them.
type inboundQueue struct {
	ch     chan string
	closed chan struct{}
	once   sync.Once
}

func newInboundQueue(capacity int) *inboundQueue {
	return &inboundQueue{
		ch:     make(chan string, capacity),
		closed: make(chan struct{}),
	}
}

// push blocks while the queue is full and fails once it is closed.
func (q *inboundQueue) push(frame string) bool {
	if q.isClosed() {
		return false
	}
	select {
	case q.ch <- frame:
		return true
	case <-q.closed:
		return false
	}
}

func (q *inboundQueue) pop(ctx context.Context) (string, error) {
	if q.isClosed() {
		return "", ErrDestroyed
	}
	select {
	case frame := <-q.ch:
		return frame, nil
	case <-q.closed:
		return "", ErrDestroyed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *inboundQueue) Len() int {
	if q.isClosed() {
		return 0
	}
	return len(q.ch)
}

// close discards queued frames and wakes blocked producers and consumers.
func (q *inboundQueue) close() {
	q.once.Do(func() { close(q.closed) })
}

func (q *inboundQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
