package server

import (
	"encoding/json"
	"sync"

	"github.com/mbocsi/gonoti/proto"
)

// MockSession records every frame sent to it.
type MockSession struct {
	metadata *SessionMetadata
	frames   [][]byte
	sendErr  error
	closed   bool
	mu       sync.Mutex
}

func NewMockSession(id string) *MockSession {
	return &MockSession{metadata: &SessionMetadata{Id: id}}
}

func (ms *MockSession) Send(v any) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.sendErr != nil {
		return ms.sendErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ms.frames = append(ms.frames, data)
	return nil
}

func (ms *MockSession) Meta() *SessionMetadata {
	return ms.metadata
}

func (ms *MockSession) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.closed = true
	return nil
}

func (ms *MockSession) SetSendError(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.sendErr = err
}

// Messages decodes the recorded frames as envelopes.
func (ms *MockSession) Messages() []proto.Message {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]proto.Message, 0, len(ms.frames))
	for _, f := range ms.frames {
		var msg proto.Message
		json.Unmarshal(f, &msg)
		out = append(out, msg)
	}
	return out
}

func (ms *MockSession) Events() []proto.Event {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := make([]proto.Event, 0, len(ms.frames))
	for _, f := range ms.frames {
		ev, err := proto.ParseEvent(string(f))
		if err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func lastResult(t interface{ Fatalf(string, ...any) }, ms *MockSession) (proto.Message, proto.ResultPayload) {
	msgs := ms.Messages()
	if len(msgs) == 0 {
		t.Fatalf("no frames sent to %s", ms.metadata.Id)
	}
	msg := msgs[len(msgs)-1]
	var res proto.ResultPayload
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatalf("reply %s carries no result: %v", msg.Cmd, err)
	}
	return msg, res
}
