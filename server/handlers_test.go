package server

import (
	"encoding/json"
	"testing"

	"github.com/mbocsi/gonoti/proto"
)

func account(productKey string) proto.LoginAccount {
	return proto.LoginAccount{ProductKey: productKey, AuthID: "id-" + productKey, AuthSecret: "secret", Subkey: "sub"}
}

func envelope(t *testing.T, sender string, cmd proto.Command) proto.Message {
	t.Helper()
	frame, err := proto.JSONCodec{}.Encode(cmd)
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", cmd.Cmd(), err)
	}
	var msg proto.Message
	if err := json.Unmarshal([]byte(frame), &msg); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	msg.Sender = sender
	return msg
}

func newTestCoordinator(auth Authenticator) (*Coordinator, *MockSession) {
	c := NewCoordinator(NewSessionRegistry(), NewBroker(), auth)
	session := NewMockSession("s1")
	c.RegisterSession(session)
	return c, session
}

func TestCoordinator_Login(t *testing.T) {
	c, session := newTestCoordinator(nil)

	login := proto.NewLogin(account("pk-1"), account("pk-2"))
	login.PrefetchCount = 5
	c.Handle(envelope(t, "s1", login))

	msg, res := lastResult(t, session)
	if msg.Cmd != proto.CmdLoginRes || !res.Result {
		t.Fatalf("Expected successful login_res, got %s %+v", msg.Cmd, res)
	}
	meta := session.Meta()
	if !meta.LoggedIn || len(meta.ProductKeys) != 2 || meta.Prefetch != 5 {
		t.Errorf("Unexpected session metadata after login: %+v", meta.ProductKeys)
	}
	if c.Broker.Subscribers("pk-1") != 1 || c.Broker.Subscribers("pk-2") != 1 {
		t.Error("Expected session to be subscribed to both product keys")
	}
}

func TestCoordinator_LoginRejected(t *testing.T) {
	c, session := newTestCoordinator(StaticCredentials(map[string]string{"id-pk-1": "other"}))

	c.Handle(envelope(t, "s1", proto.NewLogin(account("pk-1"))))

	msg, res := lastResult(t, session)
	if msg.Cmd != proto.CmdLoginRes || res.Result {
		t.Fatalf("Expected rejected login_res, got %s %+v", msg.Cmd, res)
	}
	if res.Msg != ErrBadCredentials.Error() {
		t.Errorf("Expected %q, got %q", ErrBadCredentials.Error(), res.Msg)
	}
	if session.Meta().LoggedIn {
		t.Error("Expected session to stay logged out")
	}
}

func TestCoordinator_LoginInvalid(t *testing.T) {
	c, session := newTestCoordinator(nil)

	c.Handle(proto.Message{Cmd: proto.CmdLoginReq, Sender: "s1", Data: json.RawMessage(`[]`)})

	_, res := lastResult(t, session)
	if res.Result {
		t.Error("Expected login without accounts to fail")
	}
}

func TestCoordinator_RemoteControlRequiresLogin(t *testing.T) {
	c, session := newTestCoordinator(nil)

	rc := proto.RemoteControl{MsgID: "m1", Targets: []proto.Target{proto.NewAttrsTarget("pk-1", "", "did", proto.Attrs{"on": true})}}
	c.Handle(envelope(t, "s1", rc))

	msg, _ := lastResult(t, session)
	if msg.Cmd != proto.CmdInvalidMsg {
		t.Errorf("Expected invalid_msg, got %s", msg.Cmd)
	}
	if len(c.Received()) != 0 {
		t.Error("Expected nothing to be recorded")
	}
}

func TestCoordinator_RemoteControl(t *testing.T) {
	c, session := newTestCoordinator(nil)
	c.Handle(envelope(t, "s1", proto.NewLogin(account("pk-1"))))

	var hooked []ReceivedCommand
	c.OnCommand(func(rc ReceivedCommand) { hooked = append(hooked, rc) })

	rc := proto.RemoteControl{MsgID: "m1", Targets: []proto.Target{
		proto.NewAttrsTarget("pk-1", "", "did-1", proto.Attrs{"on": true}),
		proto.NewRawTarget("pk-1", "aa:bb", "", proto.WriteRaw, []byte{1, 2, 3}),
	}}
	c.Handle(envelope(t, "s1", rc))

	msg, res := lastResult(t, session)
	if msg.Cmd != proto.CmdRemoteControlRes || msg.MsgID != "m1" || !res.Result {
		t.Fatalf("Expected successful remote_control_res for m1, got %s %s %+v", msg.Cmd, msg.MsgID, res)
	}

	received := c.Received()
	if len(received) != 1 || len(hooked) != 1 {
		t.Fatalf("Expected 1 recorded command, got %d (hook %d)", len(received), len(hooked))
	}
	if received[0].SessionID != "s1" || len(received[0].Command.Targets) != 2 {
		t.Errorf("Unexpected recorded command %+v", received[0])
	}
	raw, ok := received[0].Command.Targets[1].Payload.(proto.Raw)
	if !ok || len(raw) != 3 || raw[2] != 3 {
		t.Errorf("Expected raw payload to round trip, got %#v", received[0].Command.Targets[1].Payload)
	}
}

func TestCoordinator_RemoteControlForeignProductKey(t *testing.T) {
	c, session := newTestCoordinator(nil)
	c.Handle(envelope(t, "s1", proto.NewLogin(account("pk-1"))))

	rc := proto.RemoteControl{MsgID: "m2", Targets: []proto.Target{proto.NewAttrsTarget("pk-other", "", "did", proto.Attrs{"on": true})}}
	c.Handle(envelope(t, "s1", rc))

	_, res := lastResult(t, session)
	if res.Result {
		t.Error("Expected control of another product key to be refused")
	}
	if len(c.Received()) != 0 {
		t.Error("Expected nothing to be recorded")
	}
}

func TestCoordinator_PingAndUnknown(t *testing.T) {
	c, session := newTestCoordinator(nil)

	c.Handle(proto.Message{Cmd: proto.CmdPing, Sender: "s1"})
	c.Handle(proto.Message{Cmd: "bogus", Sender: "s1"})
	c.Handle(proto.Message{Cmd: proto.CmdPing, Sender: "unknown"})

	msgs := session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 replies, got %d", len(msgs))
	}
	if msgs[0].Cmd != proto.CmdPong {
		t.Errorf("Expected pong, got %s", msgs[0].Cmd)
	}
	if msgs[1].Cmd != proto.CmdInvalidMsg {
		t.Errorf("Expected invalid_msg, got %s", msgs[1].Cmd)
	}
}

func TestCoordinator_UnregisterSession(t *testing.T) {
	c, session := newTestCoordinator(nil)
	c.Handle(envelope(t, "s1", proto.NewLogin(account("pk-1"))))

	c.UnregisterSession(session)

	if _, ok := c.Registry.Get("s1"); ok {
		t.Error("Expected session to be removed from registry")
	}
	if c.Broker.Subscribers("pk-1") != 0 {
		t.Error("Expected session to be unsubscribed")
	}
}

func TestNotiServer_Push(t *testing.T) {
	srv := NewNotiServer(NotiServerOptions{})
	c := srv.Coordinator()
	session := NewMockSession("s1")
	c.RegisterSession(session)
	c.Handle(envelope(t, "s1", proto.NewLogin(account("pk-1"))))

	sent := srv.Push(proto.Event{ProductKey: "pk-1", DID: "did-1", EventType: string(proto.EventStatusKV), Data: json.RawMessage(`{"on":true}`)})
	if sent != 1 {
		t.Fatalf("Expected 1 push, got %d", sent)
	}
	if srv.Push(proto.Event{ProductKey: "pk-none"}) != 0 {
		t.Error("Expected no sessions for an unknown product key")
	}

	events := session.Events()
	last := events[len(events)-1]
	if !last.IsPush() || last.DID != "did-1" {
		t.Errorf("Unexpected pushed event %+v", last)
	}
	if len(srv.Sessions()) != 1 {
		t.Errorf("Expected 1 session, got %d", len(srv.Sessions()))
	}
	if got := srv.SessionsFor("pk-1"); len(got) != 1 || got[0] != session {
		t.Errorf("Expected s1 to be the only pk-1 session, got %d", len(got))
	}
}

func TestNotiServer_PushSkipsSessionsNotLoggedIn(t *testing.T) {
	srv := NewNotiServer(NotiServerOptions{})
	session := NewMockSession("s1")
	srv.Coordinator().RegisterSession(session)
	// subscribed directly, but the session never completed a login
	srv.Coordinator().Broker.Subscribe("pk-1", session)

	if sent := srv.Push(proto.Event{ProductKey: "pk-1", DID: "did-1"}); sent != 0 {
		t.Errorf("Expected no push before login, got %d", sent)
	}
	if len(session.Events()) != 0 {
		t.Errorf("Expected no frames, got %d", len(session.Events()))
	}
}
