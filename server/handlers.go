package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/mbocsi/gonoti/proto"
)

func (c *Coordinator) Handle(msg proto.Message) {
	session, ok := c.Registry.Get(msg.Sender)
	if !ok {
		slog.Warn("Session not found", "session", msg.Sender)
		return
	}

	switch msg.Cmd {
	case proto.CmdLoginReq:
		c.handleLogin(session, msg)

	case proto.CmdPing:
		c.reply(session, proto.Message{Cmd: proto.CmdPong})

	case proto.CmdRemoteControlReq:
		c.handleRemoteControl(session, msg)

	default:
		slog.Warn("Unhandled command", "cmd", msg.Cmd, "sender", msg.Sender)
		c.reply(session, invalidMsg(fmt.Sprintf("unknown cmd %q", msg.Cmd)))
	}
}

// ---------- login ---------- //

func (c *Coordinator) handleLogin(session Session, msg proto.Message) {
	cmd, err := proto.UnmarshalCommand(msg)
	if err != nil {
		c.reply(session, resultMsg(proto.CmdLoginRes, "", false, err.Error()))
		return
	}
	login := cmd.(proto.Login)
	if err := login.Validate(); err != nil {
		c.reply(session, resultMsg(proto.CmdLoginRes, "", false, err.Error()))
		return
	}
	for _, a := range login.Accounts {
		if err := c.Auth(a); err != nil {
			slog.Warn("Login rejected", "session", msg.Sender, "product_key", a.ProductKey, "error", err)
			c.reply(session, resultMsg(proto.CmdLoginRes, "", false, err.Error()))
			return
		}
	}

	c.Broker.UnsubscribeAll(session)
	keys := make([]string, 0, len(login.Accounts))
	for _, a := range login.Accounts {
		keys = append(keys, a.ProductKey)
		c.Broker.Subscribe(a.ProductKey, session)
	}
	if _, ok := c.Registry.MarkLoggedIn(msg.Sender, keys, login.PrefetchCount); !ok {
		slog.Warn("Session left during login", "session", msg.Sender)
		c.Broker.UnsubscribeAll(session)
		return
	}

	slog.Info("Session logged in", "session", msg.Sender, "product_keys", keys)
	c.reply(session, resultMsg(proto.CmdLoginRes, "", true, ""))
}

// ---------- remote control ---------- //

func (c *Coordinator) handleRemoteControl(session Session, msg proto.Message) {
	meta := session.Meta()
	meta.Mu.RLock()
	loggedIn := meta.LoggedIn
	keys := meta.ProductKeys
	meta.Mu.RUnlock()

	if !loggedIn {
		c.reply(session, invalidMsg("login required"))
		return
	}

	cmd, err := proto.UnmarshalCommand(msg)
	if err != nil {
		c.reply(session, resultMsg(proto.CmdRemoteControlRes, msg.MsgID, false, err.Error()))
		return
	}
	rc := cmd.(proto.RemoteControl)
	if err := rc.Validate(); err != nil {
		c.reply(session, resultMsg(proto.CmdRemoteControlRes, msg.MsgID, false, err.Error()))
		return
	}
	for _, t := range rc.Targets {
		if !slices.Contains(keys, t.ProductKey) {
			c.reply(session, resultMsg(proto.CmdRemoteControlRes, msg.MsgID, false, "product key not logged in: "+t.ProductKey))
			return
		}
	}

	c.record(ReceivedCommand{SessionID: meta.Id, Command: rc, ReceivedAt: time.Now()})
	slog.Debug("Remote control accepted", "session", meta.Id, "msg_id", rc.MsgID, "targets", len(rc.Targets))
	c.reply(session, resultMsg(proto.CmdRemoteControlRes, msg.MsgID, true, ""))
}

func (c *Coordinator) reply(session Session, msg proto.Message) {
	if err := session.Send(msg); err != nil {
		slog.Warn("Failed to reply", "session", session.Meta().Id, "cmd", msg.Cmd, "error", err)
	}
}

func resultMsg(cmd, msgID string, ok bool, text string) proto.Message {
	data, _ := json.Marshal(proto.ResultPayload{Result: ok, Msg: text})
	return proto.Message{Cmd: cmd, MsgID: msgID, Data: data}
}

func invalidMsg(text string) proto.Message {
	return resultMsg(proto.CmdInvalidMsg, "", false, text)
}
