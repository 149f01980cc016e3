package proto

import (
	"encoding/json"
)

// Wire command tags.
const (
	CmdLoginReq         = "login_req"
	CmdLoginRes         = "login_res"
	CmdRemoteControlReq = "remote_control_req"
	CmdRemoteControlRes = "remote_control_res"
	CmdEventPush        = "event_push"
	CmdPing             = "ping"
	CmdPong             = "pong"
	CmdInvalidMsg       = "invalid_msg"
)

type Message struct {
	Cmd           string          `json:"cmd"`                      // "login_req", "remote_control_req", "event_push", ...
	MsgID         string          `json:"msg_id,omitempty"`         // correlation id for remote control
	PrefetchCount int             `json:"prefetch_count,omitempty"` // login only
	Data          json.RawMessage `json:"data,omitempty"`           // raw JSON; shape depends on Cmd
	Sender        string          `json:"-"`                        // session id, injected by the server transport
}

type LoginData struct {
	ProductKey string      `json:"product_key"`
	AuthID     string      `json:"auth_id"`
	AuthSecret string      `json:"auth_secret"`
	Subkey     string      `json:"subkey"`
	Events     []EventType `json:"events"`
}

type ControlData struct {
	Cmd  DataCommand    `json:"cmd"`
	Data ControlPayload `json:"data"`
}

type ControlPayload struct {
	ProductKey string         `json:"product_key"`
	MAC        string         `json:"mac"`
	DID        string         `json:"did"`
	Attrs      map[string]any `json:"attrs,omitempty"`
	Raw        []int          `json:"raw,omitempty"` // signed byte values -128..127, one JSON number each
}

type ResultPayload struct {
	Result bool   `json:"result"`
	Msg    string `json:"msg,omitempty"`
}
