package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NullFrame is what a nil Command encodes to. Senders skip it.
const NullFrame = "null"

var ErrInvalidFrame = errors.New("invalid frame")

// Codec turns Commands into wire frames and inbound frames into event strings.
// Frames never include the trailing newline delimiter.
type Codec interface {
	Encode(cmd Command) (string, error)
	Decode(frame string) (string, error)
}

// JSONCodec is the line-delimited JSON codec spoken by the notification service.
type JSONCodec struct{}

func (JSONCodec) Encode(cmd Command) (string, error) {
	if cmd == nil {
		return NullFrame, nil
	}
	msg, err := MarshalCommand(cmd)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", cmd.Cmd(), err)
	}
	return string(data), nil
}

func (JSONCodec) Decode(frame string) (string, error) {
	frame = strings.TrimRight(frame, "\r\n")
	if strings.TrimSpace(frame) == "" {
		return "", fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	if !json.Valid([]byte(frame)) {
		return "", fmt.Errorf("%w: not a JSON document", ErrInvalidFrame)
	}
	return frame, nil
}

// MarshalCommand builds the wire envelope for cmd.
func MarshalCommand(cmd Command) (Message, error) {
	switch c := cmd.(type) {
	case Login:
		data := make([]LoginData, 0, len(c.Accounts))
		for _, a := range c.Accounts {
			events := a.Events
			if events == nil {
				events = []EventType{}
			}
			data = append(data, LoginData{
				ProductKey: a.ProductKey,
				AuthID:     a.AuthID,
				AuthSecret: a.AuthSecret,
				Subkey:     a.Subkey,
				Events:     events,
			})
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal login data: %w", err)
		}
		return Message{Cmd: CmdLoginReq, PrefetchCount: c.PrefetchCount, Data: raw}, nil

	case RemoteControl:
		data := make([]ControlData, 0, len(c.Targets))
		for _, t := range c.Targets {
			payload := ControlPayload{ProductKey: t.ProductKey, MAC: t.MAC, DID: t.DeviceID}
			switch p := t.Payload.(type) {
			case Attrs:
				payload.Attrs = p
			case Raw:
				payload.Raw = make([]int, len(p))
				for i, b := range p {
					payload.Raw[i] = int(int8(b))
				}
			}
			data = append(data, ControlData{Cmd: t.Kind, Data: payload})
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal control data: %w", err)
		}
		return Message{Cmd: CmdRemoteControlReq, MsgID: c.MsgID, Data: raw}, nil
	}
	return Message{}, fmt.Errorf("unsupported command type %T", cmd)
}

// ParseCommand is the inverse of JSONCodec.Encode.
func ParseCommand(frame string) (Command, error) {
	var msg Message
	if err := json.Unmarshal([]byte(frame), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return UnmarshalCommand(msg)
}

func UnmarshalCommand(msg Message) (Command, error) {
	switch msg.Cmd {
	case CmdLoginReq:
		var data []LoginData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid login data: %w", err)
		}
		login := Login{PrefetchCount: msg.PrefetchCount}
		for _, d := range data {
			login.Accounts = append(login.Accounts, LoginAccount{
				ProductKey: d.ProductKey,
				AuthID:     d.AuthID,
				AuthSecret: d.AuthSecret,
				Subkey:     d.Subkey,
				Events:     d.Events,
			})
		}
		return login, nil

	case CmdRemoteControlReq:
		var data []ControlData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("invalid control data: %w", err)
		}
		rc := RemoteControl{MsgID: msg.MsgID}
		for i, d := range data {
			t := Target{ProductKey: d.Data.ProductKey, MAC: d.Data.MAC, DeviceID: d.Data.DID, Kind: d.Cmd}
			switch {
			case d.Data.Raw != nil && d.Data.Attrs != nil:
				return nil, fmt.Errorf("target %d carries both attrs and raw", i)
			case d.Data.Raw != nil:
				raw := make(Raw, len(d.Data.Raw))
				for j, v := range d.Data.Raw {
					if v < -128 || v > 255 {
						return nil, fmt.Errorf("target %d: raw byte %d out of range: %d", i, j, v)
					}
					raw[j] = byte(v)
				}
				t.Payload = raw
			case d.Data.Attrs != nil:
				t.Payload = Attrs(d.Data.Attrs)
			}
			rc.Targets = append(rc.Targets, t)
		}
		return rc, nil
	}
	return nil, fmt.Errorf("unsupported command %q", msg.Cmd)
}
