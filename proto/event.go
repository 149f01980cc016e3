package proto

import (
	"encoding/json"
	"fmt"
)

// Event is a typed view over a frame pushed by the notification service.
type Event struct {
	Cmd        string          `json:"cmd"`
	MsgID      string          `json:"msg_id,omitempty"` // set on remote_control_res
	DeliveryID int64           `json:"delivery_id,omitempty"`
	EventType  string          `json:"event_type,omitempty"`
	ProductKey string          `json:"product_key,omitempty"`
	DID        string          `json:"did,omitempty"`
	MAC        string          `json:"mac,omitempty"`
	CreatedAt  float64         `json:"created_at,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	Raw string `json:"-"` // frame the event was parsed from
}

func ParseEvent(frame string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(frame), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if ev.Cmd == "" {
		return Event{}, fmt.Errorf("%w: missing cmd", ErrInvalidFrame)
	}
	ev.Raw = frame
	return ev, nil
}

func (e Event) IsPush() bool {
	return e.Cmd == CmdEventPush
}

// Result decodes the result payload carried by login_res and
// remote_control_res frames.
func (e Event) Result() (ResultPayload, error) {
	var res ResultPayload
	if len(e.Data) == 0 {
		return res, fmt.Errorf("%s carries no result", e.Cmd)
	}
	if err := json.Unmarshal(e.Data, &res); err != nil {
		return res, fmt.Errorf("invalid %s result: %w", e.Cmd, err)
	}
	return res, nil
}
