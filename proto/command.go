package proto

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// EventType names an event class a login subscribes to.
type EventType string

const (
	EventDeviceOnline  EventType = "device.online"
	EventDeviceOffline EventType = "device.offline"
	EventStatusRaw     EventType = "device.status.raw"
	EventStatusKV      EventType = "device.status.kv"
	EventAttrFault     EventType = "device.attr_fault"
	EventAttrAlert     EventType = "device.attr_alert"
	EventDatapoints    EventType = "datapoints.changed"
	EventDeviceBind    EventType = "device.bind"
	EventDeviceUnbind  EventType = "device.unbind"
	EventDeviceReset   EventType = "device.reset"
	EventFileDownload  EventType = "device.file.download"
)

// DataCommand is the per-target control verb.
type DataCommand string

const (
	WriteRaw   DataCommand = "write"
	WriteAttrs DataCommand = "write_attrs"
	WriteV1    DataCommand = "write_v1"
)

var ErrNilPayload = errors.New("target payload is required")

// Command is one outbound protocol message. The only implementations are
// Login and RemoteControl.
type Command interface {
	Cmd() string
	Validate() error
	command()
}

type LoginAccount struct {
	ProductKey string
	AuthID     string
	AuthSecret string
	Subkey     string
	Events     []EventType
}

// Login authenticates one or more product keys on a connection. It is the
// first frame written on every (re)connect.
type Login struct {
	PrefetchCount int
	Accounts      []LoginAccount
}

func NewLogin(accounts ...LoginAccount) Login {
	return Login{Accounts: accounts}
}

// Clone returns a copy of l that shares no slices with it.
func (l Login) Clone() Login {
	l.Accounts = slices.Clone(l.Accounts)
	for i := range l.Accounts {
		l.Accounts[i].Events = slices.Clone(l.Accounts[i].Events)
	}
	return l
}

func (Login) Cmd() string { return CmdLoginReq }
func (Login) command() {}

func (l Login) Validate() error {
	if len(l.Accounts) == 0 {
		return errors.New("login requires at least one account")
	}
	if l.PrefetchCount < 0 {
		return fmt.Errorf("prefetch count must not be negative, got %d", l.PrefetchCount)
	}
	for i, a := range l.Accounts {
		if err := a.validate(); err != nil {
			return fmt.Errorf("account %d: %w", i, err)
		}
	}
	return nil
}

func (a LoginAccount) validate() error {
	switch {
	case strings.TrimSpace(a.ProductKey) == "":
		return errors.New("product key is required")
	case strings.TrimSpace(a.AuthID) == "":
		return errors.New("auth id is required")
	case strings.TrimSpace(a.AuthSecret) == "":
		return errors.New("auth secret is required")
	case strings.TrimSpace(a.Subkey) == "":
		return errors.New("subkey is required")
	}
	return nil
}

// Payload is either Attrs or Raw, never both.
type Payload interface {
	payload()
}

type Attrs map[string]any

type Raw []byte

func (Attrs) payload() {}
func (Raw) payload() {}

type Target struct {
	ProductKey string
	MAC        string
	DeviceID   string
	Kind       DataCommand
	Payload    Payload
}

// NewAttrsTarget copies attrs so the caller may keep mutating its map.
func NewAttrsTarget(productKey, mac, did string, attrs Attrs) Target {
	return Target{
		ProductKey: productKey,
		MAC:        mac,
		DeviceID:   did,
		Kind:       WriteAttrs,
		Payload:    Attrs(maps.Clone(attrs)),
	}
}

func NewRawTarget(productKey, mac, did string, kind DataCommand, raw []byte) Target {
	if kind == "" {
		kind = WriteRaw
	}
	return Target{
		ProductKey: productKey,
		MAC:        mac,
		DeviceID:   did,
		Kind:       kind,
		Payload:    Raw(bytes.Clone(raw)),
	}
}

// Clone returns a copy of t whose payload shares no memory with t.
func (t Target) Clone() Target {
	switch p := t.Payload.(type) {
	case Attrs:
		if p != nil {
			t.Payload = cloneAttrs(p)
		}
	case Raw:
		t.Payload = Raw(bytes.Clone(p))
	}
	return t
}

func cloneAttrs(attrs Attrs) Attrs {
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types encoding/json produces.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case Attrs:
		return cloneAttrs(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return bytes.Clone(x)
	}
	return v
}

func (t Target) Validate() error {
	if strings.TrimSpace(t.ProductKey) == "" {
		return errors.New("target product key is required")
	}
	if strings.TrimSpace(t.DeviceID) == "" && strings.TrimSpace(t.MAC) == "" {
		return errors.New("target requires a device id or mac")
	}
	if t.Kind == "" {
		return errors.New("target command kind is required")
	}
	switch p := t.Payload.(type) {
	case nil:
		return ErrNilPayload
	case Attrs:
		if p == nil {
			return ErrNilPayload
		}
	case Raw:
		if p == nil {
			return ErrNilPayload
		}
	}
	return nil
}

// RemoteControl carries one or more device control targets in a single frame.
type RemoteControl struct {
	MsgID   string
	Targets []Target
}

// Clone returns a copy of r that shares no targets or payloads with it.
func (r RemoteControl) Clone() RemoteControl {
	r.Targets = slices.Clone(r.Targets)
	for i := range r.Targets {
		r.Targets[i] = r.Targets[i].Clone()
	}
	return r
}

func (RemoteControl) Cmd() string { return CmdRemoteControlReq }
func (RemoteControl) command() {}

func (r RemoteControl) Validate() error {
	if len(r.Targets) == 0 {
		return errors.New("remote control requires at least one target")
	}
	for i, t := range r.Targets {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("target %d: %w", i, err)
		}
	}
	return nil
}

// CloneCommand deep-copies cmd so later edits by the caller cannot reach a
// queued command.
func CloneCommand(cmd Command) Command {
	switch c := cmd.(type) {
	case Login:
		return c.Clone()
	case RemoteControl:
		return c.Clone()
	}
	return cmd
}
