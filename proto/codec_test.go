package proto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecEncodeLogin(t *testing.T) {
	login := Login{PrefetchCount: 50, Accounts: []LoginAccount{validAccount()}}

	frame, err := JSONCodec{}.Encode(login)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"cmd": "login_req",
		"prefetch_count": 50,
		"data": [{
			"product_key": "pk-1",
			"auth_id": "auth-id",
			"auth_secret": "auth-secret",
			"subkey": "client",
			"events": ["device.online", "device.status.kv"]
		}]
	}`, frame)
	assert.NotContains(t, frame, "\n")
}

func TestJSONCodecEncodeLoginOmitsZeroPrefetch(t *testing.T) {
	account := validAccount()
	account.Events = nil

	frame, err := JSONCodec{}.Encode(NewLogin(account))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(frame), &raw))
	_, ok := raw["prefetch_count"]
	assert.False(t, ok)
	assert.Contains(t, frame, `"events":[]`)
}

func TestJSONCodecEncodeRemoteControl(t *testing.T) {
	rc := RemoteControl{MsgID: "m-1", Targets: []Target{
		NewAttrsTarget("pk", "aa:bb", "did-1", Attrs{"power": true}),
		NewRawTarget("pk", "cc:dd", "did-2", WriteRaw, []byte{0x00, 0x7f, 0xff}),
	}}

	frame, err := JSONCodec{}.Encode(rc)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"cmd": "remote_control_req",
		"msg_id": "m-1",
		"data": [
			{"cmd": "write_attrs", "data": {"product_key": "pk", "mac": "aa:bb", "did": "did-1", "attrs": {"power": true}}},
			{"cmd": "write", "data": {"product_key": "pk", "mac": "cc:dd", "did": "did-2", "raw": [0, 127, -1]}}
		]
	}`, frame)
}

func TestJSONCodecEncodeNil(t *testing.T) {
	frame, err := JSONCodec{}.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, NullFrame, frame)
}

func TestParseCommandRoundTrip(t *testing.T) {
	original := RemoteControl{MsgID: "m-2", Targets: []Target{
		NewRawTarget("pk", "mac", "did", WriteV1, []byte{1, 2, 3}),
	}}
	frame, err := JSONCodec{}.Encode(original)
	require.NoError(t, err)

	parsed, err := ParseCommand(frame)
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestRawBytesAreSigned(t *testing.T) {
	rc := RemoteControl{MsgID: "m-1", Targets: []Target{
		NewRawTarget("pk", "mac", "did", WriteRaw, []byte{0x80, 0xfe, 0xff, 0x7f}),
	}}
	frame, err := JSONCodec{}.Encode(rc)
	require.NoError(t, err)
	assert.Contains(t, frame, `"raw":[-128,-2,-1,127]`)

	parsed, err := ParseCommand(frame)
	require.NoError(t, err)
	assert.Equal(t, rc, parsed)

	// Unsigned values from older peers decode to the same bytes.
	parsed, err = ParseCommand(`{"cmd":"remote_control_req","data":[{"cmd":"write","data":{"product_key":"pk","did":"d","raw":[128,255,-1]}}]}`)
	require.NoError(t, err)
	assert.Equal(t, Raw{0x80, 0xff, 0xff}, parsed.(RemoteControl).Targets[0].Payload)
}

func TestParseCommandRejects(t *testing.T) {
	_, err := ParseCommand("not json")
	assert.True(t, errors.Is(err, ErrInvalidFrame))

	_, err = ParseCommand(`{"cmd":"event_push"}`)
	assert.Error(t, err)

	_, err = ParseCommand(`{"cmd":"remote_control_req","data":[{"cmd":"write","data":{"product_key":"pk","did":"d","raw":[256]}}]}`)
	assert.ErrorContains(t, err, "out of range")

	_, err = ParseCommand(`{"cmd":"remote_control_req","data":[{"cmd":"write","data":{"product_key":"pk","did":"d","raw":[-129]}}]}`)
	assert.ErrorContains(t, err, "out of range")

	_, err = ParseCommand(`{"cmd":"remote_control_req","data":[{"cmd":"write","data":{"product_key":"pk","did":"d","raw":[1],"attrs":{"a":1}}}]}`)
	assert.ErrorContains(t, err, "both attrs and raw")
}

func TestJSONCodecDecode(t *testing.T) {
	codec := JSONCodec{}

	got, err := codec.Decode("{\"cmd\":\"event_push\"}\r\n")
	require.NoError(t, err)
	assert.Equal(t, `{"cmd":"event_push"}`, got)

	_, err = codec.Decode("   \n")
	assert.True(t, errors.Is(err, ErrInvalidFrame))

	_, err = codec.Decode("{broken")
	assert.True(t, errors.Is(err, ErrInvalidFrame))
}

func TestParseEvent(t *testing.T) {
	frame := `{"cmd":"event_push","delivery_id":7,"event_type":"device_online","product_key":"pk","did":"d1","mac":"m1","created_at":1500000000.5}`

	ev, err := ParseEvent(frame)
	require.NoError(t, err)
	assert.True(t, ev.IsPush())
	assert.Equal(t, int64(7), ev.DeliveryID)
	assert.Equal(t, "device_online", ev.EventType)
	assert.Equal(t, frame, ev.Raw)

	_, err = ParseEvent(`{"delivery_id":1}`)
	assert.True(t, errors.Is(err, ErrInvalidFrame))
}

func TestEventResult(t *testing.T) {
	ev, err := ParseEvent(`{"cmd":"login_res","data":{"result":false,"msg":"bad secret"}}`)
	require.NoError(t, err)

	res, err := ev.Result()
	require.NoError(t, err)
	assert.False(t, res.Result)
	assert.Equal(t, "bad secret", res.Msg)
}
