package client

import (
	"github.com/google/uuid"
	"github.com/mbocsi/gonoti/proto"
)

// SendAttrs queues a write_attrs control for one device.
func (c *Client) SendAttrs(productKey, mac, did string, attrs proto.Attrs) bool {
	return c.SendControl(proto.NewAttrsTarget(productKey, mac, did, attrs))
}

// SendRaw queues a raw control for one device. An empty kind means
// proto.WriteRaw.
func (c *Client) SendRaw(productKey, mac, did string, kind proto.DataCommand, raw []byte) bool {
	return c.SendControl(proto.NewRawTarget(productKey, mac, did, kind, raw))
}

// SendControl queues all targets as one remote_control_req with a fresh
// msg_id. Invalid targets are rejected before anything is queued.
func (c *Client) SendControl(targets ...proto.Target) bool {
	cmd := proto.RemoteControl{MsgID: uuid.NewString(), Targets: targets}
	if err := cmd.Validate(); err != nil {
		c.logger.Warn("Rejected remote control", "error", err)
		return false
	}
	return c.TrySend(cmd)
}
