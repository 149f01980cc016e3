package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/gonoti/client"
	"github.com/mbocsi/gonoti/proto"
	"github.com/mbocsi/gonoti/web"
)

const (
	defaultPollMax = 10
	maxPollMax     = 500
)

// Bridge exposes a notification client as MCP tools over stdio.
type Bridge struct {
	server *MCPServer
	client web.NotiClient
}

func NewBridge(c web.NotiClient, version string) *Bridge {
	b := &Bridge{
		server: NewMCPServer("gonoti", version),
		client: c,
	}
	b.registerControlTools()
	b.registerEventTools()
	return b
}

func (b *Bridge) Run() error {
	return b.server.Run()
}

func (b *Bridge) registerControlTools() {
	sendAttrs := mcp.NewTool("send_attrs",
		mcp.WithDescription("Queue a write_attrs control for one device"),
		mcp.WithString("product_key", mcp.Required(), mcp.Description("Product key of the device")),
		mcp.WithString("did", mcp.Description("Device id, required unless mac is given")),
		mcp.WithString("mac", mcp.Description("Device MAC, required unless did is given")),
		mcp.WithObject("attrs", mcp.Required(), mcp.Description("Attribute names and values to write")),
	)
	b.server.AddTool(sendAttrs, b.handleSendAttrs)

	sendRaw := mcp.NewTool("send_raw",
		mcp.WithDescription("Queue a raw byte control for one device"),
		mcp.WithString("product_key", mcp.Required(), mcp.Description("Product key of the device")),
		mcp.WithString("did", mcp.Description("Device id, required unless mac is given")),
		mcp.WithString("mac", mcp.Description("Device MAC, required unless did is given")),
		mcp.WithString("cmd",
			mcp.Description("Control verb"),
			mcp.Enum(string(proto.WriteRaw), string(proto.WriteV1)),
		),
		mcp.WithArray("raw",
			mcp.Required(),
			mcp.Description("Payload bytes as numbers, signed (-128..127) or unsigned (0-255)"),
			mcp.Items(map[string]any{"type": "number"}),
		),
	)
	b.server.AddTool(sendRaw, b.handleSendRaw)

	restart := mcp.NewTool("restart",
		mcp.WithDescription("Force the client to reconnect and log in again"),
	)
	b.server.AddTool(restart, b.handleRestart)
}

func (b *Bridge) registerEventTools() {
	poll := mcp.NewTool("poll_events",
		mcp.WithDescription("Take received push events off the inbound queue"),
		mcp.WithNumber("max", mcp.Description("Maximum number of events to return")),
		mcp.WithNumber("wait_ms", mcp.Description("How long to wait for the first event when none is queued")),
	)
	b.server.AddTool(poll, b.handlePollEvents)

	status := mcp.NewTool("client_status",
		mcp.WithDescription("Report the client's run state and queue status"),
	)
	b.server.AddTool(status, b.handleStatus)
}

func (b *Bridge) handleSendAttrs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productKey, err := request.RequireString("product_key")
	if err != nil {
		return mcp.NewToolResultError("product_key is required and must be a string"), nil
	}
	did := request.GetString("did", "")
	mac := request.GetString("mac", "")

	attrs, ok := arguments(request)["attrs"].(map[string]any)
	if !ok || len(attrs) == 0 {
		return mcp.NewToolResultError("attrs is required and must be a non-empty object"), nil
	}
	if err := proto.NewAttrsTarget(productKey, mac, did, attrs).Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !b.client.SendAttrs(productKey, mac, did, attrs) {
		return mcp.NewToolResultError(fmt.Sprintf("Client is not accepting commands (state %s)", b.client.State())), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Queued write_attrs for %s/%s", productKey, did+mac)), nil
}

func (b *Bridge) handleSendRaw(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productKey, err := request.RequireString("product_key")
	if err != nil {
		return mcp.NewToolResultError("product_key is required and must be a string"), nil
	}
	did := request.GetString("did", "")
	mac := request.GetString("mac", "")
	kind := proto.DataCommand(request.GetString("cmd", string(proto.WriteRaw)))

	values, ok := arguments(request)["raw"].([]any)
	if !ok {
		return mcp.NewToolResultError("raw is required and must be an array of numbers"), nil
	}
	raw := make([]byte, len(values))
	for i, v := range values {
		n, ok := v.(float64)
		if !ok || n < -128 || n > 255 || n != float64(int(n)) {
			return mcp.NewToolResultError(fmt.Sprintf("raw[%d] must be an integer between -128 and 255", i)), nil
		}
		raw[i] = byte(int(n))
	}
	if err := proto.NewRawTarget(productKey, mac, did, kind, raw).Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if !b.client.SendRaw(productKey, mac, did, kind, raw) {
		return mcp.NewToolResultError(fmt.Sprintf("Client is not accepting commands (state %s)", b.client.State())), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Queued %s of %d bytes for %s/%s", kind, len(raw), productKey, did+mac)), nil
}

func (b *Bridge) handleRestart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b.client.Restart()
	return mcp.NewToolResultText(fmt.Sprintf("Client state after restart: %s", b.client.State())), nil
}

func arguments(request mcp.CallToolRequest) map[string]any {
	args, _ := request.GetRawArguments().(map[string]any)
	return args
}

type pollResult struct {
	Events    []json.RawMessage `json:"events"`
	More      bool              `json:"more"`
	Destroyed bool              `json:"destroyed,omitempty"`
}

// handlePollEvents never blocks on a non-empty queue; wait_ms only applies
// to the first event.
func (b *Bridge) handlePollEvents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("max", defaultPollMax))
	if limit <= 0 {
		limit = defaultPollMax
	}
	limit = min(limit, maxPollMax)
	wait := time.Duration(request.GetFloat("wait_ms", 0)) * time.Millisecond

	result := pollResult{Events: []json.RawMessage{}}
	for len(result.Events) < limit {
		if !b.client.HasPending() && (len(result.Events) > 0 || wait <= 0) {
			break
		}

		timeout := wait
		if len(result.Events) > 0 || timeout <= 0 {
			timeout = 10 * time.Millisecond
		}
		pollCtx, cancel := context.WithTimeout(ctx, timeout)
		frame, err := b.client.ReceiveContext(pollCtx)
		cancel()
		if err != nil {
			if errors.Is(err, client.ErrDestroyed) {
				result.Destroyed = true
			} else if !errors.Is(err, context.DeadlineExceeded) {
				slog.Debug("Event poll stopped", "error", err)
			}
			break
		}
		result.Events = append(result.Events, json.RawMessage(frame))
	}
	result.More = b.client.HasPending()

	out, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode events: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (b *Bridge) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg := b.client.Config()
	status := map[string]any{
		"client_id":      b.client.ID(),
		"addr":           cfg.Addr(),
		"state":          b.client.State().String(),
		"running":        b.client.IsRunning(),
		"pending_events": b.client.HasPending(),
		"timestamp":      time.Now().Unix(),
	}
	out, _ := json.Marshal(status)
	return mcp.NewToolResultText(string(out)), nil
}
