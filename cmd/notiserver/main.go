package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/mbocsi/gonoti/cmd/internal/cli"
	"github.com/mbocsi/gonoti/proto"
	"github.com/mbocsi/gonoti/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(newRootCommand()))
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "notiserver",
		Short:         "notiserver is a local push notification server for developing and testing noticlient",
		SilenceErrors: true,
		Version:       version,
		Example: `
  # Accept any login on the default port and advertise it on the LAN
  notiserver --advertise

  # Require credentials and also accept WebSocket clients
  notiserver --credentials id1=secret1,id2=secret2 --ws-listen :2018

  # Echo every write_attrs control back as a device.status.kv push
  notiserver --echo-controls
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), cmd)
		},
	}

	flags := cmd.Flags()
	cli.AddCommonFlags(flags)
	flags.String("tcp-listen", ":2017", "TCP listen address, empty disables")
	flags.String("ws-listen", "", "WebSocket listen address, empty disables")
	flags.String("ws-path", "/", "WebSocket upgrade path")
	flags.Int("max-clients", 0, "sessions allowed per transport, 0 is unlimited")
	flags.String("max-frame", "8KiB", "longest accepted inbound frame")
	flags.StringToString("credentials", nil, "auth_id=auth_secret pairs accepted at login, empty accepts any login")
	flags.Bool("advertise", false, "announce the transports over mDNS")
	flags.String("instance", "", "mDNS instance name (defaults to the hostname)")
	flags.Bool("echo-controls", false, "push a device.status.kv event for every received write_attrs target")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command) error {
	if _, err := cli.BindConfig(cmd.Flags()); err != nil {
		return err
	}
	logger, err := cli.Logger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	maxFrame, err := cli.Bytes("max-frame")
	if err != nil {
		return err
	}

	auth := server.AllowAll
	if creds := viper.GetStringMapString("credentials"); len(creds) > 0 {
		auth = server.StaticCredentials(creds)
	}
	srv := server.NewNotiServer(server.NotiServerOptions{Authenticator: auth, Context: ctx})

	var transports int
	if addr := viper.GetString("tcp-listen"); addr != "" {
		t := server.NewTCPTransport(addr)
		t.SetName("TCP")
		t.SetMaxClients(viper.GetInt("max-clients"))
		t.SetMaxFrameLength(maxFrame)
		t.SetDescription("Newline delimited JSON over TCP")
		if err := t.Listen(); err != nil {
			return err
		}
		srv.RegisterTransport(t)
		transports++
		if viper.GetBool("advertise") {
			if stop, err := advertise(t.ListenAddr(), "tcp"); err != nil {
				logger.Warn("mDNS advertisement failed", "error", err)
			} else {
				defer stop()
			}
		}
	}
	if addr := viper.GetString("ws-listen"); addr != "" {
		t := server.NewWSTransport(addr)
		t.Path = viper.GetString("ws-path")
		t.SetName("WebSocket")
		t.SetMaxClients(viper.GetInt("max-clients"))
		t.SetMaxFrameLength(maxFrame)
		t.SetDescription("JSON text messages over WebSocket")
		if err := t.Listen(); err != nil {
			return err
		}
		srv.RegisterTransport(t)
		transports++
		if viper.GetBool("advertise") {
			if stop, err := advertise(t.ListenAddr(), "websocket"); err != nil {
				logger.Warn("mDNS advertisement failed", "error", err)
			} else {
				defer stop()
			}
		}
	}
	if transports == 0 {
		return fmt.Errorf("no transport enabled, set --tcp-listen or --ws-listen")
	}

	if viper.GetBool("echo-controls") {
		srv.OnCommand(func(rc server.ReceivedCommand) {
			for _, ev := range echoEvents(rc) {
				n := srv.Push(ev)
				logger.Debug("Echoed control", "product_key", ev.ProductKey, "did", ev.DID, "sessions", n)
			}
		})
	}

	logger.Info("Starting notification server", "version", version, "transports", transports)
	return srv.Run(ctx)
}

func advertise(addr net.Addr, transport string) (func(), error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}
	mdnsServer, err := server.Advertise(viper.GetString("instance"), port, transport)
	if err != nil {
		return nil, err
	}
	return func() { _ = mdnsServer.Shutdown() }, nil
}

// echoEvents turns the write_attrs targets of a received control into the
// status pushes a device would send after applying them.
func echoEvents(rc server.ReceivedCommand) []proto.Event {
	var events []proto.Event
	for _, t := range rc.Command.Targets {
		attrs, ok := t.Payload.(proto.Attrs)
		if !ok {
			continue
		}
		data, err := json.Marshal(attrs)
		if err != nil {
			continue
		}
		events = append(events, proto.Event{
			Cmd:        proto.CmdEventPush,
			EventType:  string(proto.EventStatusKV),
			ProductKey: t.ProductKey,
			DID:        t.DeviceID,
			MAC:        t.MAC,
			CreatedAt:  float64(rc.ReceivedAt.UnixMilli()) / 1000,
			Data:       data,
		})
	}
	return events
}
