package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mbocsi/gonoti/client"
	"github.com/mbocsi/gonoti/cmd/internal/cli"
	"github.com/mbocsi/gonoti/mcp"
	"github.com/mbocsi/gonoti/proto"
	"github.com/mbocsi/gonoti/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func main() {
	os.Exit(cli.Execute(newRootCommand()))
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "noticlient",
		Short:         "noticlient keeps a logged-in connection to a push notification server and prints received events",
		SilenceErrors: true,
		Version:       version,
		Example: `
  # Print events for one product key
  noticlient --product-key pk --auth-id id --auth-secret secret --subkey sub

  # Find a local server over mDNS and expose an HTTP control API
  noticlient --discover --metrics-listen :9090 --product-key pk --auth-id id --auth-secret secret --subkey sub

  # Serve MCP tools on stdio instead of printing events
  NOTI_AUTH_SECRET=secret noticlient --mcp --product-key pk --auth-id id --subkey sub
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return run(cmd.Context(), cmd)
		},
	}

	flags := cmd.Flags()
	cli.AddCommonFlags(flags)
	flags.String("host", client.DefaultHost, "notification server host")
	flags.Int("port", client.DefaultPort, "notification server port")
	flags.String("transport", "tcp", "connection transport (tcp or ws)")
	flags.Bool("discover", false, "find the server over mDNS instead of using --host and --port")
	flags.Duration("discover-timeout", 3*time.Second, "how long to wait for an mDNS answer")
	flags.String("max-frame", cli.HumanBytes(client.DefaultMaxFrameLength), "longest accepted inbound frame")

	flags.String("product-key", "", "product key to log in for")
	flags.String("auth-id", "", "authorization id")
	flags.String("auth-secret", "", "authorization secret")
	flags.String("subkey", "", "subscription key")
	flags.StringSlice("events", []string{
		string(proto.EventDeviceOnline),
		string(proto.EventDeviceOffline),
		string(proto.EventStatusKV),
	}, "event types to subscribe to")
	flags.Int("prefetch", 0, "prefetch count sent with the login, 0 leaves the server default")

	flags.Duration("backoff-initial", 0, "first reconnect delay, 0 reconnects once without retrying")
	flags.Duration("backoff-max", 30*time.Second, "longest reconnect delay")
	flags.Duration("backoff-max-elapsed", 0, "give up reconnecting after this long, 0 retries forever")
	flags.Duration("drain-timeout", 10*time.Second, "how long shutdown waits for queued commands")

	flags.String("metrics-listen", "", "serve health, status, metrics and the control API on this address")
	flags.Bool("mcp", false, "serve MCP tools on stdio")
	flags.Bool("print-events", true, "print received events to stdout, one JSON frame per line")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command) error {
	configFile, err := cli.BindConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := cli.Logger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if configFile != "" {
		logger.Info("Loaded config file", "path", configFile)
	}

	cfg, err := buildConfig(ctx, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []client.Option{client.WithLogger(logger), client.WithMetrics(reg)}
	if viper.GetString("transport") == "ws" {
		opts = append(opts, client.WithTransport(client.NewWebSocketTransport()))
	}
	c, err := client.New(cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("drain-timeout"))
		defer cancel()
		if err := c.Destroy(drainCtx); err != nil {
			logger.Warn("Shutdown left queued commands unsent", "error", err)
		}
	}()

	if err := c.Start(ctx); err != nil {
		return err
	}

	if addr := viper.GetString("metrics-listen"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: web.NewWebClient(c, reg).Routes()}
		go func() {
			logger.Info("Serving HTTP API", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP API stopped", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	if viper.GetBool("mcp") {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			defer cancel()
			if err := mcp.NewBridge(c, version).Run(); err != nil {
				logger.Error("MCP server stopped", "error", err)
			}
		}()
		<-ctx.Done()
		return nil
	}

	if !viper.GetBool("print-events") {
		<-ctx.Done()
		return nil
	}
	return printEvents(ctx, c)
}

func printEvents(ctx context.Context, c *client.Client) error {
	for {
		frame, err := c.ReceiveContext(ctx)
		switch {
		case err == nil:
			fmt.Fprintln(os.Stdout, frame)
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, client.ErrDestroyed):
			return errors.New("connection lost and could not be restored")
		default:
			return err
		}
	}
}

func buildConfig(ctx context.Context, logger *slog.Logger) (client.Config, error) {
	cfg := client.DefaultConfig()
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")

	maxFrame, err := cli.Bytes("max-frame")
	if err != nil {
		return cfg, err
	}
	if maxFrame > 0 {
		cfg.MaxFrameLength = maxFrame
	}

	if viper.GetBool("discover") {
		dctx, cancel := context.WithTimeout(ctx, viper.GetDuration("discover-timeout"))
		svc, err := client.Discover(dctx, client.DefaultServiceName)
		cancel()
		if err != nil {
			return cfg, err
		}
		logger.Info("Discovered server", "name", svc.Name, "addr", svc.Addr(), "transport", svc.Transport)
		cfg.Host = svc.Host
		cfg.Port = svc.Port
		if svc.Transport == "websocket" {
			viper.Set("transport", "ws")
		}
	}

	if initial := viper.GetDuration("backoff-initial"); initial > 0 {
		cfg.Backoff = client.BackoffConfig{
			InitialInterval: initial,
			MaxInterval:     viper.GetDuration("backoff-max"),
			Multiplier:      2,
			MaxElapsedTime:  viper.GetDuration("backoff-max-elapsed"),
		}
	}

	var events []proto.EventType
	for _, e := range viper.GetStringSlice("events") {
		events = append(events, proto.EventType(e))
	}
	cfg.Login = proto.Login{
		PrefetchCount: viper.GetInt("prefetch"),
		Accounts: []proto.LoginAccount{{
			ProductKey: viper.GetString("product-key"),
			AuthID:     viper.GetString("auth-id"),
			AuthSecret: viper.GetString("auth-secret"),
			Subkey:     viper.GetString("subkey"),
			Events:     events,
		}},
	}
	if err := cfg.Login.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid login: %w", err)
	}
	return cfg, nil
}
