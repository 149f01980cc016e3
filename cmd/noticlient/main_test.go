package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mbocsi/gonoti/client"
	"github.com/mbocsi/gonoti/cmd/internal/cli"
	"github.com/mbocsi/gonoti/proto"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bind(t *testing.T, args ...string) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	cmd := newRootCommand()
	require.NoError(t, cmd.Flags().Parse(args))
	_, err := cli.BindConfig(cmd.Flags())
	require.NoError(t, err)
}

func TestBuildConfig(t *testing.T) {
	bind(t,
		"--host", "127.0.0.1",
		"--port", "3017",
		"--max-frame", "16KiB",
		"--product-key", "pk",
		"--auth-id", "id",
		"--auth-secret", "secret",
		"--subkey", "sub",
		"--events", "device.online,device.status.raw",
		"--backoff-initial", "200ms",
	)

	cfg, err := buildConfig(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:3017", cfg.Addr())
	assert.Equal(t, 16*1024, cfg.MaxFrameLength)
	assert.Equal(t, client.DefaultQueueCapacity, cfg.OutboundCapacity)
	assert.True(t, cfg.Backoff.Enabled())
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff.InitialInterval)

	require.Len(t, cfg.Login.Accounts, 1)
	acct := cfg.Login.Accounts[0]
	assert.Equal(t, "pk", acct.ProductKey)
	assert.Equal(t, []proto.EventType{proto.EventDeviceOnline, proto.EventStatusRaw}, acct.Events)
}

func TestBuildConfigSecretFromEnv(t *testing.T) {
	t.Setenv("NOTI_AUTH_SECRET", "from-env")
	bind(t, "--product-key", "pk", "--auth-id", "id", "--subkey", "sub")

	cfg, err := buildConfig(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Login.Accounts[0].AuthSecret)
	assert.False(t, cfg.Backoff.Enabled())
}

func TestBuildConfigRequiresLogin(t *testing.T) {
	bind(t, "--product-key", "pk")

	_, err := buildConfig(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
