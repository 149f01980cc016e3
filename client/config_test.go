package client

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "snoti.gizwits.com:2017", cfg.Addr())
	assert.Equal(t, 8192, cfg.MaxFrameLength)
	assert.Equal(t, 50000, cfg.OutboundCapacity)
	assert.Equal(t, 50000, cfg.InboundCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.DrainInterval)
	assert.False(t, cfg.Backoff.Enabled())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty host", func(c *Config) { c.Host = " " }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"port too large", func(c *Config) { c.Port = 65536 }},
		{"zero frame length", func(c *Config) { c.MaxFrameLength = 0 }},
		{"zero outbound capacity", func(c *Config) { c.OutboundCapacity = 0 }},
		{"negative inbound capacity", func(c *Config) { c.InboundCapacity = -1 }},
		{"zero drain interval", func(c *Config) { c.DrainInterval = 0 }},
		{"zero high water", func(c *Config) { c.WriteHighWater = 0 }},
		{"inverted backoff", func(c *Config) {
			c.Backoff = BackoffConfig{InitialInterval: time.Second, MaxInterval: time.Millisecond}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigAddrIPv6(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "::1"
	cfg.Port = 9000
	assert.Equal(t, "[::1]:9000", cfg.Addr())
}

func TestBackoffConfig(t *testing.T) {
	assert.Nil(t, BackoffConfig{}.newBackOff())

	b := BackoffConfig{InitialInterval: 10 * time.Millisecond, MaxInterval: 20 * time.Millisecond, Multiplier: 2}.newBackOff()
	require.NotNil(t, b)
	for i := 0; i < 5; i++ {
		next := b.NextBackOff()
		assert.NotEqual(t, backoff.Stop, next)
		assert.LessOrEqual(t, next, 30*time.Millisecond)
	}
}

func TestOptionsOverrideConfig(t *testing.T) {
	transport := &fakeTransport{}
	c, err := New(DefaultConfig(),
		WithHost("127.0.0.1"),
		WithPort(4000),
		WithMaxFrameLength(1024),
		WithTransport(transport),
		WithTransport(nil),
		WithCodec(nil),
		WithLogger(nil),
	)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", c.Config().Addr())
	assert.Equal(t, 1024, c.Config().MaxFrameLength)
	assert.Same(t, transport, c.transport)
	assert.NotNil(t, c.codec)
	assert.NotNil(t, c.logger)
	assert.NotEmpty(t, c.ID())
}
