package client

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/mbocsi/gonoti/proto"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultHost           = "snoti.gizwits.com"
	DefaultPort           = 2017
	DefaultMaxFrameLength = 8192
	DefaultQueueCapacity  = 50000
)

// Config is fixed once a Client is built. Use options to override defaults.
type Config struct {
	Host           string
	Port           int
	MaxFrameLength int // longest accepted inbound frame in bytes

	OutboundCapacity int
	InboundCapacity  int

	// DrainInterval is how often Destroy re-checks the outbound queue.
	DrainInterval  time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	WriteHighWater int // frames buffered per connection before it reports not writable

	Backoff BackoffConfig
	Login   proto.Login
}

// BackoffConfig spaces out consecutive reconnects. The zero value disables
// it: every unhealthy observation restarts immediately and a failed re-open
// is final.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration // 0 retries forever
}

func (b BackoffConfig) Enabled() bool {
	return b.InitialInterval > 0
}

func (b BackoffConfig) newBackOff() backoff.BackOff {
	if !b.Enabled() {
		return nil
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.InitialInterval
	if b.MaxInterval > 0 {
		eb.MaxInterval = b.MaxInterval
	}
	if b.Multiplier > 0 {
		eb.Multiplier = b.Multiplier
	}
	eb.MaxElapsedTime = b.MaxElapsedTime
	eb.Reset()
	return eb
}

func DefaultConfig() Config {
	return Config{
		Host:             DefaultHost,
		Port:             DefaultPort,
		MaxFrameLength:   DefaultMaxFrameLength,
		OutboundCapacity: DefaultQueueCapacity,
		InboundCapacity:  DefaultQueueCapacity,
		DrainInterval:    100 * time.Millisecond,
		DialTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		WriteHighWater:   1024,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.MaxFrameLength <= 0:
		return fmt.Errorf("%w: max frame length must be positive", ErrInvalidConfig)
	case c.OutboundCapacity <= 0 || c.InboundCapacity <= 0:
		return fmt.Errorf("%w: queue capacities must be positive", ErrInvalidConfig)
	case c.DrainInterval <= 0:
		return fmt.Errorf("%w: drain interval must be positive", ErrInvalidConfig)
	case c.WriteHighWater <= 0:
		return fmt.Errorf("%w: write high water must be positive", ErrInvalidConfig)
	case c.Backoff.Enabled() && c.Backoff.MaxInterval > 0 && c.Backoff.MaxInterval < c.Backoff.InitialInterval:
		return fmt.Errorf("%w: backoff max interval below initial interval", ErrInvalidConfig)
	}
	return nil
}

type Option func(*Client)

func WithHost(host string) Option {
	return func(c *Client) { c.cfg.Host = host }
}

func WithPort(port int) Option {
	return func(c *Client) { c.cfg.Port = port }
}

func WithMaxFrameLength(n int) Option {
	return func(c *Client) { c.cfg.MaxFrameLength = n }
}

func WithLogin(login proto.Login) Option {
	return func(c *Client) { c.cfg.Login = login }
}

func WithBackoff(b BackoffConfig) Option {
	return func(c *Client) { c.cfg.Backoff = b }
}

// WithTransport replaces the default TCP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

func WithCodec(codec proto.Codec) Option {
	return func(c *Client) {
		if codec != nil {
			c.codec = codec
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithListener sets the lifecycle event sink. It is called synchronously and
// must not call back into Start, Restart or Destroy.
func WithListener(l Listener) Option {
	return func(c *Client) { c.listener = l }
}

// WithMetrics registers the client's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}
