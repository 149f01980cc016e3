package client

import (
	"io"
	"log/slog"
	"os"
)

type LogConfig struct {
	Level  slog.Level
	Format string // "json" or "text"
	Writer io.Writer
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: slog.LevelInfo, Format: "json", Writer: os.Stdout}
}

// QuietLogConfig only reports warnings and errors.
func QuietLogConfig() LogConfig {
	return LogConfig{Level: slog.LevelWarn, Format: "text", Writer: os.Stderr}
}

// SuppressedLogConfig discards everything. Used by tests.
func SuppressedLogConfig() LogConfig {
	return LogConfig{Level: slog.LevelError + 4, Format: "text", Writer: io.Discard}
}

func NewLogger(cfg LogConfig) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewClientWithLogging builds a client whose logger follows logCfg.
func NewClientWithLogging(cfg Config, logCfg LogConfig, opts ...Option) (*Client, error) {
	opts = append([]Option{WithLogger(NewLogger(logCfg))}, opts...)
	return New(cfg, opts...)
}
