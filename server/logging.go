package server

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
	return LogConfig{Level: slog.LevelDebug, Format: "json", Writer: os.Stdout}
}

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
