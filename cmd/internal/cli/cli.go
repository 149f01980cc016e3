// Package cli holds the flag, config file and logging plumbing shared by the
// gonoti binaries.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/mbocsi/gonoti/client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const EnvPrefix = "NOTI"

// Execute runs cmd until it returns or the process is signalled and returns
// the exit code.
func Execute(cmd *cobra.Command) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// AddCommonFlags registers the config and logging flags every binary shares.
func AddCommonFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "path to a YAML, TOML or JSON config file")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json or text)")
	flags.BoolP("quiet", "q", false, "only log warnings and errors, as text")
	flags.String("log-file", "", "write logs to this file with rotation instead of stderr")
	flags.Int("log-max-size", 50, "rotate the log file after this many megabytes")
	flags.Int("log-max-backups", 5, "rotated log files to keep")
}

// BindConfig wires flags, NOTI_* environment variables and the optional
// config file into viper. Flags win over environment over file.
func BindConfig(flags *pflag.FlagSet) (string, error) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		return "", fmt.Errorf("bind flags: %w", err)
	}

	cfgPath := strings.TrimSpace(viper.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	viper.SetConfigFile(abs)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", abs, err)
	}
	return abs, nil
}

// LogConfig reads the bound log-* settings. Logs go to stderr so stdout stays
// free for command output. --quiet replaces log-level and log-format with
// client.QuietLogConfig.
func LogConfig() (client.LogConfig, error) {
	var cfg client.LogConfig
	if viper.GetBool("quiet") {
		cfg = client.QuietLogConfig()
	} else {
		cfg = client.DefaultLogConfig()
		cfg.Writer = os.Stderr
		if err := cfg.Level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
			return cfg, fmt.Errorf("parse log-level: %w", err)
		}
		switch format := strings.ToLower(viper.GetString("log-format")); format {
		case "text", "json":
			cfg.Format = format
		case "":
			cfg.Format = "json"
		default:
			return cfg, fmt.Errorf("unknown log-format %q", viper.GetString("log-format"))
		}
	}

	if path := viper.GetString("log-file"); path != "" {
		cfg.Writer = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    viper.GetInt("log-max-size"),
			MaxBackups: viper.GetInt("log-max-backups"),
			Compress:   true,
		}
	}
	return cfg, nil
}

// Logger builds the process logger from LogConfig.
func Logger() (*slog.Logger, error) {
	cfg, err := LogConfig()
	if err != nil {
		return nil, err
	}
	return client.NewLogger(cfg), nil
}

// Bytes reads a size setting such as "8KiB" or "8192".
func Bytes(key string) (int, error) {
	v := strings.TrimSpace(viper.GetString(key))
	if v == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return int(n), nil
}

// HumanBytes formats n the way Bytes accepts it.
func HumanBytes(n int) string {
	return strings.ReplaceAll(humanize.IBytes(uint64(n)), " ", "")
}
