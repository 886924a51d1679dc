package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/animus-labs/mlregistry-go/internal/platform/env"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

type Config struct {
	Format Format `yaml:"format" toml:"format"`
	Level  string `yaml:"level" toml:"level"`
}

func ConfigFromEnv(def Config) Config {
	return Config{
		Format: Format(strings.ToLower(env.String("MLREG_LOG_FORMAT", string(def.Format)))),
		Level:  env.String("MLREG_LOG_LEVEL", def.Level),
	}
}

func (c Config) Validate() error {
	switch c.Format {
	case "", FormatJSON, FormatText:
	default:
		return fmt.Errorf("log format must be one of: json, text (got %q)", c.Format)
	}
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	return nil
}

// New builds a logger writing to w, or stderr when w is nil.
func New(cfg Config, w io.Writer) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	level, _ := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("component", "mlregistry"), nil
}

// Discard is used by tests and callers that do not want client logs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log level must be one of: debug, info, warn, error (got %q)", raw)
	}
}
