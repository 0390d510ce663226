// Package logger builds the structured loggers used by the CLI and server.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string `yaml:"level"`

	// Format is text or json. Empty means text.
	Format string `yaml:"format"`

	// File, when set, sends output to a rotating log file instead of stderr.
	File string `yaml:"file"`

	// MaxSizeMB is the rotation size of File.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	WithSource bool `yaml:"with_source"`
}

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

// Validate checks level and format.
func (c Config) Validate() error {
	if _, err := levelFromString(c.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	}
	return errors.New("invalid log format: " + c.Format)
}

// New creates a logger writing to stderr or, if cfg.File is set, to a
// rotating file.
func New(cfg Config) (*slog.Logger, error) {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    size, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	return NewWriter(cfg, w)
}

// NewWriter creates a logger writing to w.
func NewWriter(cfg Config, w io.Writer) (*slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lvl, _ := levelFromString(cfg.Level)

	opts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
