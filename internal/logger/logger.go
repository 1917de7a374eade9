// Package logger builds the zerolog loggers shared by every component.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stellarlinkco/companion/internal/config"
)

// Options control where and how log lines are written.
type Options struct {
	Output io.Writer // console sink, os.Stderr when nil
}

// New returns the root logger and a closer for the rotating file sink, if any.
func New(cfg config.LogConfig, opts Options) (zerolog.Logger, io.Closer) {
	console := opts.Output
	if console == nil {
		console = os.Stderr
	}
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if file := strings.TrimSpace(cfg.File); file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0755); err == nil {
			rotating := &lumberjack.Logger{
				Filename:   file,
				MaxSize:    cfg.MaxSizeMb,
				MaxBackups: cfg.MaxBackups,
				LocalTime:  true,
			}
			out = zerolog.MultiLevelWriter(console, rotating)
			closer = rotating
		}
	}

	l := zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", "companion").
		Logger()
	return l, closer
}

// ParseLevel maps debug/info/warn/error to zerolog levels; anything else is info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component derives a child logger tagged with the component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
