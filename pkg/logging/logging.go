// Package logging builds the slog logger shared by both binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sentinelpulse/sentinelpulse/pkg/config"
)

// Logger bundles the slog.Logger with the level it was built with, so the
// level can be changed after a config reload.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// New returns a Logger writing to stdout, or to a rotating file when
// cfg.File is set.
func New(cfg config.LoggingConfig) *Logger {
	return newWithWriter(cfg, nil)
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	var closer io.Closer
	if w == nil {
		w = os.Stdout
		if cfg.File != "" {
			rotator := &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   true,
			}
			w, closer = rotator, rotator
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler), level: level, closer: closer}
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(name string) {
	l.level.Set(ParseLevel(name))
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close flushes and closes the file sink, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel maps debug, warn and error to their slog levels; anything
// else is info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
