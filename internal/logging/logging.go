// Package logging configures structured logging for scantamper.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"

	"scantamper/pkg/config"
)

// Setup builds the application logger from the logging section of the configuration.
// Messages go to stdout as JSON unless a log file is configured, in which case the file
// is rotated according to MaxSize (megabytes) and MaxAge (days).
// The returned closer must be called on shutdown.
func Setup(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	invalidLevel := false
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		invalidLevel = true
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.Logging.File != "" {
		fmt.Printf("Sending log messages to: %s\n", cfg.Logging.File)
		l := &lumberjack.Logger{
			Filename: cfg.Logging.File,
			MaxSize:  cfg.Logging.MaxSize, // megabytes
			MaxAge:   cfg.Logging.MaxAge,  // days
		}
		out = l
		closer = l
	}

	logger := New(out, level)
	if invalidLevel {
		logger.Warn("invalid log level configured, using default level",
			"configured_level", cfg.Logging.Level,
			"default_level", "info")
	}
	slog.SetDefault(logger)
	return logger, closer, nil
}

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
