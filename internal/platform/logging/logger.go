// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger

// Options controls logger construction. File is optional; when set, records
// are written to stdout and to a size-rotated file.
type Options struct {
	Level  string
	Format string
	File   string
}

// InitLogger initializes the global logger and returns a closer for the log
// file (a no-op when no file is configured).
func InitLogger(opts Options) io.Closer {
	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	Logger = slog.New(newCorrelationHandler(NewHandler(out, opts.Level, opts.Format)))
	slog.SetDefault(Logger)
	return closer
}

// NewHandler builds a text or json handler writing to w.
func NewHandler(w io.Writer, level, format string) slog.Handler {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.NewTextHandler(w, handlerOpts)
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels,
// defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
