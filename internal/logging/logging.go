package logging

import (
	"io"
	"log/slog"
	"os"
)

// Option configures a logger built by New, mirroring the functional
// options pattern documented by the teacher's core/logger package.
type Option func(*options)

type options struct {
	level  slog.Level
	format string // "json" or "text"
	output io.Writer
}

// WithLevel sets the minimum enabled log level.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithJSONFormatter selects the JSON handler.
func WithJSONFormatter() Option {
	return func(o *options) { o.format = "json" }
}

// WithTextFormatter selects the human-readable text handler.
func WithTextFormatter() Option {
	return func(o *options) { o.format = "text" }
}

// WithOutput overrides the destination writer, defaulting to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// New builds a *slog.Logger from the given options, defaulting to
// info-level JSON logging to stdout.
func New(opts ...Option) *slog.Logger {
	o := options{level: slog.LevelInfo, format: "json", output: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	handlerOpts := &slog.HandlerOptions{Level: o.level}
	var handler slog.Handler
	if o.format == "text" {
		handler = slog.NewTextHandler(o.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(o.output, handlerOpts)
	}
	return slog.New(handler)
}

// ParseLevel maps the config file's level strings onto slog.Level,
// defaulting to Info for an empty or unrecognized value.
func ParseLevel(s string) slog.Level {
	switch s {
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
