// Package logging wraps log/slog with the engine's structured logger
// construction and a small set of domain attribute helpers, following
// the factory-plus-attribute-helpers shape of the teacher's core/logger
// package (functional options for construction, empty-Attr-on-nil for
// the helpers so call sites never need a guard).
package logging

import (
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// Returns an empty Attr for a nil error so call sites never need a guard.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed creates an attribute for the duration since start.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// Component creates an attribute for the emitting subsystem's name.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Channel creates an attribute for an event's logging channel.
func Channel(name string) slog.Attr {
	return slog.String("channel", name)
}

// Module creates an attribute for a module name.
func Module(name string) slog.Attr {
	return slog.String("module", name)
}

// FuelUsed creates an attribute for consumed fuel units.
func FuelUsed(n uint64) slog.Attr {
	return slog.Uint64("fuel_used", n)
}

// Count creates a generic counter attribute.
func Count(key string, n int) slog.Attr {
	return slog.Int(key, n)
}
