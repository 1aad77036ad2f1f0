package bus

import "errors"

// ErrQueueFull is returned by TrySubmit when the bus's bounded queue has
// no room and the caller has opted into fail-fast semantics (guest
// logback emission, per spec.md §7).
var ErrQueueFull = errors.New("bus: queue full")

// ErrClosed is returned by Submit/TrySubmit once the bus has been stopped.
var ErrClosed = errors.New("bus: closed")

// ErrEmptyChannel is returned when an event with an empty channel name is
// submitted.
var ErrEmptyChannel = errors.New("bus: event channel must be non-empty")
