// Package bus implements the event bus and channel dispatcher: the fabric
// that routes an incoming Event to every module subscribed to its channel.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Source describes where an Event originated: an inbound webhook label or
// an internal source adapter identifier (timer, audit-log poller, or a
// guest module emitting a logback).
type Source struct {
	Webhook string `json:"webhook,omitempty"`
	Label   string `json:"label,omitempty"`
	Module  string `json:"module,omitempty"`
}

// LogbackBudget is the tagged union described in spec.md §3: either
// Unlimited, or Limited(n) counting down to zero. It is never increased
// in transit.
type LogbackBudget struct {
	Unlimited bool  `json:"unlimited"`
	Remaining int32 `json:"remaining,omitempty"`
}

// UnlimitedBudget returns a budget with no emit-depth limit.
func UnlimitedBudget() LogbackBudget {
	return LogbackBudget{Unlimited: true}
}

// LimitedBudget returns a budget that permits exactly n further logbacks.
func LimitedBudget(n int32) LogbackBudget {
	if n < 0 {
		n = 0
	}
	return LogbackBudget{Remaining: n}
}

// CanEmit reports whether a logback may be emitted under this budget.
func (b LogbackBudget) CanEmit() bool {
	return b.Unlimited || b.Remaining > 0
}

// Decremented returns the budget an emitted child event carries. Unlimited
// propagates unchanged; Limited(n) becomes Limited(n-1). Callers must check
// CanEmit before calling this.
func (b LogbackBudget) Decremented() LogbackBudget {
	if b.Unlimited {
		return b
	}
	return LogbackBudget{Remaining: b.Remaining - 1}
}

// Event is the internal representation of the spec's "Message": an
// immutable payload delivered on a named logging channel.
type Event struct {
	ID        string            `json:"id"`
	Channel   string            `json:"channel"`
	Payload   []byte            `json:"payload"`
	Source    Source            `json:"source"`
	Accessory map[string]string `json:"accessory,omitempty"`
	Logback   LogbackBudget     `json:"logback"`
	CreatedAt time.Time         `json:"created_at"`
}

// MaxAccessoryEntries bounds the accessory map so a single event cannot
// blow the host-call marshalling budget.
const MaxAccessoryEntries = 64

// New builds an Event with a generated ID and timestamp. The channel must
// be non-empty; callers are expected to have validated this already (the
// dispatcher rejects empty channels defensively, see Bus.Submit).
func New(channel string, payload []byte, source Source, accessory map[string]string, logback LogbackBudget) Event {
	if len(accessory) > MaxAccessoryEntries {
		trimmed := make(map[string]string, MaxAccessoryEntries)
		i := 0
		for k, v := range accessory {
			if i >= MaxAccessoryEntries {
				break
			}
			trimmed[k] = v
			i++
		}
		accessory = trimmed
	}
	return Event{
		ID:        uuid.New().String(),
		Channel:   channel,
		Payload:   payload,
		Source:    source,
		Accessory: accessory,
		Logback:   logback,
		CreatedAt: time.Now(),
	}
}
