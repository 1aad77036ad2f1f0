// Package logback implements the budget controller of spec.md §4.6: the
// invariant that a Logback Budget is never increased in transit, and that
// an event admitted from an external source starts from the webhook's
// declared logbacks_allowed (default Limited(0)).
//
// The package is deliberately stateless — it owns no data of its own, only
// the two pure operations the dispatcher and the host call surface need.
package logback

import "github.com/plaidrun/plaid/internal/bus"

// DefaultBudget is the budget assigned to a webhook that does not declare
// logbacks_allowed (spec.md §6: "default Limited(0)").
var DefaultBudget = bus.LimitedBudget(0)

// Admit computes the budget an externally-sourced event is admitted with,
// given the owning webhook's configured allowance. A nil override (no
// logbacks_allowed in config) yields DefaultBudget.
func Admit(declared *bus.LogbackBudget) bus.LogbackBudget {
	if declared == nil {
		return DefaultBudget
	}
	return *declared
}

// Decrement applies one emitted logback against budget, returning the
// child event's budget. It is the single authority the host call surface
// defers to for log_back (spec.md §4.4 item 6 / §4.6): when budget is
// already exhausted, ok is false and the caller must surface
// OperationNotAllowed without submitting anything to the bus.
func Decrement(budget bus.LogbackBudget) (child bus.LogbackBudget, ok bool) {
	if !budget.CanEmit() {
		return bus.LogbackBudget{}, false
	}
	return budget.Decremented(), true
}
