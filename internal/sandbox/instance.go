package sandbox

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/logback"
)

// ModuleInstance is the fresh, per-invocation state spec.md §3 describes:
// created per event, carries the host-visible slots the guest's host
// calls read and write, and is discarded when the invocation returns or
// traps. Never reused across invocations.
type ModuleInstance struct {
	ModuleName string
	Event      bus.Event
	TestMode   bool
	FuelLimit  uint64

	// FuelRemaining is debited by the function-listener fuel meter
	// (listener.go) on every function call the listener observes.
	FuelRemaining atomic.Int64

	mu        sync.Mutex
	response  []byte
	accessory map[string]string
	logback   bus.LogbackBudget
	source    bus.Source

	startedAt time.Time
}

// NewModuleInstance constructs the per-invocation state for one
// (module, event) pair.
func NewModuleInstance(moduleName string, event bus.Event, fuelLimit uint64, testMode bool) *ModuleInstance {
	inst := &ModuleInstance{
		ModuleName: moduleName,
		Event:      event,
		TestMode:   testMode,
		FuelLimit:  fuelLimit,
		accessory:  event.Accessory,
		logback:    event.Logback,
		source:     event.Source,
		startedAt:  time.Now(),
	}
	inst.FuelRemaining.Store(int64(fuelLimit))
	return inst
}

// SetResponse overwrites the response slot (spec.md §4.4 "set_response";
// overwrites silently per §4.4 item 4).
func (i *ModuleInstance) SetResponse(b []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	i.response = cp
}

// Response returns the bytes the guest placed into the response slot, or
// nil if none was set.
func (i *ModuleInstance) Response() []byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.response
}

// Accessory returns the value for key in the forwarded accessory map, and
// whether it was present.
func (i *ModuleInstance) Accessory(key string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.accessory[key]
	return v, ok
}

// Source returns the event's origin descriptor.
func (i *ModuleInstance) Source() bus.Source {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.source
}

// Logback returns the current remaining emit budget.
func (i *ModuleInstance) Logback() bus.LogbackBudget {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.logback
}

// DecrementLogback applies one emit against the budget, returning the
// child event's budget and whether the emit was permitted. Delegates the
// actual policy to internal/logback; this method only guards concurrent
// access to the instance's own copy (a single invocation is logically
// single-threaded, but host calls may run on the listener's goroutine).
func (i *ModuleInstance) DecrementLogback() (bus.LogbackBudget, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	child, ok := logback.Decrement(i.logback)
	if !ok {
		return bus.LogbackBudget{}, false
	}
	i.logback = child
	return child, true
}

// Elapsed returns wall-clock time since the instance was created, used to
// populate the benchmark PerformanceRecord on completion.
func (i *ModuleInstance) Elapsed() time.Duration {
	return time.Since(i.startedAt)
}

// FuelUsed returns the fuel consumed so far: FuelLimit minus whatever
// remains (clamped at zero, since the listener may debit past zero
// before cancellation takes effect).
func (i *ModuleInstance) FuelUsed() uint64 {
	remaining := i.FuelRemaining.Load()
	if remaining < 0 {
		remaining = 0
	}
	if uint64(remaining) >= i.FuelLimit {
		return 0
	}
	return i.FuelLimit - uint64(remaining)
}
