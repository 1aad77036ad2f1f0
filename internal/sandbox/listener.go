package sandbox

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// perCallFuelCost is the fixed unit debited from a ModuleInstance's
// remaining fuel on every function call wazero's listener hooks fire
// for. NewFunctionListener below ignores the api.FunctionDefinition it
// is given and attaches fuelListener to every function in the module —
// imported host calls, exported entry points, and ordinary
// guest-internal calls alike — so this is not limited to the
// guest/host boundary. It is still only call-granularity, not
// instruction-granularity: wazero's experimental package exposes no
// per-instruction hook (unlike e.g. wasmtime's native fuel counter,
// which is woven into the bytecode itself), so a function body that
// loops without making any further calls burns zero fuel for the
// duration of that loop and is bounded only by the invocation's
// wall-clock timeout (executor.go's context.WithTimeout), never by
// fuel exhaustion. This is a disclosed limitation of building fuel
// metering on wazero's public API, not a resolution of any spec Open
// Question — see DESIGN.md.
const perCallFuelCost = 1

// fuelListenerFactory implements experimental.FunctionListenerFactory,
// wiring every function call in the module — not just ones crossing
// the guest/host boundary — through fuelListener so calls can be
// metered and a fuel-exhausted instance can be cancelled promptly.
type fuelListenerFactory struct{}

func (fuelListenerFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return fuelListener{}
}

type fuelListener struct{}

// Before debits perCallFuelCost from the invoking ModuleInstance (looked
// up from ctx, attached by the executor before calling the guest entry
// point) and cancels the context once the instance's fuel is exhausted.
// wazero's WithCloseOnContextDone(true) turns that cancellation into a
// trap on the next host-call or export-return boundary, which the
// executor logs as a trap with reason "timeout_or_fuel_exhausted".
func (fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) context.Context {
	inst := InstanceFromContext(ctx)
	if inst == nil {
		return ctx
	}
	remaining := inst.FuelRemaining.Add(-perCallFuelCost)
	if remaining <= 0 {
		if cancel := cancelFromContext(ctx); cancel != nil {
			cancel()
		}
	}
	return ctx
}

func (fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

type cancelKeyType struct{}

var cancelKey cancelKeyType

// withCancel attaches the invocation's cancel func so fuelListener can
// trip it from within a wazero callback, which only receives a context.
func withCancel(ctx context.Context, cancel context.CancelFunc) context.Context {
	return context.WithValue(ctx, cancelKey, cancel)
}

func cancelFromContext(ctx context.Context) context.CancelFunc {
	cancel, _ := ctx.Value(cancelKey).(context.CancelFunc)
	return cancel
}
