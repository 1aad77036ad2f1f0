package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/plaidrun/plaid/internal/benchmark"
	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/module"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// DefaultInvocationTimeout is the wall-clock ceiling applied when a
// module's configuration does not override it (spec.md §4.3: "default
// equal to the host API timeout").
const DefaultInvocationTimeout = 10 * time.Second

// EntryPointExport is the guest's conventional entry function name
// (spec.md §6): `(log_ptr, log_len, source_ptr, source_len) -> i32`.
const EntryPointExport = "handle_log"

// AllocExport is the guest-exported allocator the executor calls to
// obtain a linear-memory region for marshalling the event payload and
// source descriptor in, a convention borrowed from the wapc-go/wazero
// grounding file (_examples/other_examples).
const AllocExport = "alloc"

// Executor runs one (module, event) pair under the resource bounds of
// spec.md §4.3. It implements bus.Invoker: the dispatcher hands it
// (module, event) pairs directly.
type Executor struct {
	logger *slog.Logger
	sink   *benchmark.Sink
	sem    chan struct{} // bounds concurrent invocations, core/queue.Worker idiom
}

// NewExecutor constructs an Executor with a fixed-size invocation
// semaphore (the "executor pool" of spec.md §4.3).
func NewExecutor(logger *slog.Logger, sink *benchmark.Sink, poolSize int) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Executor{
		logger: logger,
		sink:   sink,
		sem:    make(chan struct{}, poolSize),
	}
}

// Invoke satisfies bus.Invoker. The dispatcher calls this once per
// subscribing module per event; invocations for different modules may
// run concurrently, bounded by the executor's pool size.
func (e *Executor) Invoke(ctx context.Context, dispatchable bus.Dispatchable, event bus.Event) {
	mod, ok := dispatchable.(*module.Module)
	if !ok {
		e.logger.Error("sandbox: dispatchable is not a *module.Module", slog.String("name", dispatchable.Name()))
		return
	}

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	e.run(ctx, mod, event)
}

func (e *Executor) run(ctx context.Context, mod *module.Module, event bus.Event) {
	if _, err := e.RunSync(ctx, mod, event); err != nil {
		e.logger.Debug("sandbox: dispatched invocation ended with error", slog.String("module", mod.Name()), slog.Any("error", err))
	}
}

// RunSync instantiates mod, invokes its entry export with event, and
// returns the resulting ModuleInstance (whose Response() holds whatever
// the guest passed to set_response, if anything). internal/httpgateway
// calls this directly for Rule-mode GET handling (spec.md §4.5), reusing
// the same resource-bounded instantiation path the bus dispatcher uses
// for fire-and-forget delivery — the synchronous/asynchronous split
// mirrors the teacher's core/command.Dispatcher vs. core/event.Processor
// distinction (request/response vs. fire-and-forget).
func (e *Executor) RunSync(ctx context.Context, mod *module.Module, event bus.Event) (*ModuleInstance, error) {
	return e.run2(ctx, mod, event, false)
}

// RunTest invokes mod exactly as RunSync does, but marks the resulting
// instance as a test-mode invocation (ModuleInstance.TestMode): the host
// call surface's callAPI then refuses every outbound call with
// ErrTestMode, so a test run can never cause a real external side
// effect. Rejected up front with ErrTestModeNotAllowed if the module's
// configuration does not opt into test-mode invocation (spec.md §3(f);
// the activation path itself — this method, reached only from cmd/plaid's
// --test-module flag — is the implementer's resolution of §9's Open
// Question, documented in DESIGN.md).
func (e *Executor) RunTest(ctx context.Context, mod *module.Module, event bus.Event) (*ModuleInstance, error) {
	if !mod.Config().TestModeAllowed {
		return nil, ErrTestModeNotAllowed{Module: mod.Name()}
	}
	return e.run2(ctx, mod, event, true)
}

func (e *Executor) run2(ctx context.Context, mod *module.Module, event bus.Event, testMode bool) (*ModuleInstance, error) {
	cfg := mod.Config()
	timeout := cfg.InvocationTimeout
	if timeout <= 0 {
		timeout = DefaultInvocationTimeout
	}

	inst := NewModuleInstance(mod.Name(), event, cfg.FuelLimit, testMode)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	callCtx = WithInstance(callCtx, inst)
	callCtx = withCancel(callCtx, cancel)
	callCtx = experimental.WithFunctionListenerFactory(callCtx, fuelListenerFactory{})

	modCfg := wazero.NewModuleConfig().WithName(mod.Name() + "-" + event.ID)

	guest, err := mod.Runtime().InstantiateModule(callCtx, mod.Compiled(), modCfg)
	if err != nil {
		e.classifyAndLog(mod.Name(), event, callCtx, err)
		return inst, err
	}
	defer guest.Close(callCtx)

	logPtr, logLen, srcPtr, srcLen, marshErr := marshalInvocation(callCtx, guest, event)
	if marshErr != nil {
		e.logger.Error("sandbox: marshalling invocation", slog.String("module", mod.Name()), slog.Any("error", marshErr))
		e.report(mod.Name(), inst)
		return inst, marshErr
	}

	entry := guest.ExportedFunction(EntryPointExport)
	if entry == nil {
		e.logger.Error("sandbox: module has no entry export", slog.String("module", mod.Name()), slog.String("export", EntryPointExport))
		e.report(mod.Name(), inst)
		return inst, errors.New("module has no entry export")
	}

	results, err := entry.Call(callCtx, uint64(logPtr), uint64(logLen), uint64(srcPtr), uint64(srcLen))
	if err != nil {
		e.classifyAndLog(mod.Name(), event, callCtx, err)
		e.report(mod.Name(), inst)
		return inst, err
	}
	if len(results) > 0 && int32(results[0]) != 0 {
		e.logger.Debug("sandbox: module returned non-zero exit",
			slog.String("module", mod.Name()), slog.Int64("code", int64(int32(results[0]))))
	}

	e.report(mod.Name(), inst)
	return inst, nil
}

// marshalInvocation grows guest memory via its exported alloc function
// and writes the event payload and a small JSON-free source descriptor
// into it, returning the (ptr,len) pairs the entry export expects.
func marshalInvocation(ctx context.Context, guest api.Module, event bus.Event) (logPtr, logLen, srcPtr, srcLen uint32, err error) {
	alloc := guest.ExportedFunction(AllocExport)
	if alloc == nil {
		return 0, 0, 0, 0, errors.New("module has no alloc export")
	}

	payload := event.Payload
	logLen = uint32(len(payload))
	if logLen > 0 {
		res, callErr := alloc.Call(ctx, uint64(logLen))
		if callErr != nil {
			return 0, 0, 0, 0, callErr
		}
		logPtr = uint32(res[0])
		if !guest.Memory().Write(logPtr, payload) {
			return 0, 0, 0, 0, errors.New("failed to write event payload into guest memory")
		}
	}

	source := encodeSource(event.Source)
	srcLen = uint32(len(source))
	if srcLen > 0 {
		res, callErr := alloc.Call(ctx, uint64(srcLen))
		if callErr != nil {
			return 0, 0, 0, 0, callErr
		}
		srcPtr = uint32(res[0])
		if !guest.Memory().Write(srcPtr, source) {
			return 0, 0, 0, 0, errors.New("failed to write source descriptor into guest memory")
		}
	}

	return logPtr, logLen, srcPtr, srcLen, nil
}

// encodeSource renders a Source as a small, stable text form:
// "webhook:<label>" or "module:<name>" or "label:<name>", so guests
// needing only to log provenance do not require a JSON parser.
func encodeSource(s bus.Source) []byte {
	switch {
	case s.Webhook != "":
		return []byte("webhook:" + s.Webhook)
	case s.Module != "":
		return []byte("module:" + s.Module)
	case s.Label != "":
		return []byte("label:" + s.Label)
	default:
		return nil
	}
}

func (e *Executor) report(moduleName string, inst *ModuleInstance) {
	if e.sink == nil {
		return
	}
	rec := benchmark.NewRecord(moduleName, inst.Elapsed(), inst.FuelUsed())
	e.sink.TrySend(rec)
}

func (e *Executor) classifyAndLog(moduleName string, event bus.Event, ctx context.Context, err error) {
	if ctx.Err() != nil {
		e.logger.Warn("sandbox: invocation trapped",
			slog.String("module", moduleName),
			slog.String("event_id", event.ID),
			slog.String("reason", "timeout_or_fuel_exhausted"),
			slog.Any("error", err))
		return
	}
	e.logger.Error("sandbox: invocation failed",
		slog.String("module", moduleName),
		slog.String("event_id", event.ID),
		slog.Any("error", err))
}
