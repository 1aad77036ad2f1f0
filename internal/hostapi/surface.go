// Package hostapi implements the curated Host Call Surface of spec.md
// §4.4: a fixed table of named host functions bound into every guest's
// "env" import module (internal/sandbox's HostModuleName), each
// following the (ptr,len) string and (ptr,cap) byte-return marshalling
// conventions of §4.4 and returning the stable negative-error-code ABI
// of §7.
//
// Per spec.md §9's design note ("Curated host surface instead of
// dynamic dispatch"), every function is a literal Go closure registered
// by name — a new API is added by extending this file, not by runtime
// discovery.
package hostapi

import (
	"context"
	"log/slog"

	"github.com/tetratelabs/wazero"

	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/cache"
	"github.com/plaidrun/plaid/internal/kv"
	"github.com/plaidrun/plaid/internal/module"
	"github.com/plaidrun/plaid/internal/ratelimit"
	"github.com/plaidrun/plaid/internal/sandbox"
	"github.com/plaidrun/plaid/internal/webhook"
	"github.com/plaidrun/plaid/internal/wheel"
)

// Emitter is the subset of *bus.Bus the surface needs for log_back's
// fail-fast emission (spec.md §7: guest-initiated emits use TrySubmit).
type Emitter interface {
	TrySubmit(event bus.Event) error
}

// Scheduler is the subset of *wheel.Wheel the surface needs for
// schedule_send (spec.md §4.8).
type Scheduler interface {
	Schedule(msg wheel.DelayedMessage)
}

// ModuleConfigs resolves a module's static configuration (permission
// checks, test-mode flag, persistent-response role, storage quota).
// Implemented by *module.Registry.
type ModuleConfigs interface {
	Get(name string) *module.Module
}

// Surface is the curated host call table. One Surface is shared by every
// guest invocation; its own state (storage, cache, limiter) is itself
// safe for concurrent use, so Surface holds no per-invocation data —
// that lives entirely in the sandbox.ModuleInstance recovered from ctx.
type Surface struct {
	logger *slog.Logger

	modules ModuleConfigs
	storage *kv.Store
	cache   *cache.Cache
	api     *webhook.Client
	limiter *ratelimit.Limiter
	wheel   Scheduler
	bus     Emitter
}

// New constructs a Surface wired to the engine's shared services.
func New(logger *slog.Logger, modules ModuleConfigs, storage *kv.Store, c *cache.Cache, apiClient *webhook.Client, limiter *ratelimit.Limiter, sched Scheduler, emitter Emitter) *Surface {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surface{
		logger:  logger,
		modules: modules,
		storage: storage,
		cache:   c,
		api:     apiClient,
		limiter: limiter,
		wheel:   sched,
		bus:     emitter,
	}
}

// knownFunctions is the fixed set of host import names this surface
// resolves, consulted by internal/module's loader (ImportResolver) at
// startup to decide NoSuchFunction vs. a real binding.
var knownFunctions = []string{
	"call_api",
	"storage_get",
	"storage_put",
	"storage_list_keys",
	"storage_delete",
	"cache_get",
	"cache_put",
	"set_response",
	"get_accessory",
	"get_source",
	"get_time",
	"log_back",
	"print_debug_string",
	"schedule_send",
}

// KnownHostFunction implements module.ImportResolver.
func (s *Surface) KnownHostFunction(name string) bool {
	for _, n := range knownFunctions {
		if n == name {
			return true
		}
	}
	return false
}

// Register implements sandbox.Registrar: it binds every curated host
// function onto builder, the guests' "env" host module.
func (s *Surface) Register(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().WithFunc(s.callAPI).Export("call_api")
	builder.NewFunctionBuilder().WithFunc(s.storageGet).Export("storage_get")
	builder.NewFunctionBuilder().WithFunc(s.storagePut).Export("storage_put")
	builder.NewFunctionBuilder().WithFunc(s.storageListKeys).Export("storage_list_keys")
	builder.NewFunctionBuilder().WithFunc(s.storageDelete).Export("storage_delete")
	builder.NewFunctionBuilder().WithFunc(s.cacheGet).Export("cache_get")
	builder.NewFunctionBuilder().WithFunc(s.cachePut).Export("cache_put")
	builder.NewFunctionBuilder().WithFunc(s.setResponse).Export("set_response")
	builder.NewFunctionBuilder().WithFunc(s.getAccessory).Export("get_accessory")
	builder.NewFunctionBuilder().WithFunc(s.getSource).Export("get_source")
	builder.NewFunctionBuilder().WithFunc(s.getTime).Export("get_time")
	builder.NewFunctionBuilder().WithFunc(s.logBack).Export("log_back")
	builder.NewFunctionBuilder().WithFunc(s.printDebugString).Export("print_debug_string")
	builder.NewFunctionBuilder().WithFunc(s.scheduleSend).Export("schedule_send")
}

// instanceAndConfig recovers the invoking ModuleInstance and its static
// Config, or (nil, Config{}, false) if called outside a managed
// invocation (should never happen — guarded defensively).
func (s *Surface) instanceAndConfig(ctx context.Context) (*sandbox.ModuleInstance, module.Config, bool) {
	inst := sandbox.InstanceFromContext(ctx)
	if inst == nil {
		return nil, module.Config{}, false
	}
	mod := s.modules.Get(inst.ModuleName)
	if mod == nil {
		return inst, module.Config{}, false
	}
	return inst, mod.Config(), true
}
