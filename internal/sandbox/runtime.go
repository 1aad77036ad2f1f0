package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// HostModuleName is the import module name guests bind their curated host
// calls and toolchain glue under, matching the "env" convention used by
// AssemblyScript/TinyGo guests (grounded on the wapc-go wazero engine
// file's `assemblyscript` host module builder in
// _examples/other_examples).
const HostModuleName = "env"

// Registrar builds the curated host call surface onto a wazero
// HostModuleBuilder. Implemented by internal/hostapi; declared here as an
// interface so internal/sandbox never imports internal/hostapi (hostapi
// imports sandbox instead, for ModuleInstance and the memory helpers).
type Registrar interface {
	Register(builder wazero.HostModuleBuilder)
}

// RuntimePool lazily creates and caches one wazero.Runtime per distinct
// memory-page ceiling. wazero's memory limit (WithMemoryLimitPages) is a
// runtime-level configuration, not a per-module one, so modules that
// declare the same memory_pages_limit share a runtime (and its module
// compile cache); modules with distinct limits get their own runtime.
// This is the documented resolution for reconciling per-module resource
// limits (spec.md §4.3) with wazero's runtime-scoped memory ceiling — see
// DESIGN.md.
type RuntimePool struct {
	ctx       context.Context
	registrar Registrar

	mu        sync.Mutex
	runtimes  map[uint32]wazero.Runtime
}

// NewRuntimePool constructs a pool that instantiates WASI and the
// curated host call surface on every runtime it creates.
func NewRuntimePool(ctx context.Context, registrar Registrar) *RuntimePool {
	return &RuntimePool{
		ctx:       ctx,
		registrar: registrar,
		runtimes:  make(map[uint32]wazero.Runtime),
	}
}

// RuntimeFor returns the pooled runtime for the given memory page
// ceiling, creating it on first use. Satisfies module.RuntimeFor's
// signature shape via a small adapter in cmd/plaid.
func (p *RuntimePool) RuntimeFor(memoryPagesLimit uint32) (wazero.Runtime, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rt, ok := p.runtimes[memoryPagesLimit]; ok {
		return rt, nil
	}

	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryPagesLimit > 0 {
		cfg = cfg.WithMemoryLimitPages(memoryPagesLimit)
	}
	rt := wazero.NewRuntimeWithConfig(p.ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(p.ctx, rt); err != nil {
		rt.Close(p.ctx)
		return nil, fmt.Errorf("sandbox: instantiating wasi: %w", err)
	}

	builder := rt.NewHostModuleBuilder(HostModuleName)
	p.registrar.Register(builder)
	registerGlueStubs(builder)
	if _, err := builder.Instantiate(p.ctx); err != nil {
		rt.Close(p.ctx)
		return nil, fmt.Errorf("sandbox: instantiating host module: %w", err)
	}

	p.runtimes[memoryPagesLimit] = rt
	return rt, nil
}

// Close tears down every pooled runtime. Called once at shutdown.
func (p *RuntimePool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rt := range p.runtimes {
		rt.Close(ctx)
	}
	p.runtimes = make(map[uint32]wazero.Runtime)
}
