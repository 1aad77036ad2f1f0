// Package module implements the module loader and registry of spec.md
// §4.2: compiling guest WebAssembly artifacts once at startup, resolving
// their host imports against the curated host call surface, and building
// the read-only channel→modules reverse index the dispatcher consults.
package module

import (
	"time"

	"github.com/tetratelabs/wazero"
)

// Config is one entry of the loader configuration ("loading" table in
// spec.md §6): per-module settings read from the TOML config.
type Config struct {
	Name                    string
	Path                    string // filesystem path to the compiled .wasm artifact
	Channels                []string
	FuelLimit               uint64
	MemoryPagesLimit        uint32
	TestModeAllowed         bool
	PersistentResponse      bool // declared GET-response-generator role, spec.md §3
	LogbacksAllowedOverride *uint32
	InvocationTimeout       time.Duration

	// AllowedAPIMethods maps an API namespace to the methods this module
	// may call on it (spec.md §4.4 item 1: "this module may only post to
	// these channels"). A namespace absent from the map is entirely
	// denied; a namespace mapped to a slice containing "*" allows any
	// method on it.
	AllowedAPIMethods map[string][]string

	// StorageQuotaBytes bounds this module's total sealed storage size
	// (spec.md §4.4 item 2). 0 means unbounded.
	StorageQuotaBytes int64
}

// CanCallAPI reports whether this module's configuration permits calling
// method on namespace.
func (c Config) CanCallAPI(namespace, method string) bool {
	methods, ok := c.AllowedAPIMethods[namespace]
	if !ok {
		return false
	}
	for _, m := range methods {
		if m == "*" || m == method {
			return true
		}
	}
	return false
}

// Module is the compiled, immutable sandbox artifact plus its declared
// bindings (spec.md §3 "Module"). It is loaded once at startup and never
// mutated afterward — safe for concurrent reads by any number of
// executor workers.
type Module struct {
	cfg      Config
	compiled wazero.CompiledModule
	runtime  wazero.Runtime
}

// Name returns the module's declared name, satisfying bus.Dispatchable
// and doubling as the module's storage namespace (spec.md §3).
func (m *Module) Name() string { return m.cfg.Name }

// Config exposes the module's static configuration to the sandbox
// executor (fuel/memory limits, timeout, test-mode flag).
func (m *Module) Config() Config { return m.cfg }

// Compiled returns the pre-compiled wazero module, ready for
// instantiation by the sandbox executor.
func (m *Module) Compiled() wazero.CompiledModule { return m.compiled }

// Runtime returns the wazero.Runtime this module was compiled against.
// The sandbox executor must instantiate on this same runtime, since
// compiled modules and runtimes are tied together in wazero.
func (m *Module) Runtime() wazero.Runtime { return m.runtime }

// Channels returns the set of logging channels this module subscribes to
// as an event handler.
func (m *Module) Channels() []string { return m.cfg.Channels }

// HasPersistentResponseRole reports whether this module may serve as a
// GET-response generator (spec.md §3(b), consulted by internal/cache to
// return CacheDisabled for modules without the role).
func (m *Module) HasPersistentResponseRole() bool { return m.cfg.PersistentResponse }
