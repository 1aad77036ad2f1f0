package httpgateway

import (
	"context"
	"fmt"

	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/module"
	"github.com/plaidrun/plaid/internal/sandbox"
)

// getEventChannel is the synthetic channel Rule-mode GET invocations are
// tagged with; it is never matched against a webhook or module
// subscription, only carried for logging/tracing purposes since Rule
// invocation bypasses the dispatcher entirely.
const getEventChannel = "__get__"

// ModuleLookup resolves a module by name, satisfied by *module.Registry.
type ModuleLookup interface {
	Get(name string) *module.Module
}

// Executor runs one (module, event) pair synchronously and returns the
// resulting instance, satisfied by *sandbox.Executor.
type Executor interface {
	RunSync(ctx context.Context, mod *module.Module, event bus.Event) (*sandbox.ModuleInstance, error)
}

// RuleInvoker implements respcache.Invoker by running the named module
// through the sandbox executor and reading back whatever bytes it passed
// to set_response (spec.md §4.5: "Rule mode invokes the named module
// synchronously").
type RuleInvoker struct {
	modules  ModuleLookup
	executor Executor
}

// NewRuleInvoker constructs a RuleInvoker over the shared registry and
// executor.
func NewRuleInvoker(modules ModuleLookup, executor Executor) *RuleInvoker {
	return &RuleInvoker{modules: modules, executor: executor}
}

// InvokeRule implements respcache.Invoker.
func (r *RuleInvoker) InvokeRule(ctx context.Context, moduleName, fingerprint string) ([]byte, error) {
	mod := r.modules.Get(moduleName)
	if mod == nil {
		return nil, fmt.Errorf("httpgateway: rule module %q not registered", moduleName)
	}
	event := bus.New(getEventChannel, []byte(fingerprint), bus.Source{Label: "get:" + fingerprint}, nil, bus.UnlimitedBudget())
	inst, err := r.executor.RunSync(ctx, mod, event)
	if err != nil {
		return nil, err
	}
	return inst.Response(), nil
}
