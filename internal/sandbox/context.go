package sandbox

import "context"

type instanceKeyType struct{}

var instanceKey instanceKeyType

// WithInstance attaches inst to ctx so host functions invoked through
// wazero (which always receive the context passed to the triggering
// module.Call) can recover the per-invocation state.
func WithInstance(ctx context.Context, inst *ModuleInstance) context.Context {
	return context.WithValue(ctx, instanceKey, inst)
}

// InstanceFromContext recovers the ModuleInstance attached by
// WithInstance, or nil if none is present (a host function invoked
// outside a managed invocation, which should never happen in practice).
func InstanceFromContext(ctx context.Context) *ModuleInstance {
	inst, _ := ctx.Value(instanceKey).(*ModuleInstance)
	return inst
}
