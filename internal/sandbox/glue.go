package sandbox

import (
	"context"

	"github.com/plaidrun/plaid/internal/module"
	"github.com/tetratelabs/wazero"
)

// registerGlueStubs binds every name in module.GlueStubNames to a no-op
// host function, mirroring the Rust original's create_bindgen_placeholder
// / create_stdio_placehodler / create_bindgen_externref_xform helpers
// (original_source/runtime/plaid/src/functions/mod.rs). These signatures
// approximate the real wasm-bindgen/TinyGo glue shapes (single i32 in,
// nothing out) except where noted; a guest that imports WASI functions
// such as proc_exit/fd_write under the standard
// "wasi_snapshot_preview1" import module is satisfied by the real WASI
// instantiation in RuntimePool.RuntimeFor and never reaches these stubs.
func registerGlueStubs(builder wazero.HostModuleBuilder) {
	for name := range module.GlueStubNames {
		name := name
		switch name {
		case "__wbindgen_externref_table_grow":
			builder.NewFunctionBuilder().
				WithFunc(func(context.Context, uint32) uint32 { return 0 }).
				Export(name)
		case "__wbindgen_externref_table_set_null", "__stdio_exit":
			builder.NewFunctionBuilder().
				WithFunc(func(context.Context, uint32) {}).
				Export(name)
		case "syscall/js.valueGet", "syscall/js.valuePrepareString":
			builder.NewFunctionBuilder().
				WithFunc(func(context.Context, uint32, uint32) {}).
				Export(name)
		default:
			builder.NewFunctionBuilder().
				WithFunc(func(context.Context, uint32) {}).
				Export(name)
		}
	}

	builder.NewFunctionBuilder().WithFunc(func(context.Context, uint32) {}).Export("__wbindgen_describe")
	builder.NewFunctionBuilder().WithFunc(func(context.Context, uint32, uint32) {}).Export("__wbindgen_throw")
}
