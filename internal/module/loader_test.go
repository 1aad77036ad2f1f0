package module

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

// emptyWasmModule is the minimal valid WebAssembly binary: just the magic
// number and version, no sections at all (so no imports, no exports).
// Sufficient to exercise the loader's compile/registry-building path
// without needing a real guest toolchain.
var emptyWasmModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func writeWasmFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mod.wasm")
	require.NoError(t, os.WriteFile(path, emptyWasmModule, 0o644))
	return path
}

type allowAllResolver struct{}

func (allowAllResolver) KnownHostFunction(string) bool { return true }

func TestLoadAllBuildsRegistry(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	path := writeWasmFixture(t)
	loader := NewLoader(func(Config) (wazero.Runtime, error) { return runtime, nil }, allowAllResolver{})

	reg, err := loader.LoadAll(ctx, []Config{
		{Name: "mod-a", Path: path, Channels: []string{"deploy", "audit"}},
		{Name: "mod-b", Path: path, Channels: []string{"deploy"}},
	})
	require.NoError(t, err)

	require.NotNil(t, reg.Get("mod-a"))
	require.NotNil(t, reg.Get("mod-b"))
	require.Nil(t, reg.Get("mod-c"))

	deploySubs := reg.ModulesForChannel("deploy")
	require.Len(t, deploySubs, 2)

	auditSubs := reg.ModulesForChannel("audit")
	require.Len(t, auditSubs, 1)
	require.Equal(t, "mod-a", auditSubs[0].Name())
}

func TestLoadAllRejectsDuplicateNames(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	path := writeWasmFixture(t)
	loader := NewLoader(func(Config) (wazero.Runtime, error) { return runtime, nil }, allowAllResolver{})

	_, err := loader.LoadAll(ctx, []Config{
		{Name: "dup", Path: path},
		{Name: "dup", Path: path},
	})
	require.Error(t, err)
	var dupErr ErrDuplicateModule
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, "dup", dupErr.Name)
}

func TestIsGlueImport(t *testing.T) {
	require.True(t, IsGlueImport("__wbindgen_describe"))
	require.True(t, IsGlueImport("__stdio_exit"))
	require.True(t, IsGlueImport("proc_exit"))
	require.False(t, IsGlueImport("storage_get"))
}
