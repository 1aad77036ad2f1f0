// Package module implements the loader and registry of spec.md §4.2.
// Grounded on the teacher's compile-once pattern for expensive resources
// (core/cache's documented LRU construction) and on the wazero usage
// shown in _examples/other_examples's wapc-go engine file: one
// wazero.Runtime per memory-page ceiling (resolved through RuntimeFor),
// many precompiled wazero.CompiledModules, instantiated per invocation by
// internal/sandbox.
package module
