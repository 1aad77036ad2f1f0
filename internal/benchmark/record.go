// Package benchmark implements the benchmarking sink of spec.md §4.7: a
// single long-running task that drains PerformanceRecords into a
// per-module aggregate, using saturating arithmetic so a module that
// overflows a counter freezes instead of wrapping, and flushes a
// plain-text report on shutdown.
package benchmark

import "time"

// Record is the PerformanceRecord of spec.md §3/§4.3: one invocation's
// resource usage, pushed by the sandbox executor after every completed
// (module, event) pair.
type Record struct {
	Module       string
	ElapsedMicros uint64
	FuelUsed     uint64
}

// NewRecord builds a Record from a wall-clock duration and fuel
// consumed, converting to microseconds as the report format requires.
func NewRecord(module string, elapsed time.Duration, fuelUsed uint64) Record {
	return Record{
		Module:        module,
		ElapsedMicros: uint64(elapsed.Microseconds()),
		FuelUsed:      fuelUsed,
	}
}
