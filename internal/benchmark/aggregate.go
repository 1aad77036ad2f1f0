package benchmark

import "math"

// Aggregate is the per-module Aggregate Performance Record of spec.md §3:
// runs, total execution time, total fuel used, and a saturation flag that
// freezes the record instead of wrapping on overflow (the
// Benchmark-saturation-safety property of spec.md §8).
type Aggregate struct {
	Runs          uint64
	TotalMicros   uint64
	TotalFuelUsed uint64
	Saturated     bool
}

// apply folds one Record into the aggregate. If any field would overflow
// its uint64 range, none of the fields are updated, Saturated is set
// (sticky — once true, stays true), and the caller (Sink.fold) logs a
// one-time error; subsequent records for this module are also
// discarded while Saturated.
func (a *Aggregate) apply(rec Record) (overflowed bool) {
	if a.Saturated {
		return true
	}

	runs, ok1 := saturatingAdd(a.Runs, 1)
	micros, ok2 := saturatingAdd(a.TotalMicros, rec.ElapsedMicros)
	fuel, ok3 := saturatingAdd(a.TotalFuelUsed, rec.FuelUsed)

	if !ok1 || !ok2 || !ok3 {
		a.Saturated = true
		return true
	}

	a.Runs = runs
	a.TotalMicros = micros
	a.TotalFuelUsed = fuel
	return false
}

// saturatingAdd returns a+b and true if it did not overflow uint64's
// range, or (a, false) — the pre-overflow value unchanged — if it would.
func saturatingAdd(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return a, false
	}
	return a + b, true
}

// AverageFuel returns the mean fuel used per run, or 0 if there have
// been no runs yet.
func (a *Aggregate) AverageFuel() uint64 {
	if a.Runs == 0 {
		return 0
	}
	return a.TotalFuelUsed / a.Runs
}

// AverageMicros returns the mean execution time in microseconds per run,
// or 0 if there have been no runs yet.
func (a *Aggregate) AverageMicros() uint64 {
	if a.Runs == 0 {
		return 0
	}
	return a.TotalMicros / a.Runs
}
