package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// DefaultQueueCapacity sizes the sink's record channel generously enough
// to behave as the "unbounded channel" of spec.md §4.7 under normal load,
// while the executor's TrySend still uses non-blocking send/drop per
// §4.3 so a momentarily full buffer never stalls an invocation.
const DefaultQueueCapacity = 4096

// Sink is the long-running benchmark aggregation task. Records reach it
// only via channel sends (spec.md §5); its aggregate map is written by the
// Run goroutine and read by Snapshot, both under mu.
type Sink struct {
	logger  *slog.Logger
	records chan Record

	mu         sync.Mutex
	aggregates map[string]*Aggregate

	done chan struct{}
}

// New constructs a Sink. Call Run in its own goroutine before any
// TrySend.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		logger:     logger,
		records:    make(chan Record, DefaultQueueCapacity),
		aggregates: make(map[string]*Aggregate),
		done:       make(chan struct{}),
	}
}

// TrySend offers rec to the sink without blocking. If the queue is
// momentarily full the sample is dropped, matching spec.md §4.3's
// "overflow drops the sample" policy for the executor's reporting path.
func (s *Sink) TrySend(rec Record) bool {
	select {
	case s.records <- rec:
		return true
	default:
		s.logger.Debug("benchmark: queue full, dropping sample", slog.String("module", rec.Module))
		return false
	}
}

// Run drains records until ctx is cancelled, folding each into its
// module's aggregate. Safe to run as the body of an errgroup task,
// mirroring core/event.Processor.Run's func()-error wrapper idiom.
func (s *Sink) Run(ctx context.Context) error {
	defer close(s.done)
	for {
		select {
		case rec := <-s.records:
			s.fold(rec)
		case <-ctx.Done():
			// Drain whatever is already buffered before exiting so a
			// flush immediately after shutdown reflects the last burst.
			for {
				select {
				case rec := <-s.records:
					s.fold(rec)
				default:
					return nil
				}
			}
		}
	}
}

func (s *Sink) fold(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.aggregates[rec.Module]
	if !ok {
		agg = &Aggregate{}
		s.aggregates[rec.Module] = agg
	}
	before := *agg
	if overflowed := agg.apply(rec); overflowed && !before.Saturated {
		s.logger.Error("benchmark: aggregate saturated, further updates discarded",
			slog.String("module", rec.Module))
	}
}

// Snapshot returns a copy of the current per-module aggregates, for tests
// and for FlushReport.
func (s *Sink) Snapshot() map[string]Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Aggregate, len(s.aggregates))
	for name, agg := range s.aggregates {
		out[name] = *agg
	}
	return out
}

// FlushReport writes the plain-text report format of spec.md §6 to path:
// one block per module with Module/Runs/Average Computation Used/Average
// Execution Time, each block separated by a blank line. Modules are
// written in sorted-name order for a deterministic, diffable report.
func (s *Sink) FlushReport(path string) error {
	snap := s.Snapshot()

	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("benchmark: creating report %s: %w", path, err)
	}
	defer f.Close()

	for _, name := range names {
		agg := snap[name]
		fmt.Fprintf(f, "Module: %s\n", name)
		fmt.Fprintf(f, "Runs: %d\n", agg.Runs)
		fmt.Fprintf(f, "Average Computation Used: %d\n", agg.AverageFuel())
		fmt.Fprintf(f, "Average Execution Time (microseconds): %d\n", agg.AverageMicros())
		fmt.Fprintln(f)
	}
	return nil
}
