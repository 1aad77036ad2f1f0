// Package wheel implements the Delayed Message Wheel of spec.md §4.8: a
// min-heap of DelayedMessage{Event, NotBefore} serviced by a single timer
// task that sleeps until the earliest deadline and releases every matured
// entry to the bus on wake.
//
// The lifecycle (Start/Stop, a shutdown-timeout-bounded drain, atomic
// observability counters) is patterned directly on core/queue.Scheduler's
// Start/Stop idiom, generalized from periodic polling to exact min-heap
// timer scheduling — a Keep-HOW-replace-WHAT adaptation: same skeleton,
// different internal data structure.
package wheel

import (
	"container/heap"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plaidrun/plaid/internal/bus"
)

// Submitter is the subset of *bus.Bus the wheel needs to release matured
// events. Declared as an interface so wheel has no hard dependency beyond
// bus.Event/bus.Bus's blocking Submit.
type Submitter interface {
	Submit(ctx context.Context, event bus.Event) error
}

// DelayedMessage is an Event paired with the earliest time it may fire,
// per spec.md §3.
type DelayedMessage struct {
	Event     bus.Event
	NotBefore time.Time
}

// entry is the heap element; index is maintained by container/heap for
// O(log n) removal, unused here but kept for future Cancel support.
type entry struct {
	msg   DelayedMessage
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return h[i].msg.NotBefore.Before(h[j].msg.NotBefore)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// DefaultShutdownTimeout bounds how long Stop waits for the timer
// goroutine to exit, mirroring core/queue.Scheduler's default.
const DefaultShutdownTimeout = 30 * time.Second

// Wheel schedules events produced by guest modules (via the
// schedule_send host call) for future release onto the bus.
type Wheel struct {
	bus    Submitter
	logger *slog.Logger

	mu   sync.Mutex
	heap entryHeap
	wake chan struct{}

	shutdownTimeout time.Duration
	running         atomic.Bool
	scheduled       atomic.Int64
	fired           atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Wheel at construction.
type Option func(*Wheel)

// WithLogger attaches a structured logger; nil falls back to a discard
// logger, matching core/queue's no-op-by-default idiom.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wheel) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Wheel) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// New constructs a Wheel bound to bus. Call Start before Schedule.
func New(bus Submitter, opts ...Option) *Wheel {
	w := &Wheel{
		bus:             bus,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		wake:            make(chan struct{}, 1),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	heap.Init(&w.heap)
	return w
}

// Schedule inserts a message to fire no earlier than notBefore. Safe for
// concurrent use by many guest invocations.
func (w *Wheel) Schedule(msg DelayedMessage) {
	w.mu.Lock()
	heap.Push(&w.heap, &entry{msg: msg})
	w.mu.Unlock()
	w.scheduled.Add(1)

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start runs the single timer goroutine until ctx is cancelled. Intended
// to be launched in its own goroutine (or as an errgroup task), mirroring
// core/event.Processor.Run's func()-error wrapper idiom.
func (w *Wheel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	defer close(w.done)

	w.running.Store(true)
	defer w.running.Store(false)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.resetTimer(timer)

		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
			continue
		case <-timer.C:
			w.releaseMatured(ctx)
		}
	}
}

// resetTimer points timer at the earliest pending deadline, or a long
// sleep if the heap is empty.
func (w *Wheel) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	w.mu.Lock()
	var d time.Duration
	if len(w.heap) == 0 {
		d = time.Hour
	} else {
		d = time.Until(w.heap[0].msg.NotBefore)
		if d < 0 {
			d = 0
		}
	}
	w.mu.Unlock()

	timer.Reset(d)
}

// releaseMatured pops and submits every entry whose NotBefore has
// elapsed, matching spec.md §4.8's "fires; releases all matured events".
func (w *Wheel) releaseMatured(ctx context.Context) {
	now := time.Now()
	for {
		w.mu.Lock()
		if len(w.heap) == 0 || w.heap[0].msg.NotBefore.After(now) {
			w.mu.Unlock()
			return
		}
		e := heap.Pop(&w.heap).(*entry)
		w.mu.Unlock()

		if err := w.bus.Submit(ctx, e.msg.Event); err != nil {
			w.logger.Warn("wheel: failed to release delayed event", slog.String("event_id", e.msg.Event.ID), slog.Any("error", err))
			continue
		}
		w.fired.Add(1)
	}
}

// Stop cancels the timer goroutine and waits up to the configured
// shutdown timeout for it to exit.
func (w *Wheel) Stop() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), w.shutdownTimeout)
	defer cancel()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of messages still awaiting release.
func (w *Wheel) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.heap)
}
