package bus

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize mirrors the teacher's core/event.DefaultChannelBufferSize
// idiom, scaled up to the engine's default log_queue_size (spec.md §6).
const DefaultQueueSize = 2048

// DefaultWorkers is the fallback execution_threads when configuration
// omits it (config validation otherwise requires 1..=255, see
// internal/config).
const DefaultWorkers = 4

// Dispatchable is anything the dispatcher can hand an event to: a module
// reference resolved from the registry. Kept minimal so internal/bus does
// not import internal/module or internal/sandbox (avoids an import cycle;
// cmd/plaid wires the concrete types together).
type Dispatchable interface {
	// Name is the module's declared name, used only for logging here.
	Name() string
}

// Registry resolves a channel name to the modules subscribing to it. The
// concrete implementation lives in internal/module.
type Registry interface {
	ModulesForChannel(channel string) []Dispatchable
}

// Invoker runs one (module, event) pair to completion. The concrete
// implementation lives in internal/sandbox.
type Invoker interface {
	Invoke(ctx context.Context, module Dispatchable, event Event)
}

// Bus is the bounded event queue and per-channel FIFO fabric described in
// spec.md §4.1. It mirrors core/event.ChannelBus's buffered-channel design,
// generalized to a configurable capacity and split into per-channel
// sub-queues so that events on unrelated channels never block each other
// behind one global queue, while FIFO order is preserved within a channel.
type Bus struct {
	logger *slog.Logger

	mu      sync.Mutex
	queues  map[string]chan Event
	closed  bool
	closeCh chan struct{}

	registry Registry
	invoker  Invoker

	sem     chan struct{} // counting semaphore bounding total in-flight dispatch jobs
	wg      sync.WaitGroup
	workers int
	cap     int
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithQueueCapacity overrides DefaultQueueSize for each per-channel queue.
func WithQueueCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.cap = n
		}
	}
}

// WithWorkers overrides DefaultWorkers, the fixed-size dispatch pool
// described in spec.md §4.1 (1..=255 per config validation).
func WithWorkers(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithLogger attaches a structured logger, following core/logger's
// options idiom; a nil logger falls back to slog.Default() discarding
// nothing (matches the teacher's "never silently swallow" stance for bus
// construction, unlike per-request loggers which default to io.Discard).
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// New constructs a Bus bound to the given registry and invoker. Per-channel
// queues are created lazily on first Submit for that channel.
func New(registry Registry, invoker Invoker, opts ...Option) *Bus {
	b := &Bus{
		logger:   slog.Default(),
		queues:   make(map[string]chan Event),
		closeCh:  make(chan struct{}),
		registry: registry,
		invoker:  invoker,
		workers:  DefaultWorkers,
		cap:      DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.sem = make(chan struct{}, b.workers)
	return b
}

// Submit enqueues event, blocking if the channel's queue is full. Used by
// source adapters (spec.md §4.1: "submitters block for source adapters").
func (b *Bus) Submit(ctx context.Context, event Event) error {
	q, err := b.queueFor(event)
	if err != nil {
		return err
	}
	select {
	case q <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closeCh:
		return ErrClosed
	}
}

// TrySubmit enqueues event without blocking, failing fast with
// ErrQueueFull if the channel's queue has no room. Used for guest-
// initiated logback emission (spec.md §7), mirroring
// core/event.channelTransport.Dispatch's non-blocking select/default.
func (b *Bus) TrySubmit(event Event) error {
	q, err := b.queueFor(event)
	if err != nil {
		return err
	}
	select {
	case q <- event:
		return nil
	default:
		select {
		case <-b.closeCh:
			return ErrClosed
		default:
			return ErrQueueFull
		}
	}
}

func (b *Bus) queueFor(event Event) (chan Event, error) {
	if event.Channel == "" {
		return nil, ErrEmptyChannel
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q, ok := b.queues[event.Channel]
	if !ok {
		q = make(chan Event, b.cap)
		b.queues[event.Channel] = q
		b.wg.Add(1)
		go b.drainChannel(event.Channel, q)
	}
	return q, nil
}

// drainChannel is the single designated worker goroutine per channel that
// preserves FIFO-within-channel order (spec.md §4.1, §5): it reads its
// channel's queue strictly in order and hands each event to the shared
// dispatch semaphore, which bounds total concurrent fan-out work without
// reordering any one channel's events.
func (b *Bus) drainChannel(channel string, q chan Event) {
	defer b.wg.Done()
	for {
		select {
		case event, ok := <-q:
			if !ok {
				return
			}
			b.dispatch(event)
		case <-b.closeCh:
			// Drain remaining buffered events before exiting so in-flight
			// submissions are not silently lost on graceful shutdown.
			for {
				select {
				case event, ok := <-q:
					if !ok {
						return
					}
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event Event) {
	modules := b.registry.ModulesForChannel(event.Channel)
	if len(modules) == 0 {
		b.logger.Debug("bus: no module subscribes to channel", slog.String("channel", event.Channel), slog.String("event_id", event.ID))
		return
	}
	// The fan-out of one event runs concurrently, but the drainer waits for
	// all of it before taking the channel's next event, so invocations of
	// successive events on one channel never overtake each other.
	var eventWG sync.WaitGroup
	for _, m := range modules {
		m := m
		b.sem <- struct{}{}
		eventWG.Add(1)
		go func() {
			defer eventWG.Done()
			defer func() { <-b.sem }()
			b.invoker.Invoke(context.Background(), m, event)
		}()
	}
	eventWG.Wait()
}

// Stop signals every channel drainer to finish its buffered backlog and
// exit, then waits up to the caller's context deadline for in-flight
// dispatch jobs to complete (spec.md §5 graceful shutdown grace window).
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
