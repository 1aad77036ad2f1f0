// Package timer implements the interval-based event source adapter
// supplemented from original_source (spec.md's distillation scopes
// source adapters out, but ships one ambient example): a cron schedule
// driving github.com/robfig/cron/v3, emitting an Event onto the bus on
// each tick. A failed Submit is logged and naturally retried on the next
// tick, matching spec.md §7's "source-adapter fetch errors retry on next
// poll" policy.
package timer

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plaidrun/plaid/internal/bus"
)

// Submitter is the subset of *bus.Bus the timer source needs.
type Submitter interface {
	Submit(ctx context.Context, event bus.Event) error
}

// SubmitTimeout bounds how long one tick's Submit may block before the
// attempt is abandoned and logged for retry on the next tick.
const SubmitTimeout = 5 * time.Second

// Source drives zero or more cron-scheduled event emissions.
type Source struct {
	cron   *cron.Cron
	bus    Submitter
	logger *slog.Logger
}

// New constructs a Source. Call Add for each data-source-config entry,
// then Start.
func New(logger *slog.Logger, submitter Submitter) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		cron:   cron.New(),
		bus:    submitter,
		logger: logger,
	}
}

// Add registers a cron schedule (standard five-field robfig/cron syntax,
// plus the "@every <duration>" shorthand) that emits an event on channel
// on each tick, tagged with label as its Source.
func (s *Source) Add(schedule, channel, label string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), SubmitTimeout)
		defer cancel()

		event := bus.New(channel, nil, bus.Source{Label: label}, nil, bus.UnlimitedBudget())
		if err := s.bus.Submit(ctx, event); err != nil {
			s.logger.Warn("timer: submit failed, will retry next tick",
				slog.String("channel", channel), slog.String("label", label), slog.Any("error", err))
		}
	})
	return err
}

// Start begins running scheduled jobs in their own goroutines.
func (s *Source) Start() {
	s.cron.Start()
}

// Stop waits for in-flight ticks to finish, or for ctx to expire first.
func (s *Source) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
