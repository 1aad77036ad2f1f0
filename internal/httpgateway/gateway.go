// Package httpgateway implements the inbound HTTP listener of spec.md
// §4.5: one http.Server per configured "webhooks" entry, routing GET
// requests through the Static / Facebook-challenge / Rule response modes
// and POST requests onto the event bus as webhook-sourced events.
package httpgateway

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/plaidrun/plaid/core/server"
	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/respcache"
)

// Submitter is the subset of *bus.Bus the gateway needs to ingest
// webhook POSTs.
type Submitter interface {
	Submit(ctx context.Context, event bus.Event) error
}

// ResponseKind discriminates a GET entry's response_mode.
type ResponseKind int

const (
	ResponseFacebook ResponseKind = iota
	ResponseRule
	ResponseStatic
)

// ResponseMode is the resolved form of spec.md §6's
// "facebook:<secret>" | "rule:<module>" | "static:<body>" grammar.
type ResponseMode struct {
	Kind     ResponseKind
	Facebook string
	Rule     string
	Static   string
}

// GetMode is a webhook entry's resolved get_mode table.
type GetMode struct {
	Response ResponseMode
	Caching  respcache.CachingMode
}

// Entry is one webhook path's resolved runtime configuration, built by
// cmd/plaid from the parsed config.WebhookEntry.
type Entry struct {
	Path            string
	LogType         string
	Headers         []string
	Label           string
	LogbacksAllowed *bus.LogbackBudget
	GetMode         *GetMode // nil for POST-only webhooks
}

// listener is one configured http.Server serving a fixed set of entries.
type listener struct {
	addr string
	mux  *mux
	srv  *server.Server
}

// Gateway owns every configured listener and the shared services GET and
// POST handling need: the bus submitter and the response/cache pipeline.
type Gateway struct {
	logger    *slog.Logger
	bus       Submitter
	pipeline  *respcache.Pipeline
	listeners []*listener
}

// New constructs an empty Gateway. Call AddListener once per configured
// "webhooks" entry before Run.
func New(logger *slog.Logger, submitter Submitter, pipeline *respcache.Pipeline) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{logger: logger, bus: submitter, pipeline: pipeline}
}

// AddListener registers one http.Server at addr serving the given
// path-keyed entries.
func (g *Gateway) AddListener(addr string, entries map[string]Entry) {
	mx := newMux(g.logger)
	for path, entry := range entries {
		entry := entry
		if entry.GetMode != nil {
			mx.handle(http.MethodGet, path, g.handleGet(entry))
		}
		mx.handle(http.MethodPost, path, g.handlePost(entry))
	}
	g.listeners = append(g.listeners, &listener{
		addr: addr,
		mux:  mx,
		srv:  server.New(addr),
	})
}

// Run starts every configured listener and blocks until ctx is canceled
// or any listener fails, at which point the others are shut down too
// (errgroup.WithContext's standard fan-out-then-cancel-siblings shape,
// mirroring core/event.Processor.Run's errgroup-compatible wrapper).
func (g *Gateway) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, l := range g.listeners {
		l := l
		group.Go(l.srv.Run(ctx, l.mux))
	}
	return group.Wait()
}

// Stop gracefully shuts down every listener within its configured grace
// window.
func (g *Gateway) Stop() error {
	var firstErr error
	for _, l := range g.listeners {
		if err := l.srv.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
