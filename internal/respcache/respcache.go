// Package respcache implements the GET-response caching pipeline of
// spec.md §4.5: given a webhook's configured caching_mode, decide
// whether to serve a cached body, invoke the rule module, or both,
// backed by internal/cache's at-most-one-build guarantee.
package respcache

import (
	"context"
	"time"

	"github.com/plaidrun/plaid/internal/cache"
)

// Invoker runs the named rule module synchronously against a
// synthesized GET event and returns whatever bytes it passed to
// set_response. Implemented by a thin adapter over *sandbox.Executor in
// internal/httpgateway, which also knows how to build that event.
type Invoker interface {
	InvokeRule(ctx context.Context, moduleName string, fingerprint string) ([]byte, error)
}

// Pipeline resolves a GET response for one webhook entry's configured
// get_mode, per spec.md §4.5. Static and Facebook-challenge modes never
// reach this package — internal/httpgateway handles those directly, with
// no module invocation.
type Pipeline struct {
	cache   *cache.Cache
	invoker Invoker
}

// New constructs a Pipeline over the shared cache and rule invoker.
func New(c *cache.Cache, invoker Invoker) *Pipeline {
	return &Pipeline{cache: c, invoker: invoker}
}

// Resolve implements the three caching_mode variants of spec.md §4.5 for
// a Rule-mode webhook entry:
//
//   - None: invoke the rule module on every request; no caching.
//   - Timed{validity}: serve the cached entry if it is younger than
//     validity; otherwise invoke and cache the fresh result.
//   - UsePersistentResponse{call_on_none}: serve whatever persistent
//     entry exists; if none exists, invoke only when call_on_none is set,
//     otherwise return ErrNoResponse.
func (p *Pipeline) Resolve(ctx context.Context, moduleName, fingerprint string, mode CachingMode) ([]byte, error) {
	key := cache.Key{Module: moduleName, Fingerprint: fingerprint}

	switch mode.Kind {
	case CachingNone:
		return p.invoker.InvokeRule(ctx, moduleName, fingerprint)

	case CachingTimed:
		if entry, ok := p.cache.Get(key); ok && entry.Fresh(mode.Validity, time.Now()) {
			return entry.Bytes, nil
		}
		return p.cache.Build(ctx, key, func(ctx context.Context) ([]byte, error) {
			if entry, ok := p.cache.Get(key); ok && entry.Fresh(mode.Validity, time.Now()) {
				return entry.Bytes, nil
			}
			out, err := p.invoker.InvokeRule(ctx, moduleName, fingerprint)
			if err != nil {
				return nil, err
			}
			p.cache.Put(key, out, false)
			return out, nil
		})

	case CachingUsePersistentResponse:
		if entry, ok := p.cache.Get(key); ok {
			return entry.Bytes, nil
		}
		if !mode.CallOnNone {
			return nil, ErrNoResponse
		}
		return p.cache.Build(ctx, key, func(ctx context.Context) ([]byte, error) {
			if entry, ok := p.cache.Get(key); ok {
				return entry.Bytes, nil
			}
			out, err := p.invoker.InvokeRule(ctx, moduleName, fingerprint)
			if err != nil {
				return nil, err
			}
			p.cache.Put(key, out, true)
			return out, nil
		})
	default:
		return p.invoker.InvokeRule(ctx, moduleName, fingerprint)
	}
}

// ErrNoResponse is returned when UsePersistentResponse finds no entry
// and call_on_none is false (spec.md §4.5).
var ErrNoResponse = errorString("respcache: no persistent response available")

type errorString string

func (e errorString) Error() string { return string(e) }
