package httpgateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/plaidrun/plaid/internal/bus"
	"github.com/plaidrun/plaid/internal/cache"
	"github.com/plaidrun/plaid/internal/logback"
	"github.com/plaidrun/plaid/internal/respcache"
)

// handleGet implements the three GET response modes of spec.md §4.5.
// Static and Facebook-challenge never invoke a module; Rule mode
// delegates to the response/cache pipeline.
func (g *Gateway) handleGet(entry Entry) http.HandlerFunc {
	mode := entry.GetMode.Response
	return func(w http.ResponseWriter, r *http.Request) {
		switch mode.Kind {
		case ResponseStatic:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(mode.Static))

		case ResponseFacebook:
			token := r.URL.Query().Get("hub.verify_token")
			challenge := r.URL.Query().Get("hub.challenge")
			if token != mode.Facebook {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(challenge))

		case ResponseRule:
			fp := cache.Fingerprint(r.URL.Path, r.URL.Query(), r.Header)
			out, err := g.pipeline.Resolve(r.Context(), mode.Rule, fp, entry.GetMode.Caching)
			if err != nil {
				if errors.Is(err, respcache.ErrNoResponse) {
					http.NotFound(w, r)
					return
				}
				g.logger.Error("httpgateway: rule resolution failed", slog.String("path", entry.Path), slog.Any("error", err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(out)
		}
	}
}

// handlePost implements webhook ingestion (spec.md §6: POST triggers the
// subscribing modules via the event bus), admitting the event's logback
// budget from the webhook's configured allowance.
func (g *Gateway) handlePost(entry Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var accessory map[string]string
		if len(entry.Headers) > 0 {
			accessory = make(map[string]string, len(entry.Headers))
			for _, h := range entry.Headers {
				if v := r.Header.Get(h); v != "" {
					accessory[h] = v
				}
			}
		}

		label := entry.Label
		if label == "" {
			label = entry.Path
		}

		budget := logback.Admit(entry.LogbacksAllowed)
		event := bus.New(entry.LogType, body, bus.Source{Webhook: label}, accessory, budget)

		if err := g.bus.Submit(r.Context(), event); err != nil {
			g.logger.Warn("httpgateway: submit failed", slog.String("path", entry.Path), slog.Any("error", err))
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}
