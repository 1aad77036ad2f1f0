package httpgateway

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// routeKey identifies one registered handler by method and exact path.
type routeKey struct {
	method string
	path   string
}

// mux is a minimal HTTP router keyed by exact (method, path) pairs,
// generalized down from core/router's trie-based mux: this engine's
// webhook paths are configuration keys fixed at load time, not patterned
// routes, so no wildcard or parameter matching is needed. Panic recovery
// follows the same "log and return 500, never crash the listener"
// contract as core/router/mux.go's ServeHTTP.
type mux struct {
	logger *slog.Logger
	routes map[routeKey]http.HandlerFunc
}

func newMux(logger *slog.Logger) *mux {
	return &mux{logger: logger, routes: make(map[routeKey]http.HandlerFunc)}
}

func (m *mux) handle(method, path string, fn http.HandlerFunc) {
	m.routes[routeKey{method: method, path: path}] = fn
}

func (m *mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("httpgateway: panic handling request",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
				slog.String("path", r.URL.Path),
			)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()

	fn, ok := m.routes[routeKey{method: r.Method, path: r.URL.Path}]
	if !ok {
		http.NotFound(w, r)
		return
	}
	fn(w, r)
}
