// Package webhook implements the one concrete "API backend" transport
// this engine wires in for the API-dispatch host calls of spec.md §4.4:
// plain outbound HTTP, HMAC-signed, with retry/backoff and a per-
// namespace circuit breaker.
//
// spec.md §1 deliberately leaves the transport for any given namespace
// unspecified ("the engine treats each as an opaque callable"); this
// package is the concrete instance SPEC_FULL.md §9 notes is "the only
// API backend transport the example corpus actually demonstrates",
// adapted directly from the teacher's pkg/webhook (HMAC signatures,
// exponential backoff, circuit breaking) narrowed from a generic fire-
// and-forget webhook sender into a request/response API caller whose
// response bytes are returned to the calling guest.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the namespace's circuit breaker has
// tripped and is not yet ready to allow a trial request.
var ErrCircuitOpen = errors.New("webhook: circuit open")

// NamespaceConfig is one configured API backend: a base URL plus an
// optional HMAC signing secret, matching the `apis` section of spec.md
// §6's configuration file.
type NamespaceConfig struct {
	BaseURL         string
	Secret          string
	Timeout         time.Duration
	MaxRetries      int
	BreakerFailures int // consecutive failures before the breaker opens
	BreakerCooldown time.Duration
}

func (c NamespaceConfig) withDefaults() NamespaceConfig {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

type breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().After(b.openUntil)
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) recordFailure(cfg NamespaceConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= cfg.BreakerFailures {
		b.openUntil = time.Now().Add(cfg.BreakerCooldown)
	}
}

// Client dispatches method calls against configured namespaces, shared
// by every module (outbound I/O runs on one global async runtime per
// spec.md §9's "Single global async runtime" design note).
type Client struct {
	httpClient *http.Client
	namespaces map[string]NamespaceConfig

	mu       sync.Mutex
	breakers map[string]*breaker
}

// New constructs a Client bound to the given per-namespace configuration
// (the `apis` table of spec.md §6).
func New(namespaces map[string]NamespaceConfig) *Client {
	c := &Client{
		httpClient: &http.Client{},
		namespaces: make(map[string]NamespaceConfig, len(namespaces)),
		breakers:   make(map[string]*breaker),
	}
	for name, cfg := range namespaces {
		c.namespaces[name] = cfg.withDefaults()
	}
	return c
}

// Configured reports whether namespace has a registered backend, the
// check behind the ApiNotConfigured host error (spec.md §4.4 item 1).
func (c *Client) Configured(namespace string) bool {
	_, ok := c.namespaces[namespace]
	return ok
}

// Call issues method against namespace's configured base URL with
// payload as the request body, retrying transient failures with
// exponential backoff, and returns the response body. The context
// deadline governs the whole retry loop — a trapped wall-clock ceiling
// in the calling guest invocation aborts the call exactly once
// (spec.md §9: "guests must treat host calls as at-most-once").
func (c *Client) Call(ctx context.Context, namespace, method string, payload []byte) ([]byte, error) {
	cfg, ok := c.namespaces[namespace]
	if !ok {
		return nil, fmt.Errorf("webhook: namespace %q not configured", namespace)
	}

	br := c.breakerFor(namespace)
	if !br.allow() {
		return nil, ErrCircuitOpen
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		body, err := c.doOnce(ctx, cfg, namespace, method, payload)
		if err == nil {
			br.recordSuccess()
			return body, nil
		}
		lastErr = err
		if isPermanent(err) {
			br.recordFailure(cfg)
			return nil, err
		}
	}
	br.recordFailure(cfg)
	return nil, fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

func (c *Client) breakerFor(namespace string) *breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[namespace]
	if !ok {
		b = &breaker{}
		c.breakers[namespace] = b
	}
	return b
}

type permanentError struct{ error }

func (p permanentError) Unwrap() error { return p.error }

func isPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

func (c *Client) doOnce(ctx context.Context, cfg NamespaceConfig, namespace, method string, payload []byte) ([]byte, error) {
	url := cfg.BaseURL + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, permanentError{err}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Secret != "" {
		req.Header.Set("X-Plaid-Signature", Sign(cfg.Secret, payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err // network error: transient, retry
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, permanentError{fmt.Errorf("webhook: %s %s: status %d", namespace, method, resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("webhook: %s %s: status %d", namespace, method, resp.StatusCode)
	}
	return body, nil
}

// Sign computes the hex-encoded HMAC-SHA256 of payload under secret, the
// verification scheme documented by the teacher's pkg/webhook.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid HMAC-SHA256 of payload
// under secret, using constant-time comparison.
func Verify(secret string, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
