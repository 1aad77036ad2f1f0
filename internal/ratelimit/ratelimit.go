// Package ratelimit implements the per-module outbound call budget
// supplemented from original_source/ (spec.md's distillation dropped
// per-service rate limiting; SPEC_FULL.md §4.4 restores it as an
// additive check ahead of every API-dispatch host call).
//
// The token-bucket algorithm and refill math are adapted directly from
// pkg/ratelimiter/memory_store.go's MemoryStore, narrowed from a general
// Store interface down to the one thing the host call surface needs: a
// per-(module, namespace) allow/deny check.
package ratelimit

import (
	"sync"
	"time"
)

// Config is one namespace's token bucket shape.
type Config struct {
	Capacity       int
	RefillRate     int // tokens added per RefillInterval
	RefillInterval time.Duration
}

// DefaultConfig is applied to any namespace without an explicit entry:
// generous enough not to interfere with normal module behavior while
// still bounding a runaway guest loop of API calls.
var DefaultConfig = Config{Capacity: 60, RefillRate: 60, RefillInterval: time.Minute}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// Limiter tracks one token bucket per (module, namespace) key.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	configs map[string]Config
}

// New constructs a Limiter. perNamespace overrides DefaultConfig for
// specific API namespaces (e.g. a stricter budget for a paid API).
func New(perNamespace map[string]Config) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		configs: perNamespace,
	}
}

func (l *Limiter) configFor(namespace string) Config {
	if cfg, ok := l.configs[namespace]; ok {
		return cfg
	}
	return DefaultConfig
}

// Allow consumes one token from the (module, namespace) bucket, creating
// it at full capacity on first use. Returns false when the bucket is
// exhausted, signaling the caller to return OperationNotAllowed.
func (l *Limiter) Allow(module, namespace string) bool {
	cfg := l.configFor(namespace)
	key := module + "/" + namespace

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: cfg.Capacity, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill)
	if intervals := int(elapsed / cfg.RefillInterval); intervals > 0 {
		b.tokens = min(b.tokens+intervals*cfg.RefillRate, cfg.Capacity)
		b.lastRefill = now
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
