// Package kv implements the persistent-storage host calls of spec.md
// §4.4 item 2: a key/value store namespaced by module name, with a
// per-module byte quota that rejects an over-quota Put in full.
//
// Values are sealed at rest with AES-256-GCM under a key HKDF-derived
// from a global application key and the module's namespace — the
// "workspace" input of the compound-key scheme documented in the
// teacher's pkg/secrets, adapted here from string/byte helpers into a
// namespaced store.
package kv

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// ErrLimitReached is returned by Put when writing value would push the
// module's total stored bytes past its quota. The write is refused in
// full — no partial write ever lands (spec.md §4.4 item 2).
var ErrLimitReached = errors.New("kv: storage limit reached")

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("kv: key not found")

// Backend is the pluggable storage surface kv.Store drives: an in-memory
// map by default, or Redis via internal/kv/redis.go when configured.
// Backend operates on raw (already-encrypted) bytes; kv.Store owns
// sealing/unsealing and quota accounting above it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	// SizeOf returns the stored byte length for key, or 0 if absent —
	// used by Store to account quota without re-reading every key.
	SizeOf(ctx context.Context, key string) (int, error)
}

// Store is the namespaced, quota-enforced, encrypted key/value store
// bound to one module at a time via Namespace.
type Store struct {
	backend Backend
	appKey  []byte
	quota   int64

	mu    sync.Mutex
	usage map[string]int64 // namespace -> total sealed bytes stored
}

// New constructs a Store. appKey is the global application encryption
// key (32 bytes, see GenerateKey); quotaBytes bounds the total sealed
// size any single module namespace may occupy (0 = unbounded).
func New(backend Backend, appKey []byte, quotaBytes int64) *Store {
	return &Store{
		backend: backend,
		appKey:  appKey,
		quota:   quotaBytes,
		usage:   make(map[string]int64),
	}
}

// GenerateKey returns a cryptographically secure 32-byte key suitable
// for use as the application key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("kv: generating key: %w", err)
	}
	return key, nil
}

// namespacedKey builds the backend key from a module's namespace and the
// guest-supplied key, matching spec.md §4.2's "persistent-storage
// namespace (its module name)".
func namespacedKey(namespace, key string) string {
	return namespace + "/" + key
}

// Get returns the decrypted value stored under key in namespace's
// storage, or ErrNotFound.
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	sealed, err := s.backend.Get(ctx, namespacedKey(namespace, key))
	if err != nil {
		return nil, err
	}
	return s.open(namespace, sealed)
}

// Put seals value and stores it under key in namespace's storage. If
// doing so would push namespace's total sealed bytes past quota, the
// write is refused and ErrLimitReached is returned; nothing is written.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	sealed, err := s.seal(namespace, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevSize, _ := s.backend.SizeOf(ctx, namespacedKey(namespace, key))
	projected := s.usage[namespace] - int64(prevSize) + int64(len(sealed))
	if s.quota > 0 && projected > s.quota {
		return ErrLimitReached
	}

	if err := s.backend.Put(ctx, namespacedKey(namespace, key), sealed); err != nil {
		return err
	}
	s.usage[namespace] = projected
	return nil
}

// Delete removes key from namespace's storage.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevSize, _ := s.backend.SizeOf(ctx, namespacedKey(namespace, key))
	if err := s.backend.Delete(ctx, namespacedKey(namespace, key)); err != nil {
		return err
	}
	s.usage[namespace] -= int64(prevSize)
	if s.usage[namespace] < 0 {
		s.usage[namespace] = 0
	}
	return nil
}

// ListKeys returns every key stored in namespace whose suffix (the part
// after "namespace/") has the given prefix, sorted for determinism.
func (s *Store) ListKeys(ctx context.Context, namespace, prefix string) ([]string, error) {
	full, err := s.backend.ListKeys(ctx, namespacedKey(namespace, prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(full))
	nsPrefix := namespace + "/"
	for _, k := range full {
		out = append(out, strings.TrimPrefix(k, nsPrefix))
	}
	sort.Strings(out)
	return out, nil
}

// seal derives a per-namespace key via HKDF(appKey, namespace) and
// encrypts value with AES-256-GCM, prefixing the nonce.
func (s *Store) seal(namespace string, value []byte) ([]byte, error) {
	gcm, err := s.cipherFor(namespace)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("kv: generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, value, nil), nil
}

func (s *Store) open(namespace string, sealed []byte) ([]byte, error) {
	gcm, err := s.cipherFor(namespace)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("kv: sealed value too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *Store) cipherFor(namespace string) (cipher.AEAD, error) {
	derived := make([]byte, 32)
	r := hkdf.New(sha256.New, s.appKey, []byte(namespace), []byte("plaid-storage"))
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("kv: deriving key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
