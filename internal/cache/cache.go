// Package cache stores evaluated credit results between requests.
//
// Wallet evaluations are cached under WalletKey and dropped whenever the
// wallet's ledger changes. Stateless evaluations are cached under
// SnapshotKey, which hashes the snapshot content, so they never go stale.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/swipefi/swipefi/internal/scoring"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores opaque values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// WalletKey is the cache key for a wallet's latest evaluation.
func WalletKey(addr string) string {
	return "wallet:" + strings.ToLower(addr)
}

// SnapshotKey hashes the canonical JSON of s together with the
// outstanding balance. Protocol order does not affect the key.
func SnapshotKey(s scoring.Snapshot, balance float64) string {
	protocols := append([]string{}, s.DefiProtocols...)
	sort.Strings(protocols)
	s.DefiProtocols = protocols
	s.Address = strings.ToLower(s.Address)

	raw, _ := json.Marshal(s)
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(balance, 'g', -1, 64)))
	return "snapshot:" + hex.EncodeToString(h.Sum(nil))
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache is an in-process TTL map.
type MemoryCache struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

var _ Cache = (*MemoryCache)(nil)

func (m *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if now := m.now(); e.expired(now) {
		m.evict(key, now)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// evict deletes key if it is still expired at now. A Set that landed after
// the caller's read keeps its entry.
func (m *MemoryCache) evict(key string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.expired(now) {
		delete(m.entries, key)
	}
}

// Set stores value. A zero ttl never expires.
func (m *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = e
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (m *MemoryCache) Purge() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
