// Package cache implements the TTL cache with bounded retry and
// stale-on-error fallback used by every upstream adapter call.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Entry is a stored value with its write time and freshness window.
// Entries past their TTL stay readable for stale-on-error fallback.
type Entry struct {
	Value    []byte        `json:"value"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is within its TTL at now.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.StoredAt.Add(e.TTL))
}

// Store is the backing key/value store of a Layer.
type Store interface {
	// Get returns the entry for key, or nil without error on a miss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set writes an entry. Concurrent writers of one key: last writer wins.
	Set(ctx context.Context, key string, entry Entry) error

	// Delete removes a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Key joins key parts with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	// Return copy
	cp := e
	cp.Value = append([]byte(nil), e.Value...)
	return &cp, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Value = append([]byte(nil), entry.Value...)
	s.entries[key] = entry
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)
