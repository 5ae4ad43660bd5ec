// Package blob provides the content store for role source. Metadata lives in
// MongoDB; the (potentially large) code and media XML live here, addressed by
// opaque keys that metadata records reference.
package blob

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when no blob exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// Store is the minimal surface the rest of the system needs from a blob
// backend. Blobs are immutable under a given key: updates allocate a new key
// and delete the old one after the metadata commit succeeds.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List returns every key under the given prefix together with its last
	// modification time. Used by the orphan reconciler.
	List(ctx context.Context, prefix string) (map[string]time.Time, error)
}

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	times map[string]time.Time
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		times: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = buf
	s.times[key] = time.Now()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	delete(s.times, key)
	return nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time)
	for key, ts := range s.times {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out[key] = ts
		}
	}
	return out, nil
}

// SetModTime overrides a key's modification time. Test hook for the orphan
// reconciler's grace window.
func (s *MemoryStore) SetModTime(key string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.times[key]; ok {
		s.times[key] = ts
	}
}
