package replay

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const stripes = 256

// MemoryStore keeps fingerprints in a bounded, expiring LRU. Check-then-record
// is serialized per fingerprint by a fixed set of striped mutexes, so
// unrelated fingerprints never wait on each other's lock.
type MemoryStore struct {
	entries *expirable.LRU[string, time.Time]
	locks   [stripes]sync.Mutex
}

// NewMemoryStore returns a store holding at most cfg.MaxEntries fingerprints,
// each for cfg.Retention(). cfg is expected to be validated.
func NewMemoryStore(cfg Config) *MemoryStore {
	size := cfg.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	return &MemoryStore{
		entries: expirable.NewLRU[string, time.Time](size, nil, cfg.Retention()),
	}
}

// CheckAndRecord implements [Store].
func (s *MemoryStore) CheckAndRecord(_ context.Context, fp string, now time.Time, window time.Duration) (bool, error) {
	mu := &s.locks[xxhash.Sum64String(fp)%stripes]
	mu.Lock()
	defer mu.Unlock()

	if last, ok := s.entries.Get(fp); ok && now.Sub(last) < window {
		return false, nil
	}
	s.entries.Add(fp, now)
	return true, nil
}

// Release implements [Store].
func (s *MemoryStore) Release(_ context.Context, fp string) error {
	mu := &s.locks[xxhash.Sum64String(fp)%stripes]
	mu.Lock()
	defer mu.Unlock()

	s.entries.Remove(fp)
	return nil
}

// Len returns the number of tracked fingerprints.
func (s *MemoryStore) Len() int {
	return s.entries.Len()
}
