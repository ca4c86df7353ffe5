package quota

import (
	"context"
	"sync"
)

type record struct {
	count int
	limit int
}

// MemoryStore is an in-process Store guarded by a mutex. It backs local runs
// and tests; production uses DynamoStore. Records accumulate per day key and
// are never expired, which is acceptable for a process-lifetime store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]record)}
}

func (s *MemoryStore) CheckAndIncrement(_ context.Context, key string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		s.records[key] = record{count: 1, limit: limit}
		return true, nil
	}
	// Compare against the limit supplied for this call; the stored limit is
	// only a record of what applied when the day record was created.
	if rec.count >= limit {
		return false, nil
	}
	rec.count++
	s.records[key] = rec
	return true, nil
}

// Count reports the current counter for a key; used by tests.
func (s *MemoryStore) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key].count
}
