package idalloc

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryStore creates a process-local counter store for tests and development.
func NewMemoryStore() CounterStore {
	return &memoryStore{counters: make(map[string]int64)}
}

func (s *memoryStore) Next(_ context.Context, name, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := name + "@" + scope
	s.counters[key]++
	return s.counters[key], nil
}
