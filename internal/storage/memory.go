package storage

import "sync"

// MemoryStore is a non-durable Store for tests and ephemeral clients.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]map[string]any
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]map[string]any)}
}

// GetDict implements Store.
func (s *MemoryStore) GetDict(key string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.slots[key]
	if !ok {
		return nil, nil
	}

	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = v
	}
	return out, nil
}

// SetDict implements Store.
func (s *MemoryStore) SetDict(key string, value map[string]any) error {
	copied := make(map[string]any, len(value))
	for k, v := range value {
		copied[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = copied
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}
