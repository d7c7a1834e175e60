package session

import "sync"

// MemoryTokenStore is a mutex-guarded in-memory TokenStore. It implements
// TokenRemover as well, so ClearAllCache can drop entries. Useful for tests
// and for providers that keep the token blob in process memory.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{values: map[string][]byte{}}
}

// Keys returns all stored keys.
func (s *MemoryTokenStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	return keys
}

// Get returns the value for key.
func (s *MemoryTokenStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

// Set stores value under key. Writes belong to the identity backend's
// client, not to the session core.
func (s *MemoryTokenStore) Set(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Remove implements TokenRemover.
func (s *MemoryTokenStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
