package secretstore

import (
	"bytes"
	"sync"
)

// MemoryStore is an in-process Store. SetUnavailable simulates an
// unreachable backend.
type MemoryStore struct {
	mu          sync.Mutex
	data        map[string][]byte
	unavailable bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// SetUnavailable toggles simulated backend failure for every operation.
func (s *MemoryStore) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unavailable = v
}

func (s *MemoryStore) Get(key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return nil, ErrUnavailable
	}

	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}

	return bytes.Clone(v), nil
}

func (s *MemoryStore) Put(key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return ErrUnavailable
	}

	s.data[key] = bytes.Clone(value)

	return nil
}

func (s *MemoryStore) Delete(key string) error {
	if err := checkKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return ErrUnavailable
	}

	delete(s.data, key)

	return nil
}
