package memory

import (
	"sync"

	"github.com/trickstertwo/xbeacon"
)

// Store is an in-process PersistentStore with an optional byte quota, for
// tests and hosts that only need reload recovery within one process.
type Store struct {
	mu    sync.Mutex
	data  map[string][]byte
	used  int
	quota int
}

var _ xbeacon.PersistentStore = (*Store)(nil)

// NewStore returns an empty Store. quota <= 0 means unlimited; otherwise the
// sum of all value sizes may not exceed quota.
func NewStore(quota int) *Store {
	return &Store{data: make(map[string][]byte), quota: quota}
}

func (s *Store) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, xbeacon.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.used - len(s.data[key]) + len(value)
	if s.quota > 0 && next > s.quota {
		return xbeacon.ErrQuotaExceeded
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	s.used = next
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= len(s.data[key])
	delete(s.data, key)
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
