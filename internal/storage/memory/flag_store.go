package memory

import (
	"context"
	"sync"
)

// FlagStore is an in-memory discovery.KeyValueStore.
type FlagStore struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewFlagStore creates an empty FlagStore.
func NewFlagStore() *FlagStore {
	return &FlagStore{flags: make(map[string]bool)}
}

// Get returns the flag value and whether it was ever set.
func (s *FlagStore) Get(_ context.Context, key string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.flags[key]
	return v, ok, nil
}

// Set records value under key.
func (s *FlagStore) Set(_ context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = value
	return nil
}
