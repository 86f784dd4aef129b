package session

import (
	"context"
	"sync"
)

// InMemoryStore is a volatile Store keeping exchanges in a process local
// slice. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers.
type InMemoryStore struct {
	mu        sync.RWMutex
	exchanges []Exchange
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Save implements Store.
func (s *InMemoryStore) Save(_ context.Context, ex Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = append(s.exchanges, ex)
	return nil
}

// All returns every recorded exchange leg, oldest first.
func (s *InMemoryStore) All() []Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Exchange, len(s.exchanges))
	copy(out, s.exchanges)
	return out
}

// List implements Store.
func (s *InMemoryStore) List(_ context.Context, exchangeID string) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Exchange
	for _, ex := range s.exchanges {
		if ex.ExchangeID == exchangeID {
			out = append(out, ex)
		}
	}
	return out, nil
}
