// Package memory provides an in-process fixture store, used for single-process
// runs that do not need the fixture after exit and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/canopy/pkg/domain"
)

// Store implements ports.FixtureStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.SessionFixture
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.SessionFixture),
	}
}

// Save keeps a deep copy of the fixture, similar to serialization.
func (s *Store) Save(ctx context.Context, runID string, fixture *domain.SessionFixture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[runID] = fixture.Clone()
	return nil
}

// Load returns a copy so the caller can't mutate the stored fixture.
func (s *Store) Load(ctx context.Context, runID string) (*domain.SessionFixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.data[runID]
	if !ok {
		return nil, domain.ErrFixtureNotFound
	}
	return f.Clone(), nil
}

// Delete removes the fixture.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, runID)
	return nil
}

// List returns the stored run IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]string, 0, len(s.data))
	for id := range s.data {
		runs = append(runs, id)
	}
	sort.Strings(runs)
	return runs, nil
}
