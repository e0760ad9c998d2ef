package store

import (
	"context"
	"sort"
	"sync"

	"github.com/quantdash/overview-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records []model.PositionRecord // first-insert order, like the seq column
	index   map[string]int         // id -> position in records
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index: make(map[string]int),
	}
}

func (s *MemoryStore) InsertPositions(_ context.Context, positions []model.PositionRecord) error {
	if err := validate(positions); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range positions {
		if i, ok := s.index[p.ID]; ok {
			s.records[i] = p
			continue
		}
		s.index[p.ID] = len(s.records)
		s.records = append(s.records, p)
	}
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, exchange string) ([]model.PositionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.PositionRecord{}
	for _, p := range s.records {
		if p.Exchange == exchange {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListExchanges(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	exchanges := []string{}
	for _, p := range s.records {
		if !seen[p.Exchange] {
			seen[p.Exchange] = true
			exchanges = append(exchanges, p.Exchange)
		}
	}
	sort.Strings(exchanges)
	return exchanges, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
