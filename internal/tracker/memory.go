package tracker

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. It backs tests and dry runs; durable
// deployments use the sqlite-backed store.
type MemoryStore struct {
	mu      sync.Mutex
	byPair  map[string]*Record
	byID    map[string]*Record
	ordered []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPair: make(map[string]*Record),
		byID:   make(map[string]*Record),
	}
}

func pairKey(candidateID, jobID string) string {
	return candidateID + "\x00" + jobID
}

func (s *MemoryStore) GetOrCreate(_ context.Context, rec *Record) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(rec.CandidateID, rec.JobID)
	if existing, ok := s.byPair[key]; ok {
		return existing.Clone(), false, nil
	}

	stored := rec.Clone()
	s.byPair[key] = stored
	s.byID[stored.ID] = stored
	s.ordered = append(s.ordered, stored.ID)

	return stored.Clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, candidateID, jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byPair[pairKey(candidateID, jobID)]
	if !ok {
		return nil, fmt.Errorf("record for candidate %s and job %s: %w", candidateID, jobID, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[rec.ID]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", rec.ID, ErrNotFound)
	}

	if stored.Version != rec.Version {
		return nil, fmt.Errorf("record %s: %w", rec.ID, ErrVersionConflict)
	}

	next := rec.Clone()
	next.Version = stored.Version + 1
	s.byID[next.ID] = next
	s.byPair[pairKey(next.CandidateID, next.JobID)] = next

	return next.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*Record, 0, len(s.ordered))
	for _, id := range s.ordered {
		records = append(records, s.byID[id].Clone())
	}
	return records, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status Status) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*Record
	for _, id := range s.ordered {
		if rec := s.byID[id]; rec.Status == status {
			records = append(records, rec.Clone())
		}
	}
	return records, nil
}
