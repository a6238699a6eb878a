package store

import (
	"context"
	"sort"
	"sync"

	"github.com/example/chess-academy/internal/progress"
)

// InMemoryProgressRepository is a development-only in-memory implementation.
type InMemoryProgressRepository struct {
	mu        sync.RWMutex
	rows      map[string]progress.WireRecord
	processed map[string]struct{}
}

func NewInMemoryProgressRepository() *InMemoryProgressRepository {
	return &InMemoryProgressRepository{
		rows:      make(map[string]progress.WireRecord),
		processed: make(map[string]struct{}),
	}
}

func (s *InMemoryProgressRepository) UpsertBatch(_ context.Context, records []progress.WireRecord) (int, error) {
	if err := Validate(records); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(records), nil
}

func (s *InMemoryProgressRepository) ApplyEvent(_ context.Context, eventID string, records []progress.WireRecord) (int, bool, error) {
	if err := Validate(records); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; ok {
		return 0, true, nil
	}
	s.processed[eventID] = struct{}{}
	return s.applyLocked(records), false, nil
}

func (s *InMemoryProgressRepository) applyLocked(records []progress.WireRecord) int {
	applied := 0
	for _, r := range records {
		k := key(r.SubjectID, r.ItemID)
		if cur, ok := s.rows[k]; ok && cur.LastWatchedAt.After(r.LastWatchedAt) {
			continue
		}
		r.LastWatchedAt = r.LastWatchedAt.UTC()
		if r.DurationSeconds != nil {
			d := *r.DurationSeconds
			r.DurationSeconds = &d
		}
		s.rows[k] = r
		applied++
	}
	return applied
}

func (s *InMemoryProgressRepository) Query(_ context.Context, subjectID string, itemIDs []string) ([]progress.WireRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progress.WireRecord
	if len(itemIDs) > 0 {
		for _, id := range itemIDs {
			if r, ok := s.rows[key(subjectID, id)]; ok {
				out = append(out, r)
			}
		}
		return out, nil
	}
	for _, r := range s.rows {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}
