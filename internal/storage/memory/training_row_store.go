package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// TrainingRowStore is an in-memory implementation of storage.TrainingRowStore.
type TrainingRowStore struct {
	mu   sync.RWMutex
	keys map[string]struct{}
	rows []*domain.FeatureRow // insertion order
}

// NewTrainingRowStore creates a new in-memory training row store.
func NewTrainingRowStore() *TrainingRowStore {
	return &TrainingRowStore{keys: make(map[string]struct{})}
}

// Compile-time interface check.
var _ storage.TrainingRowBatchStore = (*TrainingRowStore)(nil)

// SaveTrainingRow appends a row. Returns ErrDuplicateKey if (mint, recorded_at) exists.
func (s *TrainingRowStore) SaveTrainingRow(_ context.Context, r *domain.FeatureRow) error {
	if r == nil || r.Mint == "" || len(r.Features) != domain.FeatureCount {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(r.Mint, r.RecordedAt)
	if _, exists := s.keys[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.keys[key] = struct{}{}
	s.rows = append(s.rows, copyRow(r))
	return nil
}

// SaveTrainingRows appends rows atomically. Nothing is stored if any row is
// invalid or duplicate.
func (s *TrainingRowStore) SaveTrainingRows(_ context.Context, rows []*domain.FeatureRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.Mint == "" || len(r.Features) != domain.FeatureCount {
			return storage.ErrInvalidInput
		}
		key := recordKey(r.Mint, r.RecordedAt)
		if _, exists := s.keys[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batch[key]; exists {
			return storage.ErrDuplicateKey
		}
		batch[key] = struct{}{}
	}
	for _, r := range rows {
		s.keys[recordKey(r.Mint, r.RecordedAt)] = struct{}{}
		s.rows = append(s.rows, copyRow(r))
	}
	return nil
}

// LoadRecentFeatureRows returns at most limit rows, newest first.
func (s *TrainingRowStore) LoadRecentFeatureRows(_ context.Context, limit int, since time.Time) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FeatureRow, 0, len(s.rows))
	for _, r := range s.rows {
		if !since.IsZero() && r.RecordedAt.Before(since) {
			continue
		}
		result = append(result, copyRow(r))
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].RecordedAt.Equal(result[j].RecordedAt) {
			return result[i].RecordedAt.After(result[j].RecordedAt)
		}
		return result[i].Mint < result[j].Mint
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CountOutcomes returns the number of labeled rows per outcome.
func (s *TrainingRowStore) CountOutcomes(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range s.rows {
		if r.Outcome != "" {
			counts[r.Outcome]++
		}
	}
	return counts, nil
}

// Label sets the outcome of the row keyed by (mint, recordedAt).
// Returns ErrNotFound if no such row exists.
func (s *TrainingRowStore) Label(mint string, recordedAt time.Time, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.Mint == mint && r.RecordedAt.UnixMilli() == recordedAt.UnixMilli() {
			r.Outcome = outcome
			return nil
		}
	}
	return storage.ErrNotFound
}

// Count returns the number of stored rows.
func (s *TrainingRowStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func copyRow(in *domain.FeatureRow) *domain.FeatureRow {
	cp := *in
	cp.Features = append([]float64(nil), in.Features...)
	cp.Normalized = append([]float64(nil), in.Normalized...)
	return &cp
}
