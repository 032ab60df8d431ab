package memory

import (
	"context"
	"sync"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// BaselineStore is an in-memory implementation of storage.BaselineStore.
type BaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]*domain.DistributionSnapshot
	history   map[string][]*domain.DistributionSnapshot
}

// NewBaselineStore creates a new in-memory baseline store.
func NewBaselineStore() *BaselineStore {
	return &BaselineStore{
		baselines: make(map[string]*domain.DistributionSnapshot),
		history:   make(map[string][]*domain.DistributionSnapshot),
	}
}

// Compile-time interface check.
var _ storage.BaselineStore = (*BaselineStore)(nil)

// LoadBaselines returns the baseline of every feature.
func (s *BaselineStore) LoadBaselines(_ context.Context) (map[string]*domain.DistributionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*domain.DistributionSnapshot, len(s.baselines))
	for k, v := range s.baselines {
		out[k] = copyDistribution(v)
	}
	return out, nil
}

// SaveBaselines replaces all baselines.
func (s *BaselineStore) SaveBaselines(_ context.Context, baselines map[string]*domain.DistributionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines = make(map[string]*domain.DistributionSnapshot, len(baselines))
	for k, v := range baselines {
		if v == nil {
			return storage.ErrInvalidInput
		}
		s.baselines[k] = copyDistribution(v)
	}
	return nil
}

// AppendHistory appends a snapshot, keeping the newest keep entries.
func (s *BaselineStore) AppendHistory(_ context.Context, snap *domain.DistributionSnapshot, keep int) error {
	if snap == nil || snap.Feature == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.history[snap.Feature], copyDistribution(snap))
	if keep > 0 && len(h) > keep {
		h = append([]*domain.DistributionSnapshot(nil), h[len(h)-keep:]...)
	}
	s.history[snap.Feature] = h
	return nil
}

// LoadHistory returns the history of feature, oldest first.
func (s *BaselineStore) LoadHistory(_ context.Context, feature string) ([]*domain.DistributionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[feature]
	out := make([]*domain.DistributionSnapshot, len(h))
	for i, v := range h {
		out[i] = copyDistribution(v)
	}
	return out, nil
}

func copyDistribution(in *domain.DistributionSnapshot) *domain.DistributionSnapshot {
	cp := *in
	cp.Histogram = append([]domain.HistogramBin(nil), in.Histogram...)
	return &cp
}
