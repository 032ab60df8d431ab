package memory

import (
	"context"
	"sync"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// DefaultReportRetention bounds the in-memory report history.
const DefaultReportRetention = 100

// ReportStore is an in-memory implementation of storage.ReportStore.
// Reports are immutable once saved, so they are stored by pointer.
type ReportStore struct {
	mu        sync.RWMutex
	retention int
	quality   []*domain.DataQualityReport // oldest first
	drift     []*domain.DriftReport       // oldest first
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{retention: DefaultReportRetention}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// SaveQualityReport appends a quality report.
func (s *ReportStore) SaveQualityReport(_ context.Context, r *domain.DataQualityReport) error {
	if r == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quality = appendBounded(s.quality, r, s.retention)
	return nil
}

// LatestQualityReport returns the last saved quality report.
func (s *ReportStore) LatestQualityReport(_ context.Context) (*domain.DataQualityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.quality) == 0 {
		return nil, storage.ErrNotFound
	}
	return s.quality[len(s.quality)-1], nil
}

// QualityReportHistory returns at most limit reports, newest first.
func (s *ReportStore) QualityReportHistory(_ context.Context, limit int) ([]*domain.DataQualityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.quality, limit), nil
}

// SaveDriftReport appends a drift report.
func (s *ReportStore) SaveDriftReport(_ context.Context, r *domain.DriftReport) error {
	if r == nil {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drift = appendBounded(s.drift, r, s.retention)
	return nil
}

// LatestDriftReport returns the last saved drift report.
func (s *ReportStore) LatestDriftReport(_ context.Context) (*domain.DriftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.drift) == 0 {
		return nil, storage.ErrNotFound
	}
	return s.drift[len(s.drift)-1], nil
}

// DriftReportHistory returns at most limit reports, newest first.
func (s *ReportStore) DriftReportHistory(_ context.Context, limit int) ([]*domain.DriftReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.drift, limit), nil
}

func appendBounded[T any](list []T, v T, keep int) []T {
	list = append(list, v)
	if keep > 0 && len(list) > keep {
		list = append([]T(nil), list[len(list)-keep:]...)
	}
	return list
}

func newestFirst[T any](list []T, limit int) []T {
	n := len(list)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, list[i])
	}
	return out
}
