package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// WatchListStore is an in-memory implementation of storage.WatchListStore.
type WatchListStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WatchEntry // keyed by mint
}

// NewWatchListStore creates a new in-memory watch list store.
func NewWatchListStore() *WatchListStore {
	return &WatchListStore{data: make(map[string]*domain.WatchEntry)}
}

// Compile-time interface check.
var _ storage.WatchListStore = (*WatchListStore)(nil)

// UpsertWatchEntry inserts or replaces the entry of e.Mint.
func (s *WatchListStore) UpsertWatchEntry(_ context.Context, e *domain.WatchEntry) error {
	if e == nil || e.Mint == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[e.Mint] = copyEntry(e)
	return nil
}

// RemoveWatchEntry deletes the entry of mint.
func (s *WatchListStore) RemoveWatchEntry(_ context.Context, mint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, mint)
	return nil
}

// MarkSnapshot records a taken snapshot. Returns ErrNotFound if mint is not watched.
func (s *WatchListStore) MarkSnapshot(_ context.Context, mint string, at time.Time, snapshotCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[mint]
	if !ok {
		return storage.ErrNotFound
	}
	ts := at
	e.LastSnapshotAt = &ts
	e.SnapshotCount = snapshotCount
	return nil
}

// ListWatchEntries returns every entry ordered by added_at ASC, mint ASC.
func (s *WatchListStore) ListWatchEntries(_ context.Context) ([]*domain.WatchEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.WatchEntry, 0, len(s.data))
	for _, e := range s.data {
		result = append(result, copyEntry(e))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].AddedAt.Equal(result[j].AddedAt) {
			return result[i].AddedAt.Before(result[j].AddedAt)
		}
		return result[i].Mint < result[j].Mint
	})
	return result, nil
}

// CleanupExpired deletes entries with expires_at <= now.
func (s *WatchListStore) CleanupExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for mint, e := range s.data {
		if !e.ExpiresAt.After(now) {
			delete(s.data, mint)
			deleted++
		}
	}
	return deleted, nil
}

// Get returns the entry of mint, or nil.
func (s *WatchListStore) Get(mint string) *domain.WatchEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.data[mint]; ok {
		return copyEntry(e)
	}
	return nil
}

func copyEntry(in *domain.WatchEntry) *domain.WatchEntry {
	cp := *in
	if in.LastSnapshotAt != nil {
		ts := *in.LastSnapshotAt
		cp.LastSnapshotAt = &ts
	}
	if in.LastEventAt != nil {
		ts := *in.LastEventAt
		cp.LastEventAt = &ts
	}
	return &cp
}
