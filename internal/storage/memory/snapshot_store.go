package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.TokenSnapshot // keyed by (mint, recorded_at)
	latest map[string]*domain.TokenSnapshot // keyed by mint
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data:   make(map[string]*domain.TokenSnapshot),
		latest: make(map[string]*domain.TokenSnapshot),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// recordKey generates the natural key of a per-token record.
func recordKey(mint string, at time.Time) string {
	return fmt.Sprintf("%s|%d", mint, at.UnixMilli())
}

// SaveSnapshot appends a snapshot. Returns ErrDuplicateKey if (mint, recorded_at) exists.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap *domain.TokenSnapshot) error {
	if snap == nil || snap.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(snap.Mint, snap.RecordedAt)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	cp := copySnapshot(snap)
	s.data[key] = cp
	if cur, ok := s.latest[snap.Mint]; !ok || cp.RecordedAt.After(cur.RecordedAt) {
		s.latest[snap.Mint] = cp
	}
	return nil
}

// GetLatestSnapshot returns the most recent snapshot of mint. Returns ErrNotFound if none.
func (s *SnapshotStore) GetLatestSnapshot(_ context.Context, mint string) (*domain.TokenSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.latest[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(snap), nil
}

// DeleteSnapshotsOlderThan removes snapshots recorded before cutoff.
func (s *SnapshotStore) DeleteSnapshotsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, snap := range s.data {
		if snap.RecordedAt.Before(cutoff) {
			delete(s.data, key)
			deleted++
		}
	}
	for mint, snap := range s.latest {
		if snap.RecordedAt.Before(cutoff) {
			delete(s.latest, mint)
		}
	}
	return deleted, nil
}

// Count returns the number of stored snapshots.
func (s *SnapshotStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// All returns every stored snapshot of mint, unordered.
func (s *SnapshotStore) All(mint string) []*domain.TokenSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.TokenSnapshot
	for _, snap := range s.data {
		if snap.Mint == mint {
			out = append(out, copySnapshot(snap))
		}
	}
	return out
}

func copySnapshot(in *domain.TokenSnapshot) *domain.TokenSnapshot {
	cp := *in
	cp.Sources = append([]string(nil), in.Sources...)
	cp.Normalized = append([]float64(nil), in.Normalized...)
	if in.SmartMoney != nil {
		sm := *in.SmartMoney
		cp.SmartMoney = &sm
	}
	if in.Sentiment != nil {
		se := *in.Sentiment
		cp.Sentiment = &se
	}
	return &cp
}
