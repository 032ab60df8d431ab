package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
// The full snapshot is kept as JSONB; headline columns are duplicated for ad-hoc queries.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// SaveSnapshot appends a snapshot. Returns ErrDuplicateKey if (mint, recorded_at) exists.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *domain.TokenSnapshot) error {
	if snap == nil || snap.Mint == "" || snap.RecordedAt.IsZero() {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	sources := snap.Sources
	if sources == nil {
		sources = []string{}
	}

	query := `
		INSERT INTO token_snapshots (
			mint, recorded_at, price_usd, liquidity_usd, volume_1h, volume_24h,
			holder_count, risk_score, sources, feature_version, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.pool.Exec(ctx, query,
		snap.Mint,
		snap.RecordedAt,
		snap.PriceUsd,
		snap.LiquidityUsd,
		snap.Volume1h,
		snap.Volume24h,
		snap.HolderCount,
		snap.RiskScoreEstimated,
		sources,
		snap.FeatureVersion,
		payload,
	)
	return wrapError("insert snapshot", err)
}

// GetLatestSnapshot returns the most recent snapshot of mint. Returns ErrNotFound if none.
func (s *SnapshotStore) GetLatestSnapshot(ctx context.Context, mint string) (*domain.TokenSnapshot, error) {
	query := `
		SELECT payload
		FROM token_snapshots
		WHERE mint = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	var payload []byte
	if err := s.pool.QueryRow(ctx, query, mint).Scan(&payload); err != nil {
		return nil, wrapError("get latest snapshot", err)
	}

	var snap domain.TokenSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshotsOlderThan removes snapshots recorded before cutoff.
func (s *SnapshotStore) DeleteSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM token_snapshots WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, wrapError("delete old snapshots", err)
	}
	return tag.RowsAffected(), nil
}
