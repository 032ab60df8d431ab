package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// WatchListStore implements storage.WatchListStore using PostgreSQL.
type WatchListStore struct {
	pool *Pool
}

// NewWatchListStore creates a new WatchListStore.
func NewWatchListStore(pool *Pool) *WatchListStore {
	return &WatchListStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatchListStore = (*WatchListStore)(nil)

const watchListColumns = `mint, symbol, source, tier, snapshot_count, has_prediction, predicted_outcome,
	is_high_potential, liquidity_usd, added_at, expires_at, last_snapshot_at, is_active,
	has_interesting_event, last_event_type, last_event_at, last_event_magnitude`

// UpsertWatchEntry inserts or replaces the entry of e.Mint.
func (s *WatchListStore) UpsertWatchEntry(ctx context.Context, e *domain.WatchEntry) error {
	if e == nil || e.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO watch_list (` + watchListColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (mint) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			source = EXCLUDED.source,
			tier = EXCLUDED.tier,
			snapshot_count = EXCLUDED.snapshot_count,
			has_prediction = EXCLUDED.has_prediction,
			predicted_outcome = EXCLUDED.predicted_outcome,
			is_high_potential = EXCLUDED.is_high_potential,
			liquidity_usd = EXCLUDED.liquidity_usd,
			added_at = EXCLUDED.added_at,
			expires_at = EXCLUDED.expires_at,
			last_snapshot_at = EXCLUDED.last_snapshot_at,
			is_active = EXCLUDED.is_active,
			has_interesting_event = EXCLUDED.has_interesting_event,
			last_event_type = EXCLUDED.last_event_type,
			last_event_at = EXCLUDED.last_event_at,
			last_event_magnitude = EXCLUDED.last_event_magnitude,
			updated_at = NOW()
	`

	_, err := s.pool.Exec(ctx, query,
		e.Mint,
		e.Symbol,
		e.Source,
		string(e.Tier),
		e.SnapshotCount,
		e.HasPrediction,
		e.PredictedOutcome,
		e.IsHighPotential,
		e.LiquidityUsd,
		e.AddedAt,
		e.ExpiresAt,
		e.LastSnapshotAt,
		e.IsActive,
		e.HasInterestingEvent,
		string(e.LastEventType),
		e.LastEventAt,
		e.LastEventMagnitude,
	)
	return wrapError("upsert watch entry", err)
}

// RemoveWatchEntry deletes the entry of mint.
func (s *WatchListStore) RemoveWatchEntry(ctx context.Context, mint string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM watch_list WHERE mint = $1`, mint)
	return wrapError("remove watch entry", err)
}

// MarkSnapshot records a taken snapshot. Returns ErrNotFound if mint is not watched.
func (s *WatchListStore) MarkSnapshot(ctx context.Context, mint string, at time.Time, snapshotCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE watch_list
		SET last_snapshot_at = $2, snapshot_count = $3, updated_at = NOW()
		WHERE mint = $1
	`, mint, at, snapshotCount)
	if err != nil {
		return wrapError("mark snapshot", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListWatchEntries returns every entry ordered by added_at ASC, mint ASC.
func (s *WatchListStore) ListWatchEntries(ctx context.Context) ([]*domain.WatchEntry, error) {
	query := `SELECT ` + watchListColumns + ` FROM watch_list ORDER BY added_at ASC, mint ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapError("list watch entries", err)
	}
	defer rows.Close()

	var result []*domain.WatchEntry
	for rows.Next() {
		e, err := scanWatchEntry(rows)
		if err != nil {
			return nil, wrapError("scan watch entry", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate watch entries", err)
	}
	return result, nil
}

// CleanupExpired deletes entries with expires_at <= now.
func (s *WatchListStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM watch_list WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, wrapError("cleanup expired watch entries", err)
	}
	return tag.RowsAffected(), nil
}

func scanWatchEntry(row pgx.Row) (*domain.WatchEntry, error) {
	var e domain.WatchEntry
	var tier, eventType string
	err := row.Scan(
		&e.Mint,
		&e.Symbol,
		&e.Source,
		&tier,
		&e.SnapshotCount,
		&e.HasPrediction,
		&e.PredictedOutcome,
		&e.IsHighPotential,
		&e.LiquidityUsd,
		&e.AddedAt,
		&e.ExpiresAt,
		&e.LastSnapshotAt,
		&e.IsActive,
		&e.HasInterestingEvent,
		&eventType,
		&e.LastEventAt,
		&e.LastEventMagnitude,
	)
	if err != nil {
		return nil, err
	}
	e.Tier = domain.SamplingTier(tier)
	e.LastEventType = domain.EventType(eventType)
	return &e, nil
}
