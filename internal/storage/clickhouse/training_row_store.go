package clickhouse

import (
	"context"
	"fmt"
	"time"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// TrainingRowStore implements storage.TrainingRowBatchStore using ClickHouse.
type TrainingRowStore struct {
	conn *Conn
}

// NewTrainingRowStore creates a new TrainingRowStore.
func NewTrainingRowStore(conn *Conn) *TrainingRowStore {
	return &TrainingRowStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TrainingRowBatchStore = (*TrainingRowStore)(nil)

// SaveTrainingRow adds a single row. Returns ErrDuplicateKey if (mint, recorded_at) exists.
func (s *TrainingRowStore) SaveTrainingRow(ctx context.Context, r *domain.FeatureRow) error {
	return s.SaveTrainingRows(ctx, []*domain.FeatureRow{r})
}

// SaveTrainingRows adds rows in one batch. Fails the entire batch on duplicate.
func (s *TrainingRowStore) SaveTrainingRows(ctx context.Context, rows []*domain.FeatureRow) error {
	if len(rows) == 0 {
		return nil
	}

	type key struct {
		mint string
		ms   int64
	}
	seen := make(map[key]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.Mint == "" || len(r.Features) != domain.FeatureCount {
			return storage.ErrInvalidInput
		}
		k := key{r.Mint, r.RecordedAt.UnixMilli()}
		if _, dup := seen[k]; dup {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, r := range rows {
		exists, err := s.exists(ctx, r.Mint, r.RecordedAt)
		if err != nil {
			return err
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO training_rows (mint, recorded_at, feature_version, features, normalized, outcome)
	`)
	if err != nil {
		return wrapError("prepare batch", err)
	}

	for _, r := range rows {
		normalized := r.Normalized
		if normalized == nil {
			normalized = []float64{}
		}
		err = batch.Append(
			r.Mint,
			r.RecordedAt.UTC(),
			r.FeatureVersion,
			r.Features,
			normalized,
			r.Outcome,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return wrapError("send batch", err)
	}
	return nil
}

// LoadRecentFeatureRows returns at most limit rows, newest first.
func (s *TrainingRowStore) LoadRecentFeatureRows(ctx context.Context, limit int, since time.Time) ([]*domain.FeatureRow, error) {
	query := `
		SELECT mint, recorded_at, feature_version, features, normalized, outcome
		FROM training_rows FINAL
		WHERE recorded_at >= ?
		ORDER BY recorded_at DESC, mint ASC
	`
	args := []any{since.UTC()}
	if since.IsZero() {
		args[0] = time.Unix(0, 0).UTC()
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("query recent training rows", err)
	}
	defer rows.Close()

	return scanTrainingRows(rows)
}

// CountOutcomes returns the number of labeled rows per outcome.
func (s *TrainingRowStore) CountOutcomes(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT outcome, count() FROM training_rows FINAL
		WHERE outcome != ''
		GROUP BY outcome
	`)
	if err != nil {
		return nil, wrapError("count outcomes", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n uint64
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		counts[outcome] = int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	return counts, nil
}

func (s *TrainingRowStore) exists(ctx context.Context, mint string, at time.Time) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM training_rows
		WHERE mint = ? AND recorded_at = ?
	`, mint, at.UTC()).Scan(&count)
	if err != nil {
		return false, wrapError("check exists", err)
	}
	return count > 0, nil
}

func scanTrainingRows(rows chRows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow
	for rows.Next() {
		var r domain.FeatureRow
		if err := rows.Scan(&r.Mint, &r.RecordedAt, &r.FeatureVersion, &r.Features, &r.Normalized, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan training row: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate training rows: %w", err)
	}
	return result, nil
}
