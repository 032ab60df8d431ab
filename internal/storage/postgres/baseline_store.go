package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// BaselineStore implements storage.BaselineStore using PostgreSQL.
type BaselineStore struct {
	pool *Pool
}

// NewBaselineStore creates a new BaselineStore.
func NewBaselineStore(pool *Pool) *BaselineStore {
	return &BaselineStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BaselineStore = (*BaselineStore)(nil)

// LoadBaselines returns the baseline of every feature.
func (s *BaselineStore) LoadBaselines(ctx context.Context) (map[string]*domain.DistributionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT feature, snapshot FROM feature_baselines`)
	if err != nil {
		return nil, wrapError("load baselines", err)
	}
	defer rows.Close()

	out := make(map[string]*domain.DistributionSnapshot)
	for rows.Next() {
		var feature string
		var payload []byte
		if err := rows.Scan(&feature, &payload); err != nil {
			return nil, wrapError("scan baseline", err)
		}
		var snap domain.DistributionSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode baseline %s: %w", feature, err)
		}
		out[feature] = &snap
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate baselines", err)
	}
	return out, nil
}

// SaveBaselines replaces all baselines atomically.
func (s *BaselineStore) SaveBaselines(ctx context.Context, baselines map[string]*domain.DistributionSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM feature_baselines`); err != nil {
		return wrapError("clear baselines", err)
	}

	for feature, snap := range baselines {
		if snap == nil {
			return storage.ErrInvalidInput
		}
		payload, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode baseline %s: %w", feature, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO feature_baselines (feature, snapshot, computed_at)
			VALUES ($1, $2, $3)
		`, feature, payload, snap.ComputedAt)
		if err != nil {
			return wrapError("insert baseline", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapError("commit tx", err)
	}
	return nil
}

// AppendHistory appends a snapshot and trims the feature's history to the newest keep rows.
func (s *BaselineStore) AppendHistory(ctx context.Context, snap *domain.DistributionSnapshot, keep int) error {
	if snap == nil || snap.Feature == "" {
		return storage.ErrInvalidInput
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode distribution: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO feature_distribution_history (feature, snapshot, computed_at)
		VALUES ($1, $2, $3)
	`, snap.Feature, payload, snap.ComputedAt)
	if err != nil {
		return wrapError("insert distribution history", err)
	}

	if keep > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM feature_distribution_history
			WHERE feature = $1 AND id NOT IN (
				SELECT id FROM feature_distribution_history
				WHERE feature = $1
				ORDER BY id DESC
				LIMIT $2
			)
		`, snap.Feature, keep)
		if err != nil {
			return wrapError("trim distribution history", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapError("commit tx", err)
	}
	return nil
}

// LoadHistory returns the history of feature, oldest first.
func (s *BaselineStore) LoadHistory(ctx context.Context, feature string) ([]*domain.DistributionSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT snapshot FROM feature_distribution_history
		WHERE feature = $1
		ORDER BY id ASC
	`, feature)
	if err != nil {
		return nil, wrapError("load distribution history", err)
	}
	defer rows.Close()

	var out []*domain.DistributionSnapshot
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapError("scan distribution history", err)
		}
		var snap domain.DistributionSnapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode distribution history: %w", err)
		}
		out = append(out, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate distribution history", err)
	}
	return out, nil
}
