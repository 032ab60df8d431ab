package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

// ReportStore implements storage.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *Pool
}

// NewReportStore creates a new ReportStore.
func NewReportStore(pool *Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ReportStore = (*ReportStore)(nil)

// SaveQualityReport inserts r, assigning an ID when it has none.
func (s *ReportStore) SaveQualityReport(ctx context.Context, r *domain.DataQualityReport) error {
	if r == nil {
		return storage.ErrInvalidInput
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode quality report: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO quality_reports (id, generated_at, status, overall_score, report)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.GeneratedAt, string(r.Status), r.OverallScore, payload)
	return wrapError("insert quality report", err)
}

// LatestQualityReport returns the newest quality report.
func (s *ReportStore) LatestQualityReport(ctx context.Context) (*domain.DataQualityReport, error) {
	list, err := s.QualityReportHistory(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	return list[0], nil
}

// QualityReportHistory returns at most limit reports, newest first.
func (s *ReportStore) QualityReportHistory(ctx context.Context, limit int) ([]*domain.DataQualityReport, error) {
	return loadReports[domain.DataQualityReport](ctx, s.pool, "quality_reports", limit)
}

// SaveDriftReport inserts r, assigning an ID when it has none.
func (s *ReportStore) SaveDriftReport(ctx context.Context, r *domain.DriftReport) error {
	if r == nil {
		return storage.ErrInvalidInput
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode drift report: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO drift_reports (id, generated_at, status, urgency, report)
		VALUES ($1, $2, $3, $4, $5)
	`, r.ID, r.GeneratedAt, string(r.Status), string(r.Urgency), payload)
	return wrapError("insert drift report", err)
}

// LatestDriftReport returns the newest drift report.
func (s *ReportStore) LatestDriftReport(ctx context.Context) (*domain.DriftReport, error) {
	list, err := s.DriftReportHistory(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	return list[0], nil
}

// DriftReportHistory returns at most limit reports, newest first.
func (s *ReportStore) DriftReportHistory(ctx context.Context, limit int) ([]*domain.DriftReport, error) {
	return loadReports[domain.DriftReport](ctx, s.pool, "drift_reports", limit)
}

// loadReports decodes the report column of table, newest first. A
// non-positive limit returns every row.
func loadReports[T any](ctx context.Context, pool *Pool, table string, limit int) ([]*T, error) {
	query := fmt.Sprintf(`SELECT report FROM %s ORDER BY generated_at DESC, id DESC`, table)
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError("load "+table, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, wrapError("scan "+table, err)
		}
		v := new(T)
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate "+table, err)
	}
	return out, nil
}
