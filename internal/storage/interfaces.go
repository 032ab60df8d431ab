package storage

import (
	"context"
	"time"

	"token-harvester/internal/domain"
)

// SnapshotStore provides access to token_snapshots storage.
type SnapshotStore interface {
	// SaveSnapshot appends a snapshot. Returns ErrDuplicateKey if (mint, recorded_at) exists.
	SaveSnapshot(ctx context.Context, s *domain.TokenSnapshot) error

	// GetLatestSnapshot returns the most recent snapshot of mint. Returns ErrNotFound if none.
	GetLatestSnapshot(ctx context.Context, mint string) (*domain.TokenSnapshot, error)

	// DeleteSnapshotsOlderThan removes snapshots recorded before cutoff.
	DeleteSnapshotsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TrainingRowStore provides access to training feature rows.
type TrainingRowStore interface {
	// SaveTrainingRow appends a row. Returns ErrDuplicateKey if (mint, recorded_at) exists.
	SaveTrainingRow(ctx context.Context, r *domain.FeatureRow) error

	// LoadRecentFeatureRows returns at most limit rows, newest first.
	// A zero since means no lower time bound.
	LoadRecentFeatureRows(ctx context.Context, limit int, since time.Time) ([]*domain.FeatureRow, error)

	// CountOutcomes returns the number of labeled rows per outcome.
	CountOutcomes(ctx context.Context) (map[string]int, error)
}

// WatchListStore provides access to the persistent watch list.
type WatchListStore interface {
	// UpsertWatchEntry inserts or replaces the entry of e.Mint.
	UpsertWatchEntry(ctx context.Context, e *domain.WatchEntry) error

	// RemoveWatchEntry deletes the entry of mint. Missing entries are not an error.
	RemoveWatchEntry(ctx context.Context, mint string) error

	// MarkSnapshot records a taken snapshot. Returns ErrNotFound if mint is not watched.
	MarkSnapshot(ctx context.Context, mint string, at time.Time, snapshotCount int) error

	// ListWatchEntries returns every entry ordered by added_at ASC, mint ASC.
	ListWatchEntries(ctx context.Context) ([]*domain.WatchEntry, error)

	// CleanupExpired deletes entries with expires_at <= now.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// BaselineStore provides access to per-feature distribution baselines and history.
type BaselineStore interface {
	// LoadBaselines returns the baseline of every feature, keyed by feature name.
	LoadBaselines(ctx context.Context) (map[string]*domain.DistributionSnapshot, error)

	// SaveBaselines replaces all baselines.
	SaveBaselines(ctx context.Context, baselines map[string]*domain.DistributionSnapshot) error

	// AppendHistory appends a snapshot to its feature's history, keeping the newest keep entries.
	AppendHistory(ctx context.Context, snap *domain.DistributionSnapshot, keep int) error

	// LoadHistory returns the history of feature, oldest first.
	LoadHistory(ctx context.Context, feature string) ([]*domain.DistributionSnapshot, error)
}

// ReportStore keeps the last computed quality and drift reports plus bounded history.
type ReportStore interface {
	SaveQualityReport(ctx context.Context, r *domain.DataQualityReport) error
	// LatestQualityReport returns ErrNotFound before the first report.
	LatestQualityReport(ctx context.Context) (*domain.DataQualityReport, error)
	// QualityReportHistory returns at most limit reports, newest first.
	QualityReportHistory(ctx context.Context, limit int) ([]*domain.DataQualityReport, error)

	SaveDriftReport(ctx context.Context, r *domain.DriftReport) error
	// LatestDriftReport returns ErrNotFound before the first report.
	LatestDriftReport(ctx context.Context) (*domain.DriftReport, error)
	// DriftReportHistory returns at most limit reports, newest first.
	DriftReportHistory(ctx context.Context, limit int) ([]*domain.DriftReport, error)
}

// TrainingRowBatchStore is implemented by training row stores that can write
// several rows in one round trip.
type TrainingRowBatchStore interface {
	TrainingRowStore

	// SaveTrainingRows writes rows atomically. Returns ErrDuplicateKey if any
	// (mint, recorded_at) already exists or repeats within rows.
	SaveTrainingRows(ctx context.Context, rows []*domain.FeatureRow) error
}
