package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

func TestWatchListStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewWatchListStore(pool)
	ctx := context.Background()

	entry := &domain.WatchEntry{
		Mint:      "MintA",
		Symbol:    "AAA",
		Source:    "discovery",
		Tier:      domain.TierMedium,
		AddedAt:   baseTime,
		ExpiresAt: baseTime.Add(24 * time.Hour),
		IsActive:  true,
	}
	require.NoError(t, store.UpsertWatchEntry(ctx, entry))

	entry.Tier = domain.TierHigh
	entry.HasPrediction = true
	entry.PredictedOutcome = "pump"
	eventAt := baseTime.Add(30 * time.Second)
	entry.HasInterestingEvent = true
	entry.LastEventType = domain.EventPriceSpike
	entry.LastEventAt = &eventAt
	entry.LastEventMagnitude = 42.5
	require.NoError(t, store.UpsertWatchEntry(ctx, entry))

	require.NoError(t, store.UpsertWatchEntry(ctx, &domain.WatchEntry{
		Mint:      "MintB",
		Tier:      domain.TierLow,
		AddedAt:   baseTime.Add(-time.Hour),
		ExpiresAt: baseTime,
	}))

	require.NoError(t, store.MarkSnapshot(ctx, "MintA", baseTime.Add(time.Minute), 4))
	assert.ErrorIs(t, store.MarkSnapshot(ctx, "missing", baseTime, 1), storage.ErrNotFound)

	list, err := store.ListWatchEntries(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "MintB", list[0].Mint)
	assert.Equal(t, domain.TierHigh, list[1].Tier)
	assert.Equal(t, "pump", list[1].PredictedOutcome)
	assert.Equal(t, 4, list[1].SnapshotCount)
	assert.True(t, list[1].HasInterestingEvent)
	assert.Equal(t, domain.EventPriceSpike, list[1].LastEventType)
	assert.Equal(t, 42.5, list[1].LastEventMagnitude)
	require.NotNil(t, list[1].LastEventAt)
	assert.True(t, eventAt.Equal(*list[1].LastEventAt))
	assert.Nil(t, list[0].LastEventAt)
	require.NotNil(t, list[1].LastSnapshotAt)
	assert.True(t, list[1].LastSnapshotAt.Equal(baseTime.Add(time.Minute)))

	n, err := store.CleanupExpired(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.RemoveWatchEntry(ctx, "MintA"))
	list, err = store.ListWatchEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSnapshotStore_SaveLatestDelete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSnapshotStore(pool)
	ctx := context.Background()

	first := &domain.TokenSnapshot{
		Mint:           "MintA",
		RecordedAt:     baseTime,
		PriceUsd:       1.5,
		LiquidityUsd:   20000,
		Sources:        []string{"dexscreener", "gmgn"},
		FeatureVersion: domain.FeatureVersion,
		Normalized:     make([]float64, domain.FeatureCount),
	}
	require.NoError(t, store.SaveSnapshot(ctx, first))
	assert.ErrorIs(t, store.SaveSnapshot(ctx, first), storage.ErrDuplicateKey)

	second := *first
	second.RecordedAt = baseTime.Add(time.Minute)
	second.PriceUsd = 2.5
	require.NoError(t, store.SaveSnapshot(ctx, &second))

	latest, err := store.GetLatestSnapshot(ctx, "MintA")
	require.NoError(t, err)
	assert.Equal(t, 2.5, latest.PriceUsd)
	assert.Equal(t, []string{"dexscreener", "gmgn"}, latest.Sources)
	assert.Len(t, latest.Normalized, domain.FeatureCount)

	_, err = store.GetLatestSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := store.DeleteSnapshotsOlderThan(ctx, baseTime.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBaselineStore_ReplaceAndHistory(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBaselineStore(pool)
	ctx := context.Background()

	require.NoError(t, store.SaveBaselines(ctx, map[string]*domain.DistributionSnapshot{
		"a": {Feature: "a", Mean: 1, ComputedAt: baseTime},
		"b": {Feature: "b", Mean: 2, ComputedAt: baseTime},
	}))
	require.NoError(t, store.SaveBaselines(ctx, map[string]*domain.DistributionSnapshot{
		"a": {Feature: "a", Mean: 3, ComputedAt: baseTime, Histogram: []domain.HistogramBin{{Start: 0, Count: 4}}},
	}))

	got, err := store.LoadBaselines(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got["a"].Mean)
	assert.Equal(t, 4, got["a"].Histogram[0].Count)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendHistory(ctx, &domain.DistributionSnapshot{
			Feature: "a", Mean: float64(i), ComputedAt: baseTime.Add(time.Duration(i) * time.Hour),
		}, 3))
	}
	hist, err := store.LoadHistory(ctx, "a")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, 2.0, hist[0].Mean)
	assert.Equal(t, 4.0, hist[2].Mean)
}

func TestReportStore_LatestAndHistory(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewReportStore(pool)
	ctx := context.Background()

	_, err := store.LatestQualityReport(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveQualityReport(ctx, &domain.DataQualityReport{
			Status:       domain.ReportOK,
			GeneratedAt:  baseTime.Add(time.Duration(i) * time.Hour),
			OverallScore: float64(60 + i),
		}))
	}
	latest, err := store.LatestQualityReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 62.0, latest.OverallScore)
	assert.NotEmpty(t, latest.ID)

	hist, err := store.QualityReportHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 61.0, hist[1].OverallScore)

	require.NoError(t, store.SaveDriftReport(ctx, &domain.DriftReport{
		Status:      domain.ReportOK,
		GeneratedAt: baseTime,
		Urgency:     domain.SeverityHigh,
	}))
	drift, err := store.LatestDriftReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityHigh, drift.Urgency)
}
