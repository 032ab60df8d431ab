package clickhouse

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-harvester/internal/domain"
	"token-harvester/internal/storage"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testRow(mint string, at time.Time, outcome string) *domain.FeatureRow {
	features := make([]float64, domain.FeatureCount)
	for i := range features {
		features[i] = float64(i)
	}
	features[3] = math.NaN()
	return &domain.FeatureRow{
		Mint:           mint,
		RecordedAt:     at,
		FeatureVersion: domain.FeatureVersion,
		Features:       features,
		Normalized:     make([]float64, domain.FeatureCount),
		Outcome:        outcome,
	}
}

func TestTrainingRowStore_SaveAndLoad(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTrainingRowStore(conn)
	ctx := context.Background()

	require.NoError(t, store.SaveTrainingRows(ctx, []*domain.FeatureRow{
		testRow("a", baseTime, ""),
		testRow("b", baseTime.Add(time.Minute), "pump"),
	}))
	require.NoError(t, store.SaveTrainingRow(ctx, testRow("c", baseTime.Add(2*time.Minute), "pump")))

	assert.ErrorIs(t, store.SaveTrainingRow(ctx, testRow("a", baseTime, "")), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.SaveTrainingRows(ctx, []*domain.FeatureRow{
		testRow("z", baseTime, ""), testRow("z", baseTime, ""),
	}), storage.ErrDuplicateKey)
	assert.ErrorIs(t, store.SaveTrainingRow(ctx, &domain.FeatureRow{Mint: "x"}), storage.ErrInvalidInput)

	rows, err := store.LoadRecentFeatureRows(ctx, 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].Mint)
	assert.Equal(t, "b", rows[1].Mint)
	assert.True(t, math.IsNaN(rows[0].Features[3]))
	assert.Equal(t, 5.0, rows[0].Features[5])

	rows, err = store.LoadRecentFeatureRows(ctx, 0, baseTime.Add(30*time.Second))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	counts, err := store.CountOutcomes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pump": 2}, counts)
}
