package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-harvester/internal/domain"
)

func ptr[T any](v T) *T { return &v }

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNames_CanonicalOrder(t *testing.T) {
	names := Names()
	require.Len(t, names, domain.FeatureCount)
	assert.Equal(t, LiquidityUsd, names[0])
	assert.Equal(t, TokenAgeHours, names[8])
	assert.Equal(t, PriceChange5m, names[9])
	assert.Equal(t, SmartMoneyWallets, names[15])
	assert.Equal(t, PriceVelocity, names[18])
	assert.Equal(t, IsVolumeSpike, names[22])
	assert.Equal(t, MentionCount, names[27])

	seen := map[string]bool{}
	for i, n := range names {
		assert.False(t, seen[n], "duplicate name %s", n)
		seen[n] = true
		assert.Equal(t, i, Index(n))
	}
	assert.Equal(t, -1, Index("nope"))
}

func TestMergeDataSources_Precedence(t *testing.T) {
	dex := &domain.RawPairData{
		Source:       "dexscreener",
		PriceUsd:     ptr(1.5),
		LiquidityUsd: ptr(20_000.0),
		Volume1h:     ptr(0.0),
	}
	gmgn := &domain.RawPairData{
		Source:       "gmgn",
		PriceUsd:     ptr(1.4),
		LiquidityUsd: ptr(19_000.0),
		Volume1h:     ptr(500.0),
		HolderCount:  ptr(int64(321)),
		MintRevoked:  ptr(true),
	}

	m := MergeDataSources(dex, gmgn)
	require.NotNil(t, m)
	assert.Equal(t, 1.5, *m.PriceUsd)
	assert.Equal(t, 20_000.0, *m.LiquidityUsd)
	assert.Equal(t, 0.0, *m.Volume1h, "present zero from the primary source still wins")
	assert.Equal(t, int64(321), *m.HolderCount)
	assert.True(t, *m.MintRevoked)
	assert.Nil(t, m.FreezeRevoked)
	assert.Equal(t, "dexscreener,gmgn", m.Source)

	// Merge copies values.
	*dex.PriceUsd = 99
	assert.Equal(t, 1.5, *m.PriceUsd)

	// Reversed precedence flips the winner.
	r := MergeDataSources(gmgn, dex)
	assert.Equal(t, 1.4, *r.PriceUsd)

	assert.Nil(t, MergeDataSources(nil, nil))
	assert.Equal(t, 1.4, *MergeDataSources(nil, gmgn).PriceUsd)
}

func TestExtractFeatures_Formulas(t *testing.T) {
	prev := &domain.TokenSnapshot{Volume1h: 1_000, LiquidityUsd: 40_000, HolderCount: 200}
	s := &domain.TokenSnapshot{
		LiquidityUsd:    50_000,
		HolderCount:     250,
		Volume1h:        1_500,
		Volume24h:       12_000, // avg hourly 500
		PriceChange5m:   12,
		PriceChange1h:   36,
		Buys1h:          30,
		Sells1h:         10,
		HasTelegram:     true,
		MintRevoked:     true,
		RiskScore:       40,
		PairCreatedAt:   now.Add(-48 * time.Hour),
		RecordedAt:      now,
		LpBurnedPercent: 80,
	}
	sm := &domain.SmartMoneySignal{Wallets: 3, NetBuys: 5, InflowUsd: 12_000}
	sent := &domain.SentimentSignal{Score: 0.4, Confidence: 0.8, Mentions: 120}

	v := ExtractFeatures(s, prev, sm, sent)

	assert.Equal(t, 50_000.0, v.LiquidityUsd)
	assert.Equal(t, 1.0, v.MintRevoked)
	assert.Equal(t, 0.0, v.FreezeRevoked)
	assert.Equal(t, 1.0, v.HasSocials)
	assert.InDelta(t, 48, v.TokenAgeHours, 1e-9)
	assert.InDelta(t, 50, v.VolumeChange1h, 1e-9)  // (1500-1000)/1000*100
	assert.InDelta(t, 200, v.VolumeChange24h, 1e-9) // (1500-500)/500*100
	assert.InDelta(t, 0.75, v.BuyPressure1h, 1e-9)
	assert.InDelta(t, 9, v.PriceVelocity, 1e-9)     // 12 - 36/12
	assert.InDelta(t, 2, v.VolumeAcceleration, 1e-9) // (1500-500)/500
	assert.InDelta(t, 0.25, v.LiquidityTrend, 1e-9)
	assert.InDelta(t, 0.25, v.HolderTrend, 1e-9)
	assert.Equal(t, 0.0, v.IsVolumeSpike) // 1500 < 5*500
	assert.Equal(t, 1.0, v.IsPumping)
	assert.Equal(t, 0.0, v.IsDumping)
	assert.Equal(t, 3.0, v.SmartMoneyWallets)
	assert.Equal(t, 5.0, v.SmartMoneyNetBuys)
	assert.Equal(t, 12_000.0, v.SmartMoneyInflowUsd)
	assert.Equal(t, 0.4, v.SentimentScore)
	assert.Equal(t, 120.0, v.MentionCount)
}

func TestExtractFeatures_Defaults(t *testing.T) {
	s := &domain.TokenSnapshot{Volume1h: 3_000, Volume24h: 2_400, PriceChange5m: -15, PriceChange1h: -40, RecordedAt: now}

	v := ExtractFeatures(s, nil, nil, nil)
	assert.Equal(t, 0.5, v.BuyPressure1h, "no trades defaults to neutral")
	assert.Equal(t, 0.0, v.VolumeChange1h, "no previous snapshot")
	assert.Equal(t, 0.0, v.LiquidityTrend)
	assert.Equal(t, 0.0, v.TokenAgeHours)
	assert.Equal(t, 1.0, v.IsVolumeSpike) // 3000 > 5*100
	assert.Equal(t, 1.0, v.IsDumping)
	assert.Equal(t, 0.0, v.SmartMoneyWallets)
}

func TestTrend(t *testing.T) {
	assert.Equal(t, 0.0, trend(10, 0))
	assert.Equal(t, -1.0, trend(0, 10))
	assert.InDelta(t, -0.5, trend(5, 10), 1e-12)
	assert.InDelta(t, 1.0, trend(20, 10), 1e-12)
}

func TestNormalizeFeatures_BoundedAndFinite(t *testing.T) {
	inputs := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -1e12, -1, 0, 0.5, 1, 1e3, 1e12}
	for _, x := range inputs {
		arr := make([]float64, domain.FeatureCount)
		for i := range arr {
			arr[i] = x
		}
		out := NormalizeFeatures(ArrayToFeatures(arr))
		require.Len(t, out, domain.FeatureCount)
		for i, y := range out {
			assert.False(t, math.IsNaN(y) || math.IsInf(y, 0), "feature %d input %v produced %v", i, x, y)
			assert.GreaterOrEqual(t, y, 0.0)
			assert.LessOrEqual(t, y, 1.0)
		}
	}
}

func TestNormalizeFeatures_Shapes(t *testing.T) {
	v := domain.MLFeatureVector{
		LiquidityUsd:   9_999_999,
		RiskScore:      50,
		PriceChange5m:  0,
		PriceChange1h:  400,
		LiquidityTrend: -0.5,
		BuyPressure1h:  0.3,
		HolderCount:    0,
	}
	out := NormalizeFeatures(v)
	assert.InDelta(t, 1.0, out[Index(LiquidityUsd)], 1e-6)
	assert.InDelta(t, 0.5, out[Index(RiskScore)], 1e-12)
	assert.InDelta(t, 0.5, out[Index(PriceChange5m)], 1e-12)
	assert.InDelta(t, 1.0, out[Index(PriceChange1h)], 1e-12) // clamped at r
	assert.InDelta(t, 0.25, out[Index(LiquidityTrend)], 1e-12)
	assert.InDelta(t, 0.3, out[Index(BuyPressure1h)], 1e-12)
	assert.Equal(t, 0.0, out[Index(HolderCount)])
}

func TestArrayRoundTrip(t *testing.T) {
	arr := make([]float64, domain.FeatureCount)
	for i := range arr {
		arr[i] = float64(i)*1.25 - 7
	}
	v := ArrayToFeatures(arr)
	assert.Equal(t, arr, FeaturesToArray(v))

	m := FeaturesToMap(v)
	assert.Equal(t, v, MapToFeatures(m))

	short := ArrayToFeatures([]float64{1, 2})
	assert.Equal(t, 1.0, short.LiquidityUsd)
	assert.Equal(t, 2.0, short.RiskScore)
	assert.Equal(t, 0.0, short.MentionCount)
}

func TestValidateFeatures(t *testing.T) {
	m := map[string]any{}
	for _, n := range Names() {
		m[n] = 1.0
	}
	res := ValidateFeatures(m)
	assert.True(t, res.Valid)
	assert.Zero(t, res.ProblemFraction())

	delete(m, LiquidityUsd)
	m[RiskScore] = nil
	m[HolderCount] = math.NaN()
	m[TokenAgeHours] = "old"
	m[MentionCount] = int64(3)

	res = ValidateFeatures(m)
	assert.False(t, res.Valid)
	assert.ElementsMatch(t, []string{LiquidityUsd, RiskScore}, res.Missing)
	assert.ElementsMatch(t, []string{HolderCount, TokenAgeHours}, res.Invalid)
	assert.Len(t, res.Issues, 4)
	assert.InDelta(t, 4.0/28.0, res.ProblemFraction(), 1e-12)
}

func TestEstimateRiskScore(t *testing.T) {
	assert.Equal(t, 100.0, EstimateRiskScore(&domain.RawPairData{Top10HolderPercent: ptr(80.0)}))
	safe := &domain.RawPairData{
		MintRevoked:        ptr(true),
		FreezeRevoked:      ptr(true),
		LpBurnedPercent:    ptr(100.0),
		Top10HolderPercent: ptr(20.0),
		HasTwitter:         ptr(true),
	}
	assert.Equal(t, 0.0, EstimateRiskScore(safe))
}

func TestBuildSnapshot(t *testing.T) {
	merged := MergeDataSources(&domain.RawPairData{
		Source:        "dexscreener",
		PriceUsd:      ptr(0.01),
		LiquidityUsd:  ptr(25_000.0),
		PairCreatedAt: ptr(now.Add(-10 * time.Hour)),
	})

	s := BuildSnapshot("mint1", merged, nil, nil, nil, now)
	assert.Equal(t, "mint1", s.Mint)
	assert.Equal(t, []string{"dexscreener"}, s.Sources)
	assert.True(t, s.RiskScoreEstimated)
	assert.Equal(t, domain.FeatureVersion, s.FeatureVersion)
	assert.InDelta(t, 10, s.Features.TokenAgeHours, 1e-9)
	assert.Len(t, s.Normalized, domain.FeatureCount)

	gate := ValidateFeatures(GateMap(s.Features, merged))
	assert.Contains(t, gate.Missing, HolderCount)
	assert.NotContains(t, gate.Missing, LiquidityUsd)
	assert.NotContains(t, gate.Missing, SentimentScore)

	row := TrainingRow(s, merged)
	assert.True(t, math.IsNaN(row.Features[Index(HolderCount)]))
	assert.Equal(t, 25_000.0, row.Features[Index(LiquidityUsd)])
	assert.Empty(t, row.Outcome)
}
