package features

import (
	"strings"
	"time"

	"token-harvester/internal/domain"
)

// MergeDataSources merges provider views field by field. Sources are in
// precedence order: the first source reporting a field wins. Nil sources are
// ignored. Returns nil when every source is nil.
func MergeDataSources(sources ...*domain.RawPairData) *domain.RawPairData {
	var present []*domain.RawPairData
	for _, s := range sources {
		if s != nil {
			present = append(present, s)
		}
	}
	if len(present) == 0 {
		return nil
	}

	return &domain.RawPairData{
		Source:      joinSources(present),
		PairAddress: first(present, func(r *domain.RawPairData) *string { return r.PairAddress }),
		DexID:       first(present, func(r *domain.RawPairData) *string { return r.DexID }),
		Symbol:      first(present, func(r *domain.RawPairData) *string { return r.Symbol }),
		Name:        first(present, func(r *domain.RawPairData) *string { return r.Name }),

		PriceUsd:  first(present, func(r *domain.RawPairData) *float64 { return r.PriceUsd }),
		MarketCap: first(present, func(r *domain.RawPairData) *float64 { return r.MarketCap }),
		Fdv:       first(present, func(r *domain.RawPairData) *float64 { return r.Fdv }),

		Volume5m:  first(present, func(r *domain.RawPairData) *float64 { return r.Volume5m }),
		Volume1h:  first(present, func(r *domain.RawPairData) *float64 { return r.Volume1h }),
		Volume24h: first(present, func(r *domain.RawPairData) *float64 { return r.Volume24h }),

		LiquidityUsd:    first(present, func(r *domain.RawPairData) *float64 { return r.LiquidityUsd }),
		LpBurnedPercent: first(present, func(r *domain.RawPairData) *float64 { return r.LpBurnedPercent }),

		HolderCount:        first(present, func(r *domain.RawPairData) *int64 { return r.HolderCount }),
		Top10HolderPercent: first(present, func(r *domain.RawPairData) *float64 { return r.Top10HolderPercent }),

		MintRevoked:   first(present, func(r *domain.RawPairData) *bool { return r.MintRevoked }),
		FreezeRevoked: first(present, func(r *domain.RawPairData) *bool { return r.FreezeRevoked }),

		HasTwitter:  first(present, func(r *domain.RawPairData) *bool { return r.HasTwitter }),
		HasTelegram: first(present, func(r *domain.RawPairData) *bool { return r.HasTelegram }),
		HasWebsite:  first(present, func(r *domain.RawPairData) *bool { return r.HasWebsite }),

		PriceChange5m:  first(present, func(r *domain.RawPairData) *float64 { return r.PriceChange5m }),
		PriceChange1h:  first(present, func(r *domain.RawPairData) *float64 { return r.PriceChange1h }),
		PriceChange24h: first(present, func(r *domain.RawPairData) *float64 { return r.PriceChange24h }),

		Buys1h:  first(present, func(r *domain.RawPairData) *int64 { return r.Buys1h }),
		Sells1h: first(present, func(r *domain.RawPairData) *int64 { return r.Sells1h }),

		RiskScore:     first(present, func(r *domain.RawPairData) *float64 { return r.RiskScore }),
		PairCreatedAt: first(present, func(r *domain.RawPairData) *time.Time { return r.PairCreatedAt }),
	}
}

// first returns a copy of the first non-nil value of get over sources.
func first[T any](sources []*domain.RawPairData, get func(*domain.RawPairData) *T) *T {
	for _, s := range sources {
		if v := get(s); v != nil {
			cp := *v
			return &cp
		}
	}
	return nil
}

func joinSources(sources []*domain.RawPairData) string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		if s.Source != "" {
			names = append(names, s.Source)
		}
	}
	return strings.Join(names, ",")
}

// EstimateRiskScore is the fallback 0-100 risk heuristic used when no
// provider reports a risk score.
func EstimateRiskScore(r *domain.RawPairData) float64 {
	if r == nil {
		return 100
	}
	score := 0.0
	if !boolOr(r.MintRevoked, false) {
		score += 30
	}
	if !boolOr(r.FreezeRevoked, false) {
		score += 20
	}
	if floatOr(r.LpBurnedPercent, 0) < 50 {
		score += 20
	}
	if floatOr(r.Top10HolderPercent, 0) > 50 {
		score += 20
	}
	if !boolOr(r.HasTwitter, false) && !boolOr(r.HasTelegram, false) && !boolOr(r.HasWebsite, false) {
		score += 10
	}
	return score
}

// BuildSnapshot materializes merged provider data into a snapshot and
// derives its features. previous may be nil.
func BuildSnapshot(mint string, merged *domain.RawPairData, previous *domain.TokenSnapshot,
	smartMoney *domain.SmartMoneySignal, sentiment *domain.SentimentSignal, now time.Time) *domain.TokenSnapshot {
	if merged == nil {
		merged = &domain.RawPairData{}
	}

	s := &domain.TokenSnapshot{
		Mint:               mint,
		Symbol:             stringOr(merged.Symbol, ""),
		Name:               stringOr(merged.Name, ""),
		PairAddress:        stringOr(merged.PairAddress, ""),
		PriceUsd:           floatOr(merged.PriceUsd, 0),
		MarketCap:          floatOr(merged.MarketCap, 0),
		Fdv:                floatOr(merged.Fdv, 0),
		Volume5m:           floatOr(merged.Volume5m, 0),
		Volume1h:           floatOr(merged.Volume1h, 0),
		Volume24h:          floatOr(merged.Volume24h, 0),
		LiquidityUsd:       floatOr(merged.LiquidityUsd, 0),
		LpBurnedPercent:    floatOr(merged.LpBurnedPercent, 0),
		HolderCount:        intOr(merged.HolderCount, 0),
		Top10HolderPercent: floatOr(merged.Top10HolderPercent, 0),
		MintRevoked:        boolOr(merged.MintRevoked, false),
		FreezeRevoked:      boolOr(merged.FreezeRevoked, false),
		HasTwitter:         boolOr(merged.HasTwitter, false),
		HasTelegram:        boolOr(merged.HasTelegram, false),
		HasWebsite:         boolOr(merged.HasWebsite, false),
		PriceChange5m:      floatOr(merged.PriceChange5m, 0),
		PriceChange1h:      floatOr(merged.PriceChange1h, 0),
		PriceChange24h:     floatOr(merged.PriceChange24h, 0),
		Buys1h:             intOr(merged.Buys1h, 0),
		Sells1h:            intOr(merged.Sells1h, 0),
		SmartMoney:         smartMoney,
		Sentiment:          sentiment,
		RecordedAt:         now,
		FeatureVersion:     domain.FeatureVersion,
	}
	if merged.Source != "" {
		s.Sources = strings.Split(merged.Source, ",")
	}
	if merged.PairCreatedAt != nil {
		s.PairCreatedAt = *merged.PairCreatedAt
	}
	if merged.RiskScore != nil {
		s.RiskScore = *merged.RiskScore
	} else {
		s.RiskScore = EstimateRiskScore(merged)
		s.RiskScoreEstimated = true
	}

	s.Features = ExtractFeatures(s, previous, smartMoney, sentiment)
	s.Normalized = NormalizeFeatures(s.Features)
	return s
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int64, def int64) int64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
