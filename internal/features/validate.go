package features

import (
	"fmt"
	"math"
	"time"

	"token-harvester/internal/domain"
)

// ValidationResult itemizes missing and type-invalid features.
type ValidationResult struct {
	Valid   bool
	Missing []string
	Invalid []string
	Issues  []string
}

// ProblemFraction is the share of the 28 features that are missing or invalid.
func (r ValidationResult) ProblemFraction() float64 {
	return float64(len(r.Missing)+len(r.Invalid)) / float64(domain.FeatureCount)
}

// ValidateFeatures checks a name-keyed feature map. A nil or absent value is
// missing; a non-numeric, NaN or infinite value is invalid.
func ValidateFeatures(m map[string]any) ValidationResult {
	var res ValidationResult
	for _, f := range fields {
		raw, ok := m[f.name]
		if !ok || raw == nil {
			res.Missing = append(res.Missing, f.name)
			res.Issues = append(res.Issues, fmt.Sprintf("%s: missing", f.name))
			continue
		}
		x, ok := toFloat(raw)
		if !ok {
			res.Invalid = append(res.Invalid, f.name)
			res.Issues = append(res.Issues, fmt.Sprintf("%s: not a number (%T)", f.name, raw))
			continue
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			res.Invalid = append(res.Invalid, f.name)
			res.Issues = append(res.Issues, fmt.Sprintf("%s: non-finite value %v", f.name, x))
		}
	}
	res.Valid = len(res.Missing) == 0 && len(res.Invalid) == 0
	return res
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// inputPresence reports, per feature, whether the providers supplied the
// inputs it is derived from. Smart-money and sentiment features are optional
// enrichments and count as present; risk score always has a fallback.
func inputPresence(merged *domain.RawPairData) map[string]bool {
	if merged == nil {
		merged = &domain.RawPairData{}
	}
	prices := merged.PriceChange5m != nil && merged.PriceChange1h != nil
	vols := merged.Volume1h != nil && merged.Volume24h != nil
	return map[string]bool{
		LiquidityUsd:       merged.LiquidityUsd != nil,
		HolderCount:        merged.HolderCount != nil,
		Top10HolderPercent: merged.Top10HolderPercent != nil,
		MintRevoked:        merged.MintRevoked != nil,
		FreezeRevoked:      merged.FreezeRevoked != nil,
		LpBurnedPercent:    merged.LpBurnedPercent != nil,
		TokenAgeHours:      merged.PairCreatedAt != nil,
		PriceChange5m:      merged.PriceChange5m != nil,
		PriceChange1h:      merged.PriceChange1h != nil,
		PriceChange24h:     merged.PriceChange24h != nil,
		VolumeChange1h:     merged.Volume1h != nil,
		VolumeChange24h:    vols,
		BuyPressure1h:      merged.Buys1h != nil || merged.Sells1h != nil,
		PriceVelocity:      prices,
		VolumeAcceleration: vols,
		IsVolumeSpike:      vols,
		IsPumping:          prices,
		IsDumping:          prices,
	}
}

// GateMap builds the map the quality gate validates: each feature's value,
// or nil when the providers did not supply its inputs.
func GateMap(v domain.MLFeatureVector, merged *domain.RawPairData) map[string]any {
	presence := inputPresence(merged)
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if present, tracked := presence[f.name]; tracked && !present {
			out[f.name] = nil
			continue
		}
		out[f.name] = *f.ref(&v)
	}
	return out
}

// TrainingRow converts a snapshot into a training row with an empty outcome.
// Features whose inputs were not supplied are stored as NaN.
func TrainingRow(s *domain.TokenSnapshot, merged *domain.RawPairData) *domain.FeatureRow {
	raw := FeaturesToArray(s.Features)
	presence := inputPresence(merged)
	for i, f := range fields {
		if present, tracked := presence[f.name]; tracked && !present {
			raw[i] = math.NaN()
		}
	}
	norm := s.Normalized
	if len(norm) != domain.FeatureCount {
		norm = NormalizeFeatures(s.Features)
	}
	return &domain.FeatureRow{
		Mint:           s.Mint,
		RecordedAt:     s.RecordedAt.Truncate(time.Millisecond),
		FeatureVersion: s.FeatureVersion,
		Features:       raw,
		Normalized:     append([]float64(nil), norm...),
	}
}
