package features

import (
	"math"

	"token-harvester/internal/domain"
)

type shape int

const (
	shapePass   shape = iota // already in [0,1]
	shapeLog                 // log10(v+1)/log10(max+1)
	shapeLinear              // v/max
	shapeSigned              // (clamp(v,-r,r)+r)/(2r)
)

type normRule struct {
	shape shape
	param float64 // max for log/linear, r for signed
}

// normRules is indexed like fields.
var normRules = [domain.FeatureCount]normRule{
	{shapeLog, 10_000_000}, // liquidity_usd
	{shapeLinear, 100},     // risk_score
	{shapeLog, 100_000},    // holder_count
	{shapeLinear, 100},     // top10_holder_percent
	{shapePass, 0},         // mint_revoked
	{shapePass, 0},         // freeze_revoked
	{shapeLinear, 100},     // lp_burned_percent
	{shapePass, 0},         // has_socials
	{shapeLinear, 720},     // token_age_hours

	{shapeSigned, 100}, // price_change_5m
	{shapeSigned, 200}, // price_change_1h
	{shapeSigned, 500}, // price_change_24h
	{shapeSigned, 500}, // volume_change_1h
	{shapeSigned, 500}, // volume_change_24h
	{shapePass, 0},     // buy_pressure_1h

	{shapeLinear, 50},     // smart_money_wallets
	{shapeSigned, 20},     // smart_money_net_buys
	{shapeLog, 1_000_000}, // smart_money_inflow_usd

	{shapeSigned, 50}, // price_velocity
	{shapeSigned, 10}, // volume_acceleration
	{shapeSigned, 1},  // liquidity_trend
	{shapeSigned, 1},  // holder_trend

	{shapePass, 0}, // is_volume_spike
	{shapePass, 0}, // is_pumping
	{shapePass, 0}, // is_dumping

	{shapeSigned, 1},   // sentiment_score
	{shapePass, 0},     // sentiment_confidence
	{shapeLog, 10_000}, // mention_count
}

// NormalizeFeatures maps v to 28 values in [0,1]. Non-finite inputs become 0
// before scaling and the result is always clamped, so NaN and Inf never leave
// this function.
func NormalizeFeatures(v domain.MLFeatureVector) []float64 {
	raw := FeaturesToArray(v)
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i] = normalize(x, normRules[i])
	}
	return out
}

func normalize(x float64, rule normRule) float64 {
	if !finite(x) {
		x = 0
	}

	var y float64
	switch rule.shape {
	case shapeLog:
		if x < 0 {
			x = 0
		}
		y = math.Log10(x+1) / math.Log10(rule.param+1)
	case shapeLinear:
		y = x / rule.param
	case shapeSigned:
		r := rule.param
		y = (math.Max(-r, math.Min(r, x)) + r) / (2 * r)
	default:
		y = x
	}
	return clamp01(y)
}

func clamp01(y float64) float64 {
	switch {
	case math.IsNaN(y):
		return 0
	case y < 0:
		return 0
	case y > 1:
		return 1
	default:
		return y
	}
}
