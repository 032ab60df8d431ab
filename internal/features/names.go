// Package features derives the versioned 28-field feature vector from merged
// provider data and normalizes it to [0,1]. Everything here is pure.
package features

import "token-harvester/internal/domain"

// Canonical feature names. Order is the array contract of domain.FeatureVersion.
const (
	LiquidityUsd       = "liquidity_usd"
	RiskScore          = "risk_score"
	HolderCount        = "holder_count"
	Top10HolderPercent = "top10_holder_percent"
	MintRevoked        = "mint_revoked"
	FreezeRevoked      = "freeze_revoked"
	LpBurnedPercent    = "lp_burned_percent"
	HasSocials         = "has_socials"
	TokenAgeHours      = "token_age_hours"

	PriceChange5m   = "price_change_5m"
	PriceChange1h   = "price_change_1h"
	PriceChange24h  = "price_change_24h"
	VolumeChange1h  = "volume_change_1h"
	VolumeChange24h = "volume_change_24h"
	BuyPressure1h   = "buy_pressure_1h"

	SmartMoneyWallets   = "smart_money_wallets"
	SmartMoneyNetBuys   = "smart_money_net_buys"
	SmartMoneyInflowUsd = "smart_money_inflow_usd"

	PriceVelocity      = "price_velocity"
	VolumeAcceleration = "volume_acceleration"
	LiquidityTrend     = "liquidity_trend"
	HolderTrend        = "holder_trend"

	IsVolumeSpike = "is_volume_spike"
	IsPumping     = "is_pumping"
	IsDumping     = "is_dumping"

	SentimentScore      = "sentiment_score"
	SentimentConfidence = "sentiment_confidence"
	MentionCount        = "mention_count"
)

// field binds a canonical name to its slot in MLFeatureVector.
type field struct {
	name string
	ref  func(v *domain.MLFeatureVector) *float64
}

var fields = [domain.FeatureCount]field{
	{LiquidityUsd, func(v *domain.MLFeatureVector) *float64 { return &v.LiquidityUsd }},
	{RiskScore, func(v *domain.MLFeatureVector) *float64 { return &v.RiskScore }},
	{HolderCount, func(v *domain.MLFeatureVector) *float64 { return &v.HolderCount }},
	{Top10HolderPercent, func(v *domain.MLFeatureVector) *float64 { return &v.Top10HolderPercent }},
	{MintRevoked, func(v *domain.MLFeatureVector) *float64 { return &v.MintRevoked }},
	{FreezeRevoked, func(v *domain.MLFeatureVector) *float64 { return &v.FreezeRevoked }},
	{LpBurnedPercent, func(v *domain.MLFeatureVector) *float64 { return &v.LpBurnedPercent }},
	{HasSocials, func(v *domain.MLFeatureVector) *float64 { return &v.HasSocials }},
	{TokenAgeHours, func(v *domain.MLFeatureVector) *float64 { return &v.TokenAgeHours }},

	{PriceChange5m, func(v *domain.MLFeatureVector) *float64 { return &v.PriceChange5m }},
	{PriceChange1h, func(v *domain.MLFeatureVector) *float64 { return &v.PriceChange1h }},
	{PriceChange24h, func(v *domain.MLFeatureVector) *float64 { return &v.PriceChange24h }},
	{VolumeChange1h, func(v *domain.MLFeatureVector) *float64 { return &v.VolumeChange1h }},
	{VolumeChange24h, func(v *domain.MLFeatureVector) *float64 { return &v.VolumeChange24h }},
	{BuyPressure1h, func(v *domain.MLFeatureVector) *float64 { return &v.BuyPressure1h }},

	{SmartMoneyWallets, func(v *domain.MLFeatureVector) *float64 { return &v.SmartMoneyWallets }},
	{SmartMoneyNetBuys, func(v *domain.MLFeatureVector) *float64 { return &v.SmartMoneyNetBuys }},
	{SmartMoneyInflowUsd, func(v *domain.MLFeatureVector) *float64 { return &v.SmartMoneyInflowUsd }},

	{PriceVelocity, func(v *domain.MLFeatureVector) *float64 { return &v.PriceVelocity }},
	{VolumeAcceleration, func(v *domain.MLFeatureVector) *float64 { return &v.VolumeAcceleration }},
	{LiquidityTrend, func(v *domain.MLFeatureVector) *float64 { return &v.LiquidityTrend }},
	{HolderTrend, func(v *domain.MLFeatureVector) *float64 { return &v.HolderTrend }},

	{IsVolumeSpike, func(v *domain.MLFeatureVector) *float64 { return &v.IsVolumeSpike }},
	{IsPumping, func(v *domain.MLFeatureVector) *float64 { return &v.IsPumping }},
	{IsDumping, func(v *domain.MLFeatureVector) *float64 { return &v.IsDumping }},

	{SentimentScore, func(v *domain.MLFeatureVector) *float64 { return &v.SentimentScore }},
	{SentimentConfidence, func(v *domain.MLFeatureVector) *float64 { return &v.SentimentConfidence }},
	{MentionCount, func(v *domain.MLFeatureVector) *float64 { return &v.MentionCount }},
}

// Names returns the canonical feature order.
func Names() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.name
	}
	return out
}

var index = func() map[string]int {
	m := make(map[string]int, len(fields))
	for i, f := range fields {
		m[f.name] = i
	}
	return m
}()

// Index returns the array position of name, or -1.
func Index(name string) int {
	if i, ok := index[name]; ok {
		return i
	}
	return -1
}

// FeaturesToArray flattens v into canonical order.
func FeaturesToArray(v domain.MLFeatureVector) []float64 {
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i] = *f.ref(&v)
	}
	return out
}

// ArrayToFeatures is the inverse of FeaturesToArray. Positions beyond
// len(arr) default to 0.
func ArrayToFeatures(arr []float64) domain.MLFeatureVector {
	var v domain.MLFeatureVector
	for i, f := range fields {
		if i < len(arr) {
			*f.ref(&v) = arr[i]
		}
	}
	return v
}

// FeaturesToMap keys v by canonical name.
func FeaturesToMap(v domain.MLFeatureVector) map[string]float64 {
	out := make(map[string]float64, len(fields))
	for _, f := range fields {
		out[f.name] = *f.ref(&v)
	}
	return out
}

// MapToFeatures builds a vector from named values. Missing keys default to 0.
func MapToFeatures(m map[string]float64) domain.MLFeatureVector {
	var v domain.MLFeatureVector
	for _, f := range fields {
		if x, ok := m[f.name]; ok {
			*f.ref(&v) = x
		}
	}
	return v
}
