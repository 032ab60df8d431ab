package features

import (
	"math"

	"token-harvester/internal/domain"
)

// Pattern thresholds.
const (
	volumeSpikeFactor = 5.0
	pumpChange5m      = 10.0
	pumpChange1h      = 30.0
)

// ExtractFeatures computes the 28-field vector of s. previous is the prior
// snapshot of the same token and may be nil. smartMoney and sentiment
// override the signals carried on s when non-nil.
func ExtractFeatures(s *domain.TokenSnapshot, previous *domain.TokenSnapshot,
	smartMoney *domain.SmartMoneySignal, sentiment *domain.SentimentSignal) domain.MLFeatureVector {
	if smartMoney == nil {
		smartMoney = s.SmartMoney
	}
	if sentiment == nil {
		sentiment = s.Sentiment
	}

	avgHourly := s.Volume24h / 24

	v := domain.MLFeatureVector{
		LiquidityUsd:       s.LiquidityUsd,
		RiskScore:          s.RiskScore,
		HolderCount:        float64(s.HolderCount),
		Top10HolderPercent: s.Top10HolderPercent,
		MintRevoked:        b2f(s.MintRevoked),
		FreezeRevoked:      b2f(s.FreezeRevoked),
		LpBurnedPercent:    s.LpBurnedPercent,
		HasSocials:         b2f(s.HasSocials()),
		TokenAgeHours:      tokenAgeHours(s),

		PriceChange5m:   s.PriceChange5m,
		PriceChange1h:   s.PriceChange1h,
		PriceChange24h:  s.PriceChange24h,
		VolumeChange1h:  volumeChange1h(s, previous),
		VolumeChange24h: relativeDeviation(s.Volume1h, avgHourly) * 100,
		BuyPressure1h:   buyPressure(s.Buys1h, s.Sells1h),

		PriceVelocity:      s.PriceChange5m - s.PriceChange1h/12,
		VolumeAcceleration: relativeDeviation(s.Volume1h, avgHourly),

		IsVolumeSpike: b2f(avgHourly > 0 && s.Volume1h > volumeSpikeFactor*avgHourly),
		IsPumping:     b2f(s.PriceChange5m > pumpChange5m && s.PriceChange1h > pumpChange1h),
		IsDumping:     b2f(s.PriceChange5m < -pumpChange5m && s.PriceChange1h < -pumpChange1h),
	}

	if previous != nil {
		v.LiquidityTrend = trend(s.LiquidityUsd, previous.LiquidityUsd)
		v.HolderTrend = trend(float64(s.HolderCount), float64(previous.HolderCount))
	}

	if smartMoney != nil {
		v.SmartMoneyWallets = float64(smartMoney.Wallets)
		v.SmartMoneyNetBuys = smartMoney.NetBuys
		v.SmartMoneyInflowUsd = smartMoney.InflowUsd
	}
	if sentiment != nil {
		v.SentimentScore = sentiment.Score
		v.SentimentConfidence = sentiment.Confidence
		v.MentionCount = float64(sentiment.Mentions)
	}
	return v
}

// SignalsFromFeatures derives the sampler signals of a snapshot.
func SignalsFromFeatures(s *domain.TokenSnapshot) domain.Signals {
	return domain.Signals{
		PriceChange1h:    s.PriceChange1h,
		VolumeSpike:      s.Features.IsVolumeSpike == 1,
		SmartMoneyActive: s.SmartMoney.Active(),
	}
}

func tokenAgeHours(s *domain.TokenSnapshot) float64 {
	if s.PairCreatedAt.IsZero() || s.RecordedAt.Before(s.PairCreatedAt) {
		return 0
	}
	return s.RecordedAt.Sub(s.PairCreatedAt).Hours()
}

func volumeChange1h(s, previous *domain.TokenSnapshot) float64 {
	if previous == nil || previous.Volume1h <= 0 || !finite(previous.Volume1h) {
		return 0
	}
	return (s.Volume1h - previous.Volume1h) / previous.Volume1h * 100
}

// relativeDeviation is (value-base)/base, 0 when base is not positive.
func relativeDeviation(value, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return (value - base) / base
}

func buyPressure(buys, sells int64) float64 {
	total := buys + sells
	if total <= 0 {
		return 0.5
	}
	return float64(buys) / float64(total)
}

// trend is the relative change from previous to current. A vanished current
// value is -1; an unknown previous value gives 0.
func trend(current, previous float64) float64 {
	if previous == 0 || !finite(previous) {
		return 0
	}
	if current == 0 || !finite(current) {
		return -1
	}
	return (current - previous) / previous
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
