package domain

// FeatureVersion tags the field order of MLFeatureVector. Bump on any change.
const FeatureVersion = "2"

// FeatureCount is the fixed dimension of MLFeatureVector.
const FeatureCount = 28

// MLFeatureVector is the fixed 28-field numeric encoding of a snapshot.
// Binary features are 0/1.
type MLFeatureVector struct {
	// Core
	LiquidityUsd       float64 `json:"liquidity_usd"`
	RiskScore          float64 `json:"risk_score"`
	HolderCount        float64 `json:"holder_count"`
	Top10HolderPercent float64 `json:"top10_holder_percent"`
	MintRevoked        float64 `json:"mint_revoked"`
	FreezeRevoked      float64 `json:"freeze_revoked"`
	LpBurnedPercent    float64 `json:"lp_burned_percent"`
	HasSocials         float64 `json:"has_socials"`
	TokenAgeHours      float64 `json:"token_age_hours"`

	// Momentum
	PriceChange5m   float64 `json:"price_change_5m"`
	PriceChange1h   float64 `json:"price_change_1h"`
	PriceChange24h  float64 `json:"price_change_24h"`
	VolumeChange1h  float64 `json:"volume_change_1h"`
	VolumeChange24h float64 `json:"volume_change_24h"`
	BuyPressure1h   float64 `json:"buy_pressure_1h"`

	// Smart money
	SmartMoneyWallets   float64 `json:"smart_money_wallets"`
	SmartMoneyNetBuys   float64 `json:"smart_money_net_buys"`
	SmartMoneyInflowUsd float64 `json:"smart_money_inflow_usd"`

	// Trend
	PriceVelocity      float64 `json:"price_velocity"`
	VolumeAcceleration float64 `json:"volume_acceleration"`
	LiquidityTrend     float64 `json:"liquidity_trend"`
	HolderTrend        float64 `json:"holder_trend"`

	// Pattern
	IsVolumeSpike float64 `json:"is_volume_spike"`
	IsPumping     float64 `json:"is_pumping"`
	IsDumping     float64 `json:"is_dumping"`

	// Sentiment
	SentimentScore      float64 `json:"sentiment_score"`
	SentimentConfidence float64 `json:"sentiment_confidence"`
	MentionCount        float64 `json:"mention_count"`
}
