package domain

import "time"

// RawPairData is one provider's view of a token. Every metric is optional;
// nil means the provider did not report it.
type RawPairData struct {
	Source      string
	PairAddress *string
	DexID       *string
	Symbol      *string
	Name        *string

	PriceUsd  *float64
	MarketCap *float64
	Fdv       *float64

	Volume5m  *float64
	Volume1h  *float64
	Volume24h *float64

	LiquidityUsd    *float64
	LpBurnedPercent *float64

	HolderCount        *int64
	Top10HolderPercent *float64

	MintRevoked   *bool
	FreezeRevoked *bool

	HasTwitter  *bool
	HasTelegram *bool
	HasWebsite  *bool

	PriceChange5m  *float64
	PriceChange1h  *float64
	PriceChange24h *float64

	Buys1h  *int64
	Sells1h *int64

	RiskScore     *float64
	PairCreatedAt *time.Time
}

// Empty reports whether the provider returned no usable metric at all.
func (r *RawPairData) Empty() bool {
	if r == nil {
		return true
	}
	return r.PriceUsd == nil && r.LiquidityUsd == nil && r.Volume24h == nil &&
		r.Volume1h == nil && r.HolderCount == nil && r.MarketCap == nil
}

// SmartMoneySignal summarizes tracked-wallet activity on a token.
type SmartMoneySignal struct {
	Wallets   int     `json:"wallets"`    // distinct smart wallets trading
	NetBuys   float64 `json:"net_buys"`   // buys minus sells
	InflowUsd float64 `json:"inflow_usd"` // net USD inflow
}

// Active reports whether smart wallets are accumulating.
func (s *SmartMoneySignal) Active() bool {
	return s != nil && s.Wallets > 0 && s.NetBuys > 0
}

// SentimentSignal summarizes social sentiment on a token.
type SentimentSignal struct {
	Score      float64 `json:"score"`      // [-1, 1]
	Confidence float64 `json:"confidence"` // [0, 1]
	Mentions   int     `json:"mentions"`
}

// TokenSnapshot is one immutable observation of a token plus its derived features.
// Corresponds to token_snapshots table in PostgreSQL.
type TokenSnapshot struct {
	Mint        string `json:"mint"`
	Symbol      string `json:"symbol,omitempty"`
	Name        string `json:"name,omitempty"`
	PairAddress string `json:"pair_address,omitempty"`

	PriceUsd  float64 `json:"price_usd"`
	MarketCap float64 `json:"market_cap"`
	Fdv       float64 `json:"fdv"`

	Volume5m  float64 `json:"volume_5m"`
	Volume1h  float64 `json:"volume_1h"`
	Volume24h float64 `json:"volume_24h"`

	LiquidityUsd    float64 `json:"liquidity_usd"`
	LpBurnedPercent float64 `json:"lp_burned_percent"`

	HolderCount        int64   `json:"holder_count"`
	Top10HolderPercent float64 `json:"top10_holder_percent"`

	MintRevoked   bool `json:"mint_revoked"`
	FreezeRevoked bool `json:"freeze_revoked"`

	HasTwitter  bool `json:"has_twitter"`
	HasTelegram bool `json:"has_telegram"`
	HasWebsite  bool `json:"has_website"`

	PriceChange5m  float64 `json:"price_change_5m"`
	PriceChange1h  float64 `json:"price_change_1h"`
	PriceChange24h float64 `json:"price_change_24h"`

	Buys1h  int64 `json:"buys_1h"`
	Sells1h int64 `json:"sells_1h"`

	SmartMoney *SmartMoneySignal `json:"smart_money,omitempty"`
	Sentiment  *SentimentSignal  `json:"sentiment,omitempty"`

	RiskScore          float64 `json:"risk_score"`
	RiskScoreEstimated bool    `json:"risk_score_estimated"` // upstream omitted it, heuristic used

	Sources       []string  `json:"sources"`
	PairCreatedAt time.Time `json:"pair_created_at"` // zero if unknown
	RecordedAt    time.Time `json:"recorded_at"`

	Features       MLFeatureVector `json:"features"`
	Normalized     []float64       `json:"normalized"`
	FeatureVersion string          `json:"feature_version"`
}

// HasSocials reports whether any social channel is present.
func (s *TokenSnapshot) HasSocials() bool {
	return s.HasTwitter || s.HasTelegram || s.HasWebsite
}

// FeatureRow is a persisted training row: a snapshot's features plus an
// outcome label filled in later by the labeling pipeline.
// Corresponds to training_rows table in ClickHouse.
type FeatureRow struct {
	Mint           string
	RecordedAt     time.Time
	FeatureVersion string
	Features       []float64 // canonical order, NaN marks an input the providers did not report
	Normalized     []float64 // canonical order, always in [0,1]
	Outcome        string    // empty until labeled
}
