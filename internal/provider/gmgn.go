package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"go.uber.org/zap"

	"token-harvester/internal/domain"
	"token-harvester/internal/observability"
)

// GMGNBaseURL is the public GMGN API.
const GMGNBaseURL = "https://gmgn.ai"

// GMGN provides holder, authority and smart-money data per mint.
// The token_info payload is loosely typed (numbers arrive as strings or
// numbers, flags as bools or 0/1), so it is read with simplejson.
type GMGN struct {
	http *httpClient
}

// NewGMGN creates a GMGN client.
func NewGMGN(cfg HTTPConfig, metrics *observability.Metrics, logger *zap.Logger) *GMGN {
	cfg = cfg.withDefaults(GMGNBaseURL)
	return &GMGN{http: newHTTPClient("gmgn", cfg, metrics, logger)}
}

// Compile-time interface checks.
var (
	_ MarketDataProvider = (*GMGN)(nil)
	_ SmartMoneyProvider = (*GMGN)(nil)
)

// Name returns the source name recorded on snapshots.
func (g *GMGN) Name() string { return "gmgn" }

// GetPairData returns the token_info view of mint.
func (g *GMGN) GetPairData(ctx context.Context, mint string) (*domain.RawPairData, error) {
	token, err := g.tokenInfo(ctx, mint)
	if err != nil || token == nil {
		return nil, err
	}
	return tokenToRaw(token), nil
}

// GetMultiple fetches each mint in turn; the shared rate limiter paces them.
func (g *GMGN) GetMultiple(ctx context.Context, mints []string) (map[string]*domain.RawPairData, error) {
	out := make(map[string]*domain.RawPairData, len(mints))
	for _, mint := range mints {
		raw, err := g.GetPairData(ctx, mint)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			out[mint] = raw
		}
	}
	return out, nil
}

// GetSmartMoney reads the smart-wallet counters of token_info.
func (g *GMGN) GetSmartMoney(ctx context.Context, mint string) (*domain.SmartMoneySignal, error) {
	token, err := g.tokenInfo(ctx, mint)
	if err != nil || token == nil {
		return nil, err
	}
	wallets, ok := number(token, "smart_degen_count")
	if !ok {
		return nil, nil
	}
	buys, _ := number(token, "smart_buy_24h")
	sells, _ := number(token, "smart_sell_24h")
	inflow, _ := number(token, "smart_net_inflow_usd")
	return &domain.SmartMoneySignal{
		Wallets:   int(wallets),
		NetBuys:   buys - sells,
		InflowUsd: inflow,
	}, nil
}

// tokenInfo returns data.token, or nil when GMGN does not know mint.
func (g *GMGN) tokenInfo(ctx context.Context, mint string) (*simplejson.Json, error) {
	body, err := g.http.get(ctx, "/api/v1/token_info/sol/"+url.PathEscape(mint))
	if err != nil || body == nil {
		return nil, err
	}
	js, err := simplejson.NewJson(body)
	if err != nil {
		return nil, fmt.Errorf("decode gmgn response: %w", err)
	}
	if code, ok := number(js, "code"); ok && code != 0 {
		msg, _ := js.Get("msg").String()
		return nil, fmt.Errorf("gmgn API error: code %d: %s", int(code), msg)
	}
	token, ok := js.Get("data").CheckGet("token")
	if !ok {
		return nil, nil
	}
	return token, nil
}

func tokenToRaw(t *simplejson.Json) *domain.RawPairData {
	raw := &domain.RawPairData{
		Source:         "gmgn",
		Symbol:         text(t, "symbol"),
		Name:           text(t, "name"),
		PriceUsd:       numberPtr(t, "price"),
		MarketCap:      numberPtr(t, "market_cap"),
		LiquidityUsd:   numberPtr(t, "liquidity"),
		Volume5m:       numberPtr(t, "volume_5m"),
		Volume1h:       numberPtr(t, "volume_1h"),
		Volume24h:      numberPtr(t, "volume_24h"),
		PriceChange5m:  numberPtr(t, "price_change_percent5m"),
		PriceChange1h:  numberPtr(t, "price_change_percent1h"),
		PriceChange24h: numberPtr(t, "price_change_percent24h"),
		MintRevoked:    flag(t, "renounced_mint"),
		FreezeRevoked:  flag(t, "renounced_freeze_account"),
	}

	if v, ok := number(t, "holder_count"); ok {
		n := int64(v)
		raw.HolderCount = &n
	}
	if v, ok := number(t, "buys_1h"); ok {
		n := int64(v)
		raw.Buys1h = &n
	}
	if v, ok := number(t, "sells_1h"); ok {
		n := int64(v)
		raw.Sells1h = &n
	}
	// GMGN reports ratios in [0, 1].
	if v, ok := number(t, "top_10_holder_rate"); ok {
		pct := v * 100
		raw.Top10HolderPercent = &pct
	}
	if v, ok := number(t, "burn_ratio"); ok {
		pct := v * 100
		raw.LpBurnedPercent = &pct
	}
	if v, ok := number(t, "open_timestamp"); ok && v > 0 {
		at := time.Unix(int64(v), 0).UTC()
		raw.PairCreatedAt = &at
	}

	if links, ok := t.CheckGet("social_links"); ok {
		raw.HasTwitter = present(links, "twitter_username")
		raw.HasTelegram = present(links, "telegram")
		raw.HasWebsite = present(links, "website")
	}
	return raw
}

// number reads key as a float, accepting JSON numbers and numeric strings.
func number(j *simplejson.Json, key string) (float64, bool) {
	v, ok := j.CheckGet(key)
	if !ok || v.Interface() == nil {
		return 0, false
	}
	if f, err := v.Float64(); err == nil {
		return f, true
	}
	if s, err := v.String(); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func numberPtr(j *simplejson.Json, key string) *float64 {
	if f, ok := number(j, key); ok {
		return &f
	}
	return nil
}

func text(j *simplejson.Json, key string) *string {
	if s, err := j.Get(key).String(); err == nil && s != "" {
		return &s
	}
	return nil
}

// flag reads key as a bool, accepting true/false and 0/1.
func flag(j *simplejson.Json, key string) *bool {
	v, ok := j.CheckGet(key)
	if !ok || v.Interface() == nil {
		return nil
	}
	if b, err := v.Bool(); err == nil {
		return &b
	}
	if f, ok := number(j, key); ok {
		b := f != 0
		return &b
	}
	return nil
}

func present(j *simplejson.Json, key string) *bool {
	b := false
	if s, err := j.Get(key).String(); err == nil && s != "" {
		b = true
	}
	return &b
}
