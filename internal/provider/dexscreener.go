package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"token-harvester/internal/domain"
	"token-harvester/internal/observability"
)

// DexScreener limits.
const (
	DexScreenerBaseURL   = "https://api.dexscreener.com"
	DexScreenerBatchSize = 30
	dexScreenerParallel  = 3
)

// DexScreener is the real-time market data provider.
type DexScreener struct {
	http *httpClient
}

// NewDexScreener creates a DexScreener client.
func NewDexScreener(cfg HTTPConfig, metrics *observability.Metrics, logger *zap.Logger) *DexScreener {
	cfg = cfg.withDefaults(DexScreenerBaseURL)
	return &DexScreener{http: newHTTPClient("dexscreener", cfg, metrics, logger)}
}

// Compile-time interface check.
var _ MarketDataProvider = (*DexScreener)(nil)

// Name returns the source name recorded on snapshots.
func (d *DexScreener) Name() string { return "dexscreener" }

// GetPairData returns the highest-liquidity Solana pair of mint.
func (d *DexScreener) GetPairData(ctx context.Context, mint string) (*domain.RawPairData, error) {
	out, err := d.fetchBatch(ctx, []string{mint})
	if err != nil {
		return nil, err
	}
	return out[mint], nil
}

// GetMultiple fetches mints in batches of DexScreenerBatchSize.
// A failed batch fails the call; the other batches' results are discarded.
func (d *DexScreener) GetMultiple(ctx context.Context, mints []string) (map[string]*domain.RawPairData, error) {
	result := make(map[string]*domain.RawPairData, len(mints))
	if len(mints) == 0 {
		return result, nil
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		sem      = semaphore.NewWeighted(dexScreenerParallel)
	)
	for start := 0; start < len(mints); start += DexScreenerBatchSize {
		end := min(start+DexScreenerBatchSize, len(mints))
		batch := mints[start:end]

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			got, err := d.fetchBatch(ctx, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			for k, v := range got {
				result[k] = v
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

type dexPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUsd string `json:"priceUsd"`
	Txns     struct {
		H1 struct {
			Buys  int64 `json:"buys"`
			Sells int64 `json:"sells"`
		} `json:"h1"`
	} `json:"txns"`
	Volume      map[string]float64 `json:"volume"`
	PriceChange map[string]float64 `json:"priceChange"`
	Liquidity   *struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
	Fdv           *float64 `json:"fdv"`
	MarketCap     *float64 `json:"marketCap"`
	PairCreatedAt int64    `json:"pairCreatedAt"`
	Info          *struct {
		Websites []struct {
			URL string `json:"url"`
		} `json:"websites"`
		Socials []struct {
			Type string `json:"type"`
		} `json:"socials"`
	} `json:"info"`
}

func (d *DexScreener) fetchBatch(ctx context.Context, mints []string) (map[string]*domain.RawPairData, error) {
	escaped := make([]string, len(mints))
	for i, m := range mints {
		escaped[i] = url.PathEscape(m)
	}
	body, err := d.http.get(ctx, "/latest/dex/tokens/"+strings.Join(escaped, ","))
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.RawPairData)
	if body == nil {
		return out, nil
	}

	var resp struct {
		Pairs []dexPair `json:"pairs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode dexscreener response: %w", err)
	}

	wanted := make(map[string]struct{}, len(mints))
	for _, m := range mints {
		wanted[m] = struct{}{}
	}

	best := make(map[string]dexPair)
	for _, p := range resp.Pairs {
		if p.ChainID != "" && p.ChainID != "solana" {
			continue
		}
		mint := p.BaseToken.Address
		if _, ok := wanted[mint]; !ok {
			continue
		}
		if cur, ok := best[mint]; !ok || pairLiquidity(p) > pairLiquidity(cur) {
			best[mint] = p
		}
	}

	for mint, p := range best {
		raw, err := p.toRaw()
		if err != nil {
			d.http.logger.Warn("skip malformed pair", zap.String("mint", mint), zap.Error(err))
			continue
		}
		out[mint] = raw
	}
	return out, nil
}

func pairLiquidity(p dexPair) float64 {
	if p.Liquidity == nil {
		return -1
	}
	return p.Liquidity.Usd
}

func (p dexPair) toRaw() (*domain.RawPairData, error) {
	raw := &domain.RawPairData{
		Source:      "dexscreener",
		PairAddress: strPtr(p.PairAddress),
		DexID:       strPtr(p.DexID),
		Symbol:      strPtr(p.BaseToken.Symbol),
		Name:        strPtr(p.BaseToken.Name),
		MarketCap:   p.MarketCap,
		Fdv:         p.Fdv,
		Volume5m:    mapPtr(p.Volume, "m5"),
		Volume1h:    mapPtr(p.Volume, "h1"),
		Volume24h:   mapPtr(p.Volume, "h24"),

		PriceChange5m:  mapPtr(p.PriceChange, "m5"),
		PriceChange1h:  mapPtr(p.PriceChange, "h1"),
		PriceChange24h: mapPtr(p.PriceChange, "h24"),

		Buys1h:  &p.Txns.H1.Buys,
		Sells1h: &p.Txns.H1.Sells,
	}

	if p.PriceUsd != "" {
		price, err := decimal.NewFromString(p.PriceUsd)
		if err != nil {
			return nil, fmt.Errorf("parse priceUsd %q: %w", p.PriceUsd, err)
		}
		f := price.InexactFloat64()
		raw.PriceUsd = &f
	}
	if p.Liquidity != nil {
		liq := p.Liquidity.Usd
		raw.LiquidityUsd = &liq
	}
	if p.PairCreatedAt > 0 {
		at := time.UnixMilli(p.PairCreatedAt).UTC()
		raw.PairCreatedAt = &at
	}
	if p.Info != nil {
		var twitter, telegram bool
		for _, s := range p.Info.Socials {
			switch strings.ToLower(s.Type) {
			case "twitter", "x":
				twitter = true
			case "telegram":
				telegram = true
			}
		}
		website := len(p.Info.Websites) > 0
		raw.HasTwitter, raw.HasTelegram, raw.HasWebsite = &twitter, &telegram, &website
	}
	return raw, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapPtr(m map[string]float64, key string) *float64 {
	v, ok := m[key]
	if !ok {
		return nil
	}
	return &v
}
