// Package provider fetches token market data from upstream APIs.
package provider

import (
	"context"
	"errors"

	"token-harvester/internal/domain"
)

// ErrRateLimited is returned when an upstream keeps answering 429 after retries.
var ErrRateLimited = errors.New("provider rate limited")

// MarketDataProvider returns one upstream's view of tokens.
// A token the upstream does not know is reported as nil data with no error.
type MarketDataProvider interface {
	Name() string
	GetPairData(ctx context.Context, mint string) (*domain.RawPairData, error)
	// GetMultiple returns data for the known mints only.
	GetMultiple(ctx context.Context, mints []string) (map[string]*domain.RawPairData, error)
}

// SmartMoneyProvider reports tracked-wallet activity. Nil means no signal.
type SmartMoneyProvider interface {
	GetSmartMoney(ctx context.Context, mint string) (*domain.SmartMoneySignal, error)
}

// SentimentProvider reports social sentiment. Nil means no signal.
type SentimentProvider interface {
	GetSentiment(ctx context.Context, mint string) (*domain.SentimentSignal, error)
}
