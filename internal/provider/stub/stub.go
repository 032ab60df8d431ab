// Package stub provides in-memory providers for tests and offline runs.
package stub

import (
	"context"
	"sync"

	"token-harvester/internal/domain"
	"token-harvester/internal/provider"
)

// Provider serves canned data and can be told to fail.
type Provider struct {
	name string

	mu         sync.Mutex
	pairs      map[string]*domain.RawPairData
	smart      map[string]*domain.SmartMoneySignal
	sentiment  map[string]*domain.SentimentSignal
	err        error
	calls      map[string]int
	batches    int
	beforeCall func(mint string)
}

// New creates an empty provider reporting name as its source.
func New(name string) *Provider {
	return &Provider{
		name:      name,
		pairs:     make(map[string]*domain.RawPairData),
		smart:     make(map[string]*domain.SmartMoneySignal),
		sentiment: make(map[string]*domain.SentimentSignal),
		calls:     make(map[string]int),
	}
}

// Compile-time interface checks.
var (
	_ provider.MarketDataProvider = (*Provider)(nil)
	_ provider.SmartMoneyProvider = (*Provider)(nil)
	_ provider.SentimentProvider  = (*Provider)(nil)
)

// Name returns the configured source name.
func (p *Provider) Name() string { return p.name }

// SetPair sets the data returned for mint. Nil removes it.
func (p *Provider) SetPair(mint string, raw *domain.RawPairData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if raw == nil {
		delete(p.pairs, mint)
		return
	}
	cp := *raw
	cp.Source = p.name
	p.pairs[mint] = &cp
}

// SetSmartMoney sets the smart-money signal of mint.
func (p *Provider) SetSmartMoney(mint string, s *domain.SmartMoneySignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.smart[mint] = s
}

// SetSentiment sets the sentiment signal of mint.
func (p *Provider) SetSentiment(mint string, s *domain.SentimentSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sentiment[mint] = s
}

// SetError makes every call fail with err until cleared with nil.
func (p *Provider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// OnCall registers a hook run at the start of every GetPairData.
func (p *Provider) OnCall(fn func(mint string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beforeCall = fn
}

// Calls returns how many times GetPairData was called for mint.
func (p *Provider) Calls(mint string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[mint]
}

// GetPairData returns a copy of the data set for mint.
func (p *Provider) GetPairData(_ context.Context, mint string) (*domain.RawPairData, error) {
	p.mu.Lock()
	p.calls[mint]++
	hook := p.beforeCall
	p.mu.Unlock()

	if hook != nil {
		hook(mint)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	raw, ok := p.pairs[mint]
	if !ok {
		return nil, nil
	}
	cp := *raw
	return &cp, nil
}

// Batches returns how many GetMultiple calls were made.
func (p *Provider) Batches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batches
}

// GetMultiple returns data for the known mints.
func (p *Provider) GetMultiple(ctx context.Context, mints []string) (map[string]*domain.RawPairData, error) {
	p.mu.Lock()
	p.batches++
	p.mu.Unlock()

	out := make(map[string]*domain.RawPairData, len(mints))
	for _, m := range mints {
		raw, err := p.GetPairData(ctx, m)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			out[m] = raw
		}
	}
	return out, nil
}

// GetSmartMoney returns the signal set for mint.
func (p *Provider) GetSmartMoney(_ context.Context, mint string) (*domain.SmartMoneySignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.smart[mint], nil
}

// GetSentiment returns the signal set for mint.
func (p *Provider) GetSentiment(_ context.Context, mint string) (*domain.SentimentSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.sentiment[mint], nil
}
