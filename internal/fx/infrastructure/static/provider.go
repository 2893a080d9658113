// Package static 提供基于内存汇率表的 RateProvider 实现，用于仿真环境。
package static

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/fx/domain"
)

// Provider 内存汇率表实现
type Provider struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal // key: from+to
}

// NewProvider 创建内存汇率表。rates 的 key 形如 "EURUSD"。
func NewProvider(rates map[string]string) (*Provider, error) {
	parsed := make(map[string]decimal.Decimal, len(rates))
	for pair, raw := range rates {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for pair %s: %w", pair, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for pair %s must be positive", pair)
		}
		parsed[pair] = rate
	}
	return &Provider{rates: parsed}, nil
}

// SetRate 更新一个货币对的汇率
func (p *Provider) SetRate(fromCurrency, toCurrency string, rate decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[fromCurrency+toCurrency] = rate
}

// GetRate 实现 domain.RateProvider。直接货币对缺失时尝试反向货币对取倒数。
func (p *Provider) GetRate(ctx context.Context, fromCurrency, toCurrency string) (*domain.ExchangeRate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if rate, ok := p.rates[fromCurrency+toCurrency]; ok {
		return p.newRate(fromCurrency, toCurrency, rate), nil
	}

	// 反向货币对
	if inverse, ok := p.rates[toCurrency+fromCurrency]; ok && inverse.IsPositive() {
		return p.newRate(fromCurrency, toCurrency, decimal.NewFromInt(1).Div(inverse)), nil
	}

	return nil, fmt.Errorf("%w: %s -> %s", domain.ErrRateNotFound, fromCurrency, toCurrency)
}

func (p *Provider) newRate(fromCurrency, toCurrency string, rate decimal.Decimal) *domain.ExchangeRate {
	return &domain.ExchangeRate{
		BaseCurrency:  fromCurrency,
		QuoteCurrency: toCurrency,
		Rate:          rate,
		Source:        "static",
		UpdatedAt:     time.Now(),
	}
}
