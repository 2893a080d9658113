// Package cache 提供带 Redis 缓存的 RateProvider 装饰器。
// 结算路径在持锁期间查询汇率，缓存读路径可以约束锁持有时间。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradesim/fundaccounting/internal/fx/domain"
	pkgcache "github.com/tradesim/fundaccounting/pkg/cache"
	"github.com/tradesim/fundaccounting/pkg/logger"
)

// Provider 汇率缓存装饰器
type Provider struct {
	delegate domain.RateProvider
	cache    *pkgcache.RedisCache
	ttl      time.Duration
}

// NewProvider 创建缓存装饰器
func NewProvider(delegate domain.RateProvider, cache *pkgcache.RedisCache, ttl time.Duration) *Provider {
	return &Provider{
		delegate: delegate,
		cache:    cache,
		ttl:      ttl,
	}
}

// GetRate 实现 domain.RateProvider。优先读缓存，未命中时回源并写缓存。
func (p *Provider) GetRate(ctx context.Context, fromCurrency, toCurrency string) (*domain.ExchangeRate, error) {
	key := cacheKey(fromCurrency, toCurrency)

	var cached domain.ExchangeRate
	err := p.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, pkgcache.ErrCacheMiss) {
		// 缓存故障降级为直接回源
		logger.Warn(ctx, "fx rate cache read failed", "key", key, "error", err)
	}

	rate, err := p.delegate.GetRate(ctx, fromCurrency, toCurrency)
	if err != nil {
		return nil, err
	}

	if err := p.cache.SetJSON(ctx, key, rate, p.ttl); err != nil {
		logger.Warn(ctx, "fx rate cache write failed", "key", key, "error", err)
	}

	return rate, nil
}

func cacheKey(fromCurrency, toCurrency string) string {
	return fmt.Sprintf("fx:rate:%s:%s", fromCurrency, toCurrency)
}
