// 包 domain 外汇模块的领域模型：汇率、汇率来源与货币转换器
package domain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound 汇率缺失
	ErrRateNotFound = errors.New("exchange rate not found")
	// ErrInvalidRate 汇率非法（零或负值）
	ErrInvalidRate = errors.New("invalid exchange rate")
)

// ExchangeRate 汇率实体
type ExchangeRate struct {
	// 基础币种
	BaseCurrency string `json:"base_currency"`
	// 报价币种
	QuoteCurrency string `json:"quote_currency"`
	// 汇率
	Rate decimal.Decimal `json:"rate"`
	// 汇率来源
	Source string `json:"source"`
	// 更新时间
	UpdatedAt time.Time `json:"updated_at"`
}

// RateProvider 汇率来源能力接口
type RateProvider interface {
	// GetRate 获取 from -> to 的汇率
	GetRate(ctx context.Context, fromCurrency, toCurrency string) (*ExchangeRate, error)
}

// FallbackObserver 汇率缺失回退时的观察回调（用于指标上报）
type FallbackObserver func(fromCurrency, toCurrency string)

// Converter 货币转换器。
// 汇率缺失时回退为 1:1 并记录告警：结算不能因为行情缺口阻塞撮合管线，
// 但该近似必须对运维可见。
type Converter struct {
	provider RateProvider
	logger   *slog.Logger
	observer FallbackObserver
}

// NewConverter 创建货币转换器
func NewConverter(provider RateProvider, logger *slog.Logger) *Converter {
	return &Converter{
		provider: provider,
		logger:   logger.With("module", "fx_converter"),
	}
}

// OnFallback 注册汇率回退观察回调
func (c *Converter) OnFallback(observer FallbackObserver) {
	c.observer = observer
}

// Convert 将金额从 from 币种换算为 to 币种。
// 同币种直接返回原金额，不触发任何外部调用。
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) decimal.Decimal {
	if fromCurrency == toCurrency {
		return amount
	}

	rate, err := c.lookupRate(ctx, fromCurrency, toCurrency)
	if err != nil {
		c.fallback(ctx, fromCurrency, toCurrency, err)
		return amount
	}

	return amount.Mul(rate)
}

// GetRate 返回 from -> to 的单位汇率，用于需要在现金流记录中
// 留痕汇率本身的场景。同币种返回 1。
func (c *Converter) GetRate(ctx context.Context, fromCurrency, toCurrency string) decimal.Decimal {
	if fromCurrency == toCurrency {
		return decimal.NewFromInt(1)
	}

	rate, err := c.lookupRate(ctx, fromCurrency, toCurrency)
	if err != nil {
		c.fallback(ctx, fromCurrency, toCurrency, err)
		return decimal.NewFromInt(1)
	}
	return rate
}

func (c *Converter) lookupRate(ctx context.Context, fromCurrency, toCurrency string) (decimal.Decimal, error) {
	if c.provider == nil {
		return decimal.Decimal{}, ErrRateNotFound
	}

	rate, err := c.provider.GetRate(ctx, fromCurrency, toCurrency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if rate == nil || !rate.Rate.IsPositive() {
		return decimal.Decimal{}, ErrInvalidRate
	}
	return rate.Rate, nil
}

func (c *Converter) fallback(ctx context.Context, fromCurrency, toCurrency string, err error) {
	c.logger.WarnContext(ctx, "fx rate unavailable, falling back to 1:1",
		"from", fromCurrency,
		"to", toCurrency,
		"error", err,
	)
	if c.observer != nil {
		c.observer(fromCurrency, toCurrency)
	}
}
