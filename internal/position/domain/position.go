// 包 domain 持仓模块的领域模型：持仓簿、盯市重估与组合余额
package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionNotFound 持仓不存在（平仓记实现盈亏时为数据不一致错误）
	ErrPositionNotFound = errors.New("position not found")
)

// Position 持仓实体
// 按 (用户, 标的) 唯一。AvgPrice 只在同方向加仓时重算；
// 反方向成交（平仓）不动 AvgPrice，价差由结算层记入已实现盈亏。
type Position struct {
	// 标的
	Symbol string `json:"symbol"`
	// 当前数量（空头为负）
	Quantity decimal.Decimal `json:"quantity"`
	// 目标数量 = 当前数量 + 未成交挂单数量
	TargetQuantity decimal.Decimal `json:"target_quantity"`
	// 币种
	Currency string `json:"currency"`
	// 加权平均成本价
	AvgPrice decimal.Decimal `json:"avg_price"`
	// 盯市市值（2 位小数）
	MTMValue decimal.Decimal `json:"mtm_value"`
	// 日初已实现盈亏
	SODRealizedPnL decimal.Decimal `json:"sod_realized_pnl"`
	// 日内已实现盈亏
	ITDRealizedPnL decimal.Decimal `json:"itd_realized_pnl"`
	// 已实现盈亏 = 日初 + 日内
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	// 未实现盈亏 = (市价 - 成本价) * 数量
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	// 最新市价
	MarkPrice decimal.Decimal `json:"mark_price"`
}

// NewPosition 创建零持仓
func NewPosition(symbol, currency string) *Position {
	return &Position{
		Symbol:   symbol,
		Currency: currency,
	}
}

// Clone 深拷贝
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// IsFlat 是否空仓
func (p *Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// recompute 按当前市价重算已实现/未实现盈亏与盯市市值
func (p *Position) recompute() {
	p.RealizedPnL = p.SODRealizedPnL.Add(p.ITDRealizedPnL)
	if p.Quantity.IsZero() {
		p.UnrealizedPnL = decimal.Zero
	} else {
		p.UnrealizedPnL = p.MarkPrice.Sub(p.AvgPrice).Mul(p.Quantity)
	}
	p.MTMValue = p.Quantity.Mul(p.MarkPrice).Round(2)
}

// PriceSource 行情能力接口（外部 equity manager）
type PriceSource interface {
	// GetLastPrice 最新价；无价时 ok 为 false
	GetLastPrice(symbol string) (decimal.Decimal, bool)
	// GetSymbolCurrency 标的币种；未知时 ok 为 false
	GetSymbolCurrency(symbol string) (string, bool)
}

// PendingQuantitySource 未成交挂单数量来源（外部撮合引擎）
type PendingQuantitySource interface {
	// GetPendingQuantity 标的的未成交挂单数量合计
	GetPendingQuantity(symbol string) decimal.Decimal
}
