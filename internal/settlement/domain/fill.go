// 包 domain 结算模块的领域模型：成交事件、结算流水与结算引擎
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrUnknownInitialSide 减仓成交必须携带已知的初始方向
	ErrUnknownInitialSide = errors.New("risk-off fill requires a known initial long/short side")
	// ErrInvalidFill 成交事件字段非法
	ErrInvalidFill = errors.New("invalid fill")
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid 是否为合法方向
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// InitialSide 成交前的持仓方向
type InitialSide string

const (
	InitialSideLong  InitialSide = "LONG"
	InitialSideShort InitialSide = "SHORT"
	InitialSideFlat  InitialSide = "FLAT"
)

// Valid 是否为合法初始方向
func (s InitialSide) Valid() bool {
	return s == InitialSideLong || s == InitialSideShort || s == InitialSideFlat
}

// Fill 撮合引擎推送的成交事件。
// Quantity 为无符号成交数量，方向由 Side 表达；IsRiskOff 标识该笔
// 成交相对初始方向是加仓（false）还是减仓/平仓（true）。
type Fill struct {
	// 成交编号
	TradeID string `json:"trade_id"`
	// 关联订单编号
	OrderID string `json:"order_id"`
	// 用户编号
	UserID string `json:"user_id"`
	// 标的（可为空，为空时不做平仓盈亏记账）
	Instrument string `json:"instrument"`
	// 结算币种
	Currency string `json:"currency"`
	// 订单方向
	Side Side `json:"side"`
	// 成交前持仓方向
	InitialSide InitialSide `json:"initial_side"`
	// 是否减仓/平仓成交
	IsRiskOff bool `json:"is_risk_off"`
	// 成交数量（无符号）
	Quantity decimal.Decimal `json:"quantity"`
	// 含冲击成本的成交价
	ImpactedPrice decimal.Decimal `json:"impacted_price"`
	// 佣金
	Commission decimal.Decimal `json:"commission"`
	// 成交开始时间
	StartTimestamp time.Time `json:"start_timestamp"`
	// 成交结束时间
	EndTimestamp time.Time `json:"end_timestamp"`
}

// Validate 校验成交事件
func (f *Fill) Validate() error {
	if f.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidFill)
	}
	if !f.Side.Valid() {
		return fmt.Errorf("%w: bad side %q", ErrInvalidFill, f.Side)
	}
	if !f.InitialSide.Valid() {
		return fmt.Errorf("%w: bad initial side %q", ErrInvalidFill, f.InitialSide)
	}
	if f.Currency == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidFill)
	}
	if f.Quantity.Sign() <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidFill, f.Quantity)
	}
	if f.ImpactedPrice.Sign() <= 0 {
		return fmt.Errorf("%w: impacted price must be positive, got %s", ErrInvalidFill, f.ImpactedPrice)
	}
	return nil
}

// SignedQuantity 带符号持仓增量：买为正，卖为负
func (f *Fill) SignedQuantity() decimal.Decimal {
	if f.Side == SideSell {
		return f.Quantity.Neg()
	}
	return f.Quantity
}

// Notional 结算金额 = 数量 * 含冲击成交价（2 位小数）
func (f *Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.ImpactedPrice).Round(2)
}

// SettlementStatus 结算状态
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "PENDING"
	SettlementStatusSettled SettlementStatus = "SETTLED"
	SettlementStatusFailed  SettlementStatus = "FAILED"
)

// Settlement 结算流水实体（留痕与对账用）
type Settlement struct {
	gorm.Model
	SettlementID string           `gorm:"column:settlement_id;type:varchar(64);uniqueIndex;not null"`
	TradeID      string           `gorm:"column:trade_id;type:varchar(64);index;not null"`
	UserID       string           `gorm:"column:user_id;type:varchar(64);index;not null"`
	Instrument   string           `gorm:"column:instrument;type:varchar(32)"`
	Currency     string           `gorm:"column:currency;type:varchar(8);not null"`
	Side         Side             `gorm:"column:side;type:varchar(8);not null"`
	InitialSide  InitialSide      `gorm:"column:initial_side;type:varchar(8);not null"`
	IsRiskOff    bool             `gorm:"column:is_risk_off;not null"`
	Quantity     decimal.Decimal  `gorm:"column:quantity;type:decimal(32,8);not null"`
	Price        decimal.Decimal  `gorm:"column:price;type:decimal(32,8);not null"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:decimal(32,2);not null"`
	RealizedPnL  decimal.Decimal  `gorm:"column:realized_pnl;type:decimal(32,2)"`
	Status       SettlementStatus `gorm:"column:status;type:varchar(16);not null"`
	Reason       string           `gorm:"column:reason;type:varchar(255)"`
	SettledAt    time.Time        `gorm:"column:settled_at"`
}

// TableName 指定表名
func (Settlement) TableName() string {
	return "fund_settlements"
}

// SettlementRepository 结算流水仓储接口
type SettlementRepository interface {
	Save(ctx context.Context, settlement *Settlement) error
	GetByTradeID(ctx context.Context, tradeID string) (*Settlement, error)
	GetByUser(ctx context.Context, userID string, limit int) ([]*Settlement, error)
}
