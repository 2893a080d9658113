package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	accdomain "github.com/tradesim/fundaccounting/internal/account/domain"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	posdomain "github.com/tradesim/fundaccounting/internal/position/domain"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

// Engine 单用户结算引擎。
// 以 (初始方向, 是否减仓, 订单方向) 三元组路由一笔成交的
// 成交前检查与成交后调账；两个公开操作各自全程持锁，同一用户
// 的成交按调用顺序串行落账。
type Engine struct {
	mu sync.Mutex

	ledger    *accdomain.Ledger
	guard     *accdomain.BalanceGuard
	recorder  accdomain.Recorder
	converter *fxdomain.Converter
	book      *posdomain.Book
	idgen     *utils.SnowflakeID

	baseCurrency string

	logger *slog.Logger
}

// NewEngine 创建结算引擎
func NewEngine(
	ledger *accdomain.Ledger,
	guard *accdomain.BalanceGuard,
	recorder accdomain.Recorder,
	converter *fxdomain.Converter,
	book *posdomain.Book,
	idgen *utils.SnowflakeID,
	baseCurrency string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:       ledger,
		guard:        guard,
		recorder:     recorder,
		converter:    converter,
		book:         book,
		idgen:        idgen,
		baseCurrency: baseCurrency,
		logger:       logger.With("module", "settlement_engine", "user_id", ledger.UserID()),
	}
}

// Result 单笔成交的结算结果
type Result struct {
	// 结算金额（2 位小数）
	Amount decimal.Decimal
	// 被调账的账户桶
	AccountType accdomain.AccountType
	// 本次入账为存入（true）还是支取（false）
	IsDeposit bool
	// 平仓已实现盈亏（未记账时为 0）
	RealizedPnL decimal.Decimal
	// 本次被平掉的数量
	ClosedQuantity decimal.Decimal
}

// CheckBalanceBeforeFill 成交前余额检查。
//
//	加仓: 初始多头或空仓买入检查 CREDIT，初始空头不检查，空仓卖出不检查
//	减仓: 初始空头检查 SHORT_CREDIT，初始多头不检查，空仓属于致命的数据不一致
func (e *Engine) CheckBalanceBeforeFill(ctx context.Context, fill *Fill) error {
	if err := fill.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	required := fill.Notional()

	if !fill.IsRiskOff {
		switch fill.InitialSide {
		case InitialSideLong:
			return e.guard.CheckAccountBalanceBeforeFill(ctx, accdomain.AccountTypeCredit, fill.Currency, required, fill.StartTimestamp)
		case InitialSideShort:
			return nil
		case InitialSideFlat:
			if fill.Side == SideBuy {
				return e.guard.CheckAccountBalanceBeforeFill(ctx, accdomain.AccountTypeCredit, fill.Currency, required, fill.StartTimestamp)
			}
			return nil
		}
	}

	switch fill.InitialSide {
	case InitialSideLong:
		return nil
	case InitialSideShort:
		return e.guard.CheckAccountBalanceBeforeFill(ctx, accdomain.AccountTypeShortCredit, fill.Currency, required, fill.StartTimestamp)
	default:
		return fmt.Errorf("%w: trade %s", ErrUnknownInitialSide, fill.TradeID)
	}
}

// AdjustBalanceAfterFill 成交后调账。
// 与成交前检查同表路由：开多支取 CREDIT（成交开始时刻），开空存入
// SHORT_CREDIT（成交结束时刻），平多存入 CREDIT（成交结束时刻），
// 平空支取 SHORT_CREDIT（成交开始时刻）。每次调账生成一条现金流；
// 标的已知的减仓成交另将平仓价差记入持仓的日内已实现盈亏。
func (e *Engine) AdjustBalanceAfterFill(ctx context.Context, fill *Fill) (*Result, error) {
	if err := fill.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	amount := fill.Notional()
	result := &Result{Amount: amount}

	var (
		accountType accdomain.AccountType
		delta       decimal.Decimal
		ts          time.Time
	)

	switch {
	case !fill.IsRiskOff && (fill.InitialSide == InitialSideLong || (fill.InitialSide == InitialSideFlat && fill.Side == SideBuy)):
		// 开多
		accountType = accdomain.AccountTypeCredit
		delta = amount.Neg()
		ts = fill.StartTimestamp
	case !fill.IsRiskOff:
		// 开空（初始空头，或空仓卖出）
		accountType = accdomain.AccountTypeShortCredit
		delta = amount
		ts = fill.EndTimestamp
	case fill.InitialSide == InitialSideLong:
		// 平多
		accountType = accdomain.AccountTypeCredit
		delta = amount
		ts = fill.EndTimestamp
	case fill.InitialSide == InitialSideShort:
		// 平空
		accountType = accdomain.AccountTypeShortCredit
		delta = amount.Neg()
		ts = fill.StartTimestamp
	default:
		return nil, fmt.Errorf("%w: trade %s", ErrUnknownInitialSide, fill.TradeID)
	}

	if fill.IsRiskOff {
		realized, closed, err := e.bookRealizedPnL(fill)
		if err != nil {
			return nil, err
		}
		result.RealizedPnL = realized
		result.ClosedQuantity = closed
	}

	if err := e.ledger.UpdateBalance(ctx, accountType, fill.Currency, delta, ts); err != nil {
		return nil, fmt.Errorf("failed to adjust %s balance for trade %s: %w", accountType, fill.TradeID, err)
	}
	result.AccountType = accountType
	result.IsDeposit = delta.Sign() > 0

	rate := e.converter.GetRate(ctx, fill.Currency, e.baseCurrency)
	record := &accdomain.CashFlowRecord{
		TransferID:   e.idgen.GenerateString("STL"),
		UserID:       e.ledger.UserID(),
		FromAccount:  accountType,
		FromCurrency: fill.Currency,
		FromFX:       rate,
		FromAmount:   amount,
		ToAccount:    accountType,
		ToCurrency:   fill.Currency,
		ToFX:         rate,
		ToAmount:     amount,
		IsInflow:     result.IsDeposit,
		TradeID:      fill.TradeID,
		Instrument:   fill.Instrument,
		Description:  "fill settlement",
		Timestamp:    ts,
	}
	if err := e.recorder.RecordTransfer(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record settlement cash flow for trade %s: %w", fill.TradeID, err)
	}

	e.logger.InfoContext(ctx, "fill settled",
		"trade_id", fill.TradeID,
		"instrument", fill.Instrument,
		"account_type", accountType,
		"amount", amount,
		"is_deposit", result.IsDeposit,
		"realized_pnl", result.RealizedPnL,
	)

	return result, nil
}

// bookRealizedPnL 将减仓成交的平仓价差记入日内已实现盈亏。
// 平掉数量以持仓方向取号（多头为正，空头为负），
// 盈亏 = (含冲击成交价 - 成本价) * 平掉数量。
func (e *Engine) bookRealizedPnL(fill *Fill) (decimal.Decimal, decimal.Decimal, error) {
	if fill.Instrument == "" {
		e.logger.Warn("risk-off fill without instrument, skipping realized pnl booking",
			"trade_id", fill.TradeID)
		return decimal.Zero, decimal.Zero, nil
	}

	pos, ok := e.book.GetPosition(fill.Instrument, true)
	if !ok {
		return decimal.Zero, decimal.Zero,
			fmt.Errorf("%w: cannot close %s for trade %s", posdomain.ErrPositionNotFound, fill.Instrument, fill.TradeID)
	}

	closedQty := fill.Quantity
	if fill.InitialSide == InitialSideShort {
		closedQty = closedQty.Neg()
	}
	realized := fill.ImpactedPrice.Sub(pos.AvgPrice).Mul(closedQty).Round(2)

	if err := e.book.AddRealizedPnL(fill.Instrument, realized); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return realized, closedQty, nil
}
