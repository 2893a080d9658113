package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

// BalanceGuard 成交前余额守卫。
// 目标账户余额不足时从 DEBIT 桶补款：补款金额在严格需求之上预留
// 缓冲系数（吸收检查与成交之间的价格波动），DEBIT 按补款金额的
// 基础币种等值扣减，并生成一条现金流留痕。
type BalanceGuard struct {
	ledger    *Ledger
	converter *fxdomain.Converter
	recorder  Recorder
	publisher EventPublisher
	idgen     *utils.SnowflakeID

	// 记账基础币种
	baseCurrency string
	// 补款缓冲系数（如 1.10）
	extraBalanceFactor decimal.Decimal

	logger *slog.Logger
}

// NewBalanceGuard 创建余额守卫
func NewBalanceGuard(
	ledger *Ledger,
	converter *fxdomain.Converter,
	recorder Recorder,
	idgen *utils.SnowflakeID,
	baseCurrency string,
	extraBalanceFactor decimal.Decimal,
	logger *slog.Logger,
) *BalanceGuard {
	return &BalanceGuard{
		ledger:             ledger,
		converter:          converter,
		recorder:           recorder,
		idgen:              idgen,
		baseCurrency:       baseCurrency,
		extraBalanceFactor: extraBalanceFactor,
		logger:             logger.With("module", "balance_guard"),
	}
}

// SetPublisher 注入事件发布器
func (g *BalanceGuard) SetPublisher(publisher EventPublisher) {
	g.publisher = publisher
}

// CheckAccountBalanceBeforeFill 成交前余额充足性检查。
// 仅接受 CREDIT/SHORT_CREDIT；其他账户桶属于调用方编程错误。
// 返回后保证 GetBalance(accountType, currency) > requiredAmount。
// 任何协作方缺失或转账失败都使本次成交不可继续。
func (g *BalanceGuard) CheckAccountBalanceBeforeFill(
	ctx context.Context,
	accountType AccountType,
	currency string,
	requiredAmount decimal.Decimal,
	ts time.Time,
) error {
	if !accountType.GuardEligible() {
		return fmt.Errorf("%w: balance guard only accepts CREDIT or SHORT_CREDIT, got %s",
			ErrUnsupportedAccountType, accountType)
	}
	if g.converter == nil {
		return ErrConverterNotConfigured
	}
	if g.recorder == nil {
		return ErrRecorderNotConfigured
	}

	balance := g.ledger.GetBalance(accountType, currency)
	if balance.GreaterThan(requiredAmount) {
		return nil
	}

	transferFunds := g.extraBalanceFactor.
		Mul(requiredAmount.Abs()).
		Sub(balance.Abs()).
		Round(2)

	// DEBIT 按基础币种等值扣减
	baseAmount := g.converter.Convert(ctx, transferFunds, currency, g.baseCurrency).Round(2)

	if err := g.ledger.UpdateBalance(ctx, AccountTypeDebit, g.baseCurrency, baseAmount.Neg(), ts); err != nil {
		return fmt.Errorf("failed to draw down DEBIT for replenishment: %w", err)
	}
	if err := g.ledger.UpdateBalance(ctx, accountType, currency, transferFunds, ts); err != nil {
		return fmt.Errorf("failed to deposit replenishment into %s: %w", accountType, err)
	}

	record := &CashFlowRecord{
		TransferID:   g.idgen.GenerateString("XFER"),
		UserID:       g.ledger.UserID(),
		FromAccount:  AccountTypeDebit,
		FromCurrency: g.baseCurrency,
		FromFX:       g.converter.GetRate(ctx, g.baseCurrency, g.baseCurrency),
		FromAmount:   baseAmount,
		ToAccount:    accountType,
		ToCurrency:   currency,
		ToFX:         g.converter.GetRate(ctx, currency, g.baseCurrency),
		ToAmount:     transferFunds,
		Description:  "balance replenishment before fill",
		Timestamp:    ts,
	}
	if err := g.recorder.RecordTransfer(ctx, record); err != nil {
		return fmt.Errorf("failed to record replenishment transfer: %w", err)
	}

	g.logger.InfoContext(ctx, "balance replenished",
		"user_id", g.ledger.UserID(),
		"account_type", accountType,
		"currency", currency,
		"required", requiredAmount,
		"transferred", transferFunds,
	)

	if g.publisher != nil {
		g.publisher.PublishBalanceReplenished(BalanceReplenishedEvent{
			BaseEvent:   BaseEvent{Timestamp: ts},
			UserID:      g.ledger.UserID(),
			AccountType: accountType,
			Currency:    currency,
			Amount:      transferFunds,
		})
	}

	return nil
}
