package domain

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	accdomain "github.com/tradesim/fundaccounting/internal/account/domain"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	posdomain "github.com/tradesim/fundaccounting/internal/position/domain"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

type engineFixture struct {
	engine   *Engine
	ledger   *accdomain.Ledger
	recorder *accdomain.MemoryRecorder
	book     *posdomain.Book
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	logger := slog.Default()
	ledger := accdomain.NewLedger("u1", nil, nil)
	recorder := accdomain.NewMemoryRecorder(nil)
	converter := fxdomain.NewConverter(nil, logger)
	idgen := utils.NewSnowflakeID(1)
	guard := accdomain.NewBalanceGuard(ledger, converter, recorder, idgen,
		"USD", decimal.RequireFromString("1.10"), logger)
	book := posdomain.NewBook("u1", nil, nil, logger)

	return &engineFixture{
		engine:   NewEngine(ledger, guard, recorder, converter, book, idgen, "USD", logger),
		ledger:   ledger,
		recorder: recorder,
		book:     book,
	}
}

func (f *engineFixture) fund(t *testing.T, accountType accdomain.AccountType, currency string, amount string) {
	t.Helper()
	require.NoError(t, f.ledger.UpdateBalance(context.Background(), accountType, currency,
		decimal.RequireFromString(amount), time.Now()))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFill(side Side, initial InitialSide, riskOff bool, qty, price string) *Fill {
	now := time.Now()
	return &Fill{
		TradeID:        "T1",
		UserID:         "u1",
		Instrument:     "AAPL",
		Currency:       "USD",
		Side:           side,
		InitialSide:    initial,
		IsRiskOff:      riskOff,
		Quantity:       d(qty),
		ImpactedPrice:  d(price),
		StartTimestamp: now,
		EndTimestamp:   now.Add(time.Second),
	}
}

func TestCheckFlatBuyReplenishesCredit(t *testing.T) {
	f := newEngineFixture(t)
	f.fund(t, accdomain.AccountTypeDebit, "USD", "1000000")

	fill := newFill(SideBuy, InitialSideFlat, false, "100", "50")
	require.NoError(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill))

	// 1.10 * 5000 = 5500 从 DEBIT 补入 CREDIT
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeCredit, "USD").Equal(d("5500")))
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeDebit, "USD").Equal(d("994500")))
}

func TestCheckFlatSellNeedsNoBalance(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideSell, InitialSideFlat, false, "100", "50")
	require.NoError(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill))
	assert.Empty(t, f.recorder.Records())
}

func TestCheckInitialShortRiskOnNeedsNoBalance(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideSell, InitialSideShort, false, "100", "50")
	require.NoError(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill))
	assert.Empty(t, f.recorder.Records())
}

func TestCheckRiskOffLongNeedsNoBalance(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideSell, InitialSideLong, true, "100", "50")
	require.NoError(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill))
	assert.Empty(t, f.recorder.Records())
}

func TestCheckRiskOffShortReplenishesShortCredit(t *testing.T) {
	f := newEngineFixture(t)
	f.fund(t, accdomain.AccountTypeDebit, "USD", "100000")

	fill := newFill(SideBuy, InitialSideShort, true, "100", "50")
	require.NoError(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill))

	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeShortCredit, "USD").Equal(d("5500")))
}

func TestCheckRiskOffFlatIsFatal(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideBuy, InitialSideFlat, true, "100", "50")
	err := f.engine.CheckBalanceBeforeFill(context.Background(), fill)
	assert.ErrorIs(t, err, ErrUnknownInitialSide)

	_, err = f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	assert.ErrorIs(t, err, ErrUnknownInitialSide)
}

func TestAdjustOpenLongWithdrawsCredit(t *testing.T) {
	f := newEngineFixture(t)
	f.fund(t, accdomain.AccountTypeCredit, "USD", "5500")

	fill := newFill(SideBuy, InitialSideFlat, false, "100", "50")
	result, err := f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	require.NoError(t, err)

	assert.Equal(t, accdomain.AccountTypeCredit, result.AccountType)
	assert.False(t, result.IsDeposit)
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeCredit, "USD").Equal(d("500")))

	records := f.recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "T1", records[0].TradeID)
	assert.Equal(t, "AAPL", records[0].Instrument)
	assert.Equal(t, fill.StartTimestamp, records[0].Timestamp)
}

func TestAdjustOpenShortDepositsShortCredit(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideSell, InitialSideFlat, false, "100", "50")
	result, err := f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	require.NoError(t, err)

	assert.Equal(t, accdomain.AccountTypeShortCredit, result.AccountType)
	assert.True(t, result.IsDeposit)
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeShortCredit, "USD").Equal(d("5000")))

	records := f.recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, fill.EndTimestamp, records[0].Timestamp)
}

func TestAdjustCloseLongDepositsCreditAndBooksPnL(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	fill := newFill(SideSell, InitialSideLong, true, "40", "60")
	result, err := f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	require.NoError(t, err)

	// 平多：按成交结束时刻存入 CREDIT
	assert.True(t, result.IsDeposit)
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeCredit, "USD").Equal(d("2400")))

	// (60 - 50) * 40 = 400
	assert.True(t, result.RealizedPnL.Equal(d("400")), "got %s", result.RealizedPnL)
	pos, _ := f.book.GetPosition("AAPL", true)
	assert.True(t, pos.ITDRealizedPnL.Equal(d("400")))
}

func TestAdjustCloseShortWithdrawsShortCreditAndBooksPnL(t *testing.T) {
	f := newEngineFixture(t)
	f.fund(t, accdomain.AccountTypeShortCredit, "USD", "20000")
	_, err := f.book.UpdatePosition("AAPL", d("-100"), "USD", d("100"))
	require.NoError(t, err)

	fill := newFill(SideBuy, InitialSideShort, true, "50", "90")
	result, err := f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	require.NoError(t, err)

	// 平空：按成交开始时刻支取 SHORT_CREDIT
	assert.False(t, result.IsDeposit)
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeShortCredit, "USD").Equal(d("15500")))

	// (90 - 100) * (-50) = 500，空头在价格下跌时获利
	assert.True(t, result.RealizedPnL.Equal(d("500")), "got %s", result.RealizedPnL)
}

func TestAdjustCloseUnknownPositionFails(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideSell, InitialSideLong, true, "40", "60")
	_, err := f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	assert.ErrorIs(t, err, posdomain.ErrPositionNotFound)
	assert.Empty(t, f.recorder.Records(), "no ledger mutation on data inconsistency")
}

func TestAdjustRiskOffWithoutInstrumentSkipsPnL(t *testing.T) {
	f := newEngineFixture(t)
	f.fund(t, accdomain.AccountTypeCredit, "USD", "10000")

	fill := newFill(SideSell, InitialSideLong, true, "40", "60")
	fill.Instrument = ""

	result, err := f.engine.AdjustBalanceAfterFill(context.Background(), fill)
	require.NoError(t, err)
	assert.True(t, result.RealizedPnL.IsZero())
}

func TestFillValidation(t *testing.T) {
	f := newEngineFixture(t)

	fill := newFill(SideBuy, InitialSideFlat, false, "100", "50")
	fill.Quantity = decimal.Zero
	assert.ErrorIs(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill), ErrInvalidFill)

	fill = newFill(Side("HOLD"), InitialSideFlat, false, "100", "50")
	assert.ErrorIs(t, f.engine.CheckBalanceBeforeFill(context.Background(), fill), ErrInvalidFill)
}

// 端到端：空仓买入触发补款，结算后余额与持仓符合预期
func TestEndToEndFlatBuyWithReplenishment(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.fund(t, accdomain.AccountTypeDebit, "USD", "1000000")

	fill := newFill(SideBuy, InitialSideFlat, false, "100", "50")

	require.NoError(t, f.engine.CheckBalanceBeforeFill(ctx, fill))
	_, err := f.engine.AdjustBalanceAfterFill(ctx, fill)
	require.NoError(t, err)
	_, err = f.book.UpdatePosition(fill.Instrument, fill.SignedQuantity(), fill.Currency, fill.ImpactedPrice)
	require.NoError(t, err)

	// 5500 - 5000 = 500
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeCredit, "USD").Equal(d("500")))
	assert.True(t, f.ledger.GetBalance(accdomain.AccountTypeDebit, "USD").Equal(d("994500")))

	pos, ok := f.book.GetPosition("AAPL", true)
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("100")))
	assert.True(t, pos.AvgPrice.Equal(d("50")))

	// 一次补款 + 一次结算，两条现金流留痕
	assert.Len(t, f.recorder.Records(), 2)
}
