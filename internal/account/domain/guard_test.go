package domain

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

type staticRates struct {
	rates map[string]decimal.Decimal
}

func (p *staticRates) GetRate(_ context.Context, from, to string) (*fxdomain.ExchangeRate, error) {
	rate, ok := p.rates[from+to]
	if !ok {
		return nil, fxdomain.ErrRateNotFound
	}
	return &fxdomain.ExchangeRate{BaseCurrency: from, QuoteCurrency: to, Rate: rate}, nil
}

func newGuardFixture(t *testing.T, rates map[string]decimal.Decimal) (*BalanceGuard, *Ledger, *MemoryRecorder) {
	t.Helper()

	ledger := NewLedger("u1", nil, nil)
	recorder := NewMemoryRecorder(nil)
	converter := fxdomain.NewConverter(&staticRates{rates: rates}, slog.Default())
	guard := NewBalanceGuard(ledger, converter, recorder, utils.NewSnowflakeID(1),
		"USD", decimal.RequireFromString("1.10"), slog.Default())
	return guard, ledger, recorder
}

func TestGuardRejectsNonCreditAccounts(t *testing.T) {
	guard, _, _ := newGuardFixture(t, nil)

	err := guard.CheckAccountBalanceBeforeFill(context.Background(),
		AccountTypeDebit, "USD", decimal.NewFromInt(100), time.Now())
	assert.ErrorIs(t, err, ErrUnsupportedAccountType)

	err = guard.CheckAccountBalanceBeforeFill(context.Background(),
		AccountTypeInvestor, "USD", decimal.NewFromInt(100), time.Now())
	assert.ErrorIs(t, err, ErrUnsupportedAccountType)
}

func TestGuardSufficientBalanceIsNoOp(t *testing.T) {
	guard, ledger, recorder := newGuardFixture(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeCredit, "USD", decimal.NewFromInt(6000), now))
	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeDebit, "USD", decimal.NewFromInt(1000), now))

	err := guard.CheckAccountBalanceBeforeFill(ctx, AccountTypeCredit, "USD", decimal.NewFromInt(5000), now)
	require.NoError(t, err)

	assert.True(t, ledger.GetBalance(AccountTypeCredit, "USD").Equal(decimal.NewFromInt(6000)))
	assert.True(t, ledger.GetBalance(AccountTypeDebit, "USD").Equal(decimal.NewFromInt(1000)))
	assert.Empty(t, recorder.Records())
}

func TestGuardReplenishesWithBuffer(t *testing.T) {
	guard, ledger, recorder := newGuardFixture(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeDebit, "USD", decimal.NewFromInt(1000000), now))

	required := decimal.NewFromInt(5000)
	err := guard.CheckAccountBalanceBeforeFill(ctx, AccountTypeCredit, "USD", required, now)
	require.NoError(t, err)

	// 1.10 * 5000 - 0 = 5500
	credit := ledger.GetBalance(AccountTypeCredit, "USD")
	debit := ledger.GetBalance(AccountTypeDebit, "USD")
	assert.True(t, credit.Equal(decimal.NewFromInt(5500)), "got %s", credit)
	assert.True(t, debit.Equal(decimal.NewFromInt(994500)), "got %s", debit)

	// 补款后必须严格覆盖所需金额
	assert.True(t, credit.GreaterThan(required))

	records := recorder.Records()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, AccountTypeDebit, record.FromAccount)
	assert.Equal(t, AccountTypeCredit, record.ToAccount)
	assert.True(t, record.FromAmount.Equal(decimal.NewFromInt(5500)))
	assert.True(t, record.ToAmount.Equal(decimal.NewFromInt(5500)))
	assert.True(t, record.FromFX.Equal(decimal.NewFromInt(1)), "base to base leg records rate 1")
}

func TestGuardReplenishesAtExactBoundary(t *testing.T) {
	guard, ledger, _ := newGuardFixture(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeDebit, "USD", decimal.NewFromInt(10000), now))
	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeCredit, "USD", decimal.NewFromInt(5000), now))

	// balance == required 仍视为不足
	err := guard.CheckAccountBalanceBeforeFill(ctx, AccountTypeCredit, "USD", decimal.NewFromInt(5000), now)
	require.NoError(t, err)

	// 1.10 * 5000 - 5000 = 500
	credit := ledger.GetBalance(AccountTypeCredit, "USD")
	assert.True(t, credit.Equal(decimal.NewFromInt(5500)), "got %s", credit)
}

func TestGuardCrossCurrencyConservation(t *testing.T) {
	guard, ledger, recorder := newGuardFixture(t, map[string]decimal.Decimal{
		"EURUSD": decimal.RequireFromString("1.08"),
	})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeDebit, "USD", decimal.NewFromInt(100000), now))

	err := guard.CheckAccountBalanceBeforeFill(ctx, AccountTypeCredit, "EUR", decimal.NewFromInt(1000), now)
	require.NoError(t, err)

	// 转入 1100 EUR，DEBIT 按基础币种等值扣减 1100*1.08 = 1188 USD
	assert.True(t, ledger.GetBalance(AccountTypeCredit, "EUR").Equal(decimal.NewFromInt(1100)))
	assert.True(t, ledger.GetBalance(AccountTypeDebit, "USD").Equal(decimal.NewFromInt(98812)))

	records := recorder.Records()
	require.Len(t, records, 1)
	record := records[0]

	// 双腿基础币种等值可核对：from_amount*from_fx == to_amount*to_fx
	fromBase := record.FromAmount.Mul(record.FromFX)
	toBase := record.ToAmount.Mul(record.ToFX)
	assert.True(t, fromBase.Equal(toBase), "from %s != to %s", fromBase, toBase)
}

func TestGuardMissingCollaboratorsIsFatal(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)
	idgen := utils.NewSnowflakeID(1)

	noConverter := NewBalanceGuard(ledger, nil, NewMemoryRecorder(nil), idgen,
		"USD", decimal.RequireFromString("1.10"), slog.Default())
	err := noConverter.CheckAccountBalanceBeforeFill(context.Background(),
		AccountTypeCredit, "USD", decimal.NewFromInt(100), time.Now())
	assert.ErrorIs(t, err, ErrConverterNotConfigured)

	converter := fxdomain.NewConverter(&staticRates{}, slog.Default())
	noRecorder := NewBalanceGuard(ledger, converter, nil, idgen,
		"USD", decimal.RequireFromString("1.10"), slog.Default())
	err = noRecorder.CheckAccountBalanceBeforeFill(context.Background(),
		AccountTypeCredit, "USD", decimal.NewFromInt(100), time.Now())
	assert.ErrorIs(t, err, ErrRecorderNotConfigured)
}
