package domain

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerDefaultBalanceIsZero(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)

	balance := ledger.GetBalance(AccountTypeCredit, "USD")
	assert.True(t, balance.IsZero())
}

func TestLedgerUpdateBalanceCreatesImplicitly(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeDebit, "USD", decimal.NewFromInt(1000), now))
	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeDebit, "USD", decimal.NewFromInt(-300), now))

	balance := ledger.GetBalance(AccountTypeDebit, "USD")
	assert.True(t, balance.Equal(decimal.NewFromInt(700)), "got %s", balance)
}

func TestLedgerBalancesAreCurrencyScoped(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeCredit, "USD", decimal.NewFromInt(100), now))
	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeCredit, "EUR", decimal.NewFromInt(200), now))

	assert.True(t, ledger.GetBalance(AccountTypeCredit, "USD").Equal(decimal.NewFromInt(100)))
	assert.True(t, ledger.GetBalance(AccountTypeCredit, "EUR").Equal(decimal.NewFromInt(200)))
}

func TestLedgerRejectsUnknownAccountType(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)

	err := ledger.UpdateBalance(context.Background(), AccountType("BOGUS"), "USD", decimal.NewFromInt(1), time.Now())
	assert.ErrorIs(t, err, ErrUnsupportedAccountType)
}

func TestLedgerBalancesSnapshotIsACopy(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)
	ctx := context.Background()

	require.NoError(t, ledger.UpdateBalance(ctx, AccountTypeCredit, "USD", decimal.NewFromInt(50), time.Now()))

	snapshot := ledger.Balances()
	snapshot[BalanceKey(AccountTypeCredit, "USD")] = decimal.NewFromInt(999)

	assert.True(t, ledger.GetBalance(AccountTypeCredit, "USD").Equal(decimal.NewFromInt(50)))
}

func TestLedgerHydrate(t *testing.T) {
	ledger := NewLedger("u1", nil, nil)
	ledger.Hydrate([]*Account{
		{UserID: "u1", AccountType: AccountTypeDebit, Currency: "USD", Balance: decimal.NewFromInt(1000000)},
		{UserID: "u1", AccountType: AccountTypeCredit, Currency: "USD", Balance: decimal.NewFromInt(500)},
	})

	assert.True(t, ledger.GetBalance(AccountTypeDebit, "USD").Equal(decimal.NewFromInt(1000000)))
	assert.True(t, ledger.GetBalance(AccountTypeCredit, "USD").Equal(decimal.NewFromInt(500)))
}

func TestMemoryRecorderCycleFlows(t *testing.T) {
	recorder := NewMemoryRecorder(nil)
	ctx := context.Background()

	require.NoError(t, recorder.RecordTransfer(ctx, &CashFlowRecord{
		TransferID:  "T1",
		FromAccount: AccountTypeInvestor,
		ToAccount:   AccountTypeDebit,
		ToCurrency:  "USD",
		ToAmount:    decimal.NewFromInt(100),
		IsInflow:    true,
	}))
	require.NoError(t, recorder.RecordTransfer(ctx, &CashFlowRecord{
		TransferID:  "T2",
		FromAccount: AccountTypeInvestor,
		ToAccount:   AccountTypeDebit,
		ToCurrency:  "USD",
		ToAmount:    decimal.NewFromInt(40),
		IsInflow:    true,
	}))
	// 出金按净额扣减
	require.NoError(t, recorder.RecordTransfer(ctx, &CashFlowRecord{
		TransferID:  "T3",
		FromAccount: AccountTypeDebit,
		ToAccount:   AccountTypeInvestor,
		ToCurrency:  "USD",
		ToAmount:    decimal.NewFromInt(30),
		IsInflow:    false,
	}))
	// 内部划转（补款、结算调账）不进外部现金流
	require.NoError(t, recorder.RecordTransfer(ctx, &CashFlowRecord{
		TransferID:  "T4",
		FromAccount: AccountTypeCredit,
		ToAccount:   AccountTypeCredit,
		ToCurrency:  "USD",
		ToAmount:    decimal.NewFromInt(999),
		IsInflow:    true,
	}))
	require.NoError(t, recorder.RecordTransfer(ctx, &CashFlowRecord{
		TransferID:  "T5",
		FromAccount: AccountTypeDebit,
		ToAccount:   AccountTypeCredit,
		ToCurrency:  "USD",
		ToAmount:    decimal.NewFromInt(500),
		IsInflow:    true,
	}))

	flows := recorder.CycleFlows()
	require.Len(t, flows, 1)
	assert.True(t, flows["USD"].Equal(decimal.NewFromInt(110)), "got %s", flows["USD"])
	assert.Len(t, recorder.Records(), 5)

	recorder.ResetCycle()
	assert.Empty(t, recorder.CycleFlows())
	assert.Len(t, recorder.Records(), 5, "reset only clears cycle flows, not the audit trail")
}

type capturingPublisher struct {
	transfers []TransferRecordedEvent
}

func (p *capturingPublisher) PublishBalanceChanged(BalanceChangedEvent) {}
func (p *capturingPublisher) PublishTransferRecorded(event TransferRecordedEvent) {
	p.transfers = append(p.transfers, event)
}
func (p *capturingPublisher) PublishBalanceReplenished(BalanceReplenishedEvent) {}

func TestMemoryRecorderPublishesTransferEvent(t *testing.T) {
	recorder := NewMemoryRecorder(nil)
	publisher := &capturingPublisher{}
	recorder.SetPublisher(publisher)

	ts := time.Now()
	require.NoError(t, recorder.RecordTransfer(context.Background(), &CashFlowRecord{
		TransferID:  "T1",
		UserID:      "u1",
		FromAccount: AccountTypeInvestor,
		ToAccount:   AccountTypeDebit,
		ToCurrency:  "USD",
		FromAmount:  decimal.NewFromInt(100),
		ToAmount:    decimal.NewFromInt(100),
		IsInflow:    true,
		Timestamp:   ts,
	}))

	require.Len(t, publisher.transfers, 1)
	event := publisher.transfers[0]
	assert.Equal(t, "T1", event.TransferID)
	assert.Equal(t, "u1", event.UserID)
	assert.True(t, event.ToAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, ts, event.OccurredAt())
}
