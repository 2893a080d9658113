package application

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	accapp "github.com/tradesim/fundaccounting/internal/account/application"
	accdomain "github.com/tradesim/fundaccounting/internal/account/domain"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	posapp "github.com/tradesim/fundaccounting/internal/position/application"
	"github.com/tradesim/fundaccounting/internal/settlement/domain"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

type managerFixture struct {
	settlement *SettlementManager
	accounts   *accapp.AccountManager
	positions  *posapp.PositionManager
}

// 纯内存模式：仓储与指标全部留空
func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()

	logger := slog.Default()
	converter := fxdomain.NewConverter(nil, logger)
	idgen := utils.NewSnowflakeID(1)

	accounts := accapp.NewAccountManager(nil, nil, nil, converter, idgen,
		"USD", decimal.RequireFromString("1.10"), logger)
	positions := posapp.NewPositionManager(nil, nil, nil, nil, nil, logger)
	settlement := NewSettlementManager(accounts, positions, converter, nil, nil,
		idgen, nil, "USD", logger)

	return &managerFixture{settlement: settlement, accounts: accounts, positions: positions}
}

func (f *managerFixture) balance(t *testing.T, accountType accdomain.AccountType, currency string) decimal.Decimal {
	t.Helper()
	balance, err := f.accounts.GetBalance(context.Background(), "u1", accountType, currency)
	require.NoError(t, err)
	return balance
}

func newFill(tradeID string, side domain.Side, initial domain.InitialSide, riskOff bool, qty, price string) *domain.Fill {
	now := time.Now()
	return &domain.Fill{
		TradeID:        tradeID,
		UserID:         "u1",
		Instrument:     "AAPL",
		Currency:       "USD",
		Side:           side,
		InitialSide:    initial,
		IsRiskOff:      riskOff,
		Quantity:       decimal.RequireFromString(qty),
		ImpactedPrice:  decimal.RequireFromString(price),
		StartTimestamp: now,
		EndTimestamp:   now.Add(time.Second),
	}
}

// 入金 100 万后空仓买入 100 股 @50：补款 5500，
// 结算扣 5000，CREDIT 剩 500，持仓 100 股成本 50
func TestSettleFillFlatBuy(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.accounts.Deposit(ctx, "u1", "USD",
		decimal.NewFromInt(1000000), time.Now()))

	fill := newFill("T1", domain.SideBuy, domain.InitialSideFlat, false, "100", "50")
	result, err := f.settlement.SettleFill(ctx, fill)
	require.NoError(t, err)
	assert.False(t, result.IsDeposit)

	assert.True(t, f.balance(t, accdomain.AccountTypeCredit, "USD").Equal(decimal.NewFromInt(500)))
	assert.True(t, f.balance(t, accdomain.AccountTypeDebit, "USD").Equal(decimal.NewFromInt(994500)))

	positions := f.positions.GetPositions("u1", true)
	require.Len(t, positions, 1)
	assert.True(t, positions["AAPL"].Quantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, positions["AAPL"].AvgPrice.Equal(decimal.NewFromInt(50)))
}

// 买入后平仓卖出，实现盈亏按成本价结转
func TestSettleFillRoundTripRealizesPnL(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.accounts.Deposit(ctx, "u1", "USD",
		decimal.NewFromInt(1000000), time.Now()))

	_, err := f.settlement.SettleFill(ctx,
		newFill("T1", domain.SideBuy, domain.InitialSideFlat, false, "100", "50"))
	require.NoError(t, err)

	result, err := f.settlement.SettleFill(ctx,
		newFill("T2", domain.SideSell, domain.InitialSideLong, true, "100", "60"))
	require.NoError(t, err)

	// (60 - 50) * 100 = 1000
	assert.True(t, result.RealizedPnL.Equal(decimal.NewFromInt(1000)), "got %s", result.RealizedPnL)
	assert.True(t, result.IsDeposit)

	// 平仓回款 6000 存入 CREDIT：500 + 6000
	assert.True(t, f.balance(t, accdomain.AccountTypeCredit, "USD").Equal(decimal.NewFromInt(6500)))

	positions := f.positions.GetPositions("u1", true)
	assert.True(t, positions["AAPL"].Quantity.IsZero())
	assert.True(t, positions["AAPL"].ITDRealizedPnL.Equal(decimal.NewFromInt(1000)))
}

// 风险平退方向缺失是数据错误，整笔结算中止
func TestSettleFillRejectsUnknownInitialSide(t *testing.T) {
	f := newManagerFixture(t)

	fill := newFill("T1", domain.SideBuy, domain.InitialSideFlat, true, "100", "50")
	_, err := f.settlement.SettleFill(context.Background(), fill)
	assert.ErrorIs(t, err, domain.ErrUnknownInitialSide)
}

func TestGetSettlementWithoutRepository(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.settlement.GetSettlement(context.Background(), "T1")
	assert.Error(t, err)
}

// 结算与补款都是内部划转，不得计入收益引擎的外部现金流
func TestSettlementLegsStayOutOfCycleFlows(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.accounts.Deposit(ctx, "u1", "USD",
		decimal.NewFromInt(1000000), time.Now()))

	recorder, err := f.accounts.Recorder(ctx, "u1")
	require.NoError(t, err)

	flows := recorder.CycleFlows()
	assert.True(t, flows["USD"].Equal(decimal.NewFromInt(1000000)), "got %s", flows["USD"])
	recorder.ResetCycle()

	_, err = f.settlement.SettleFill(ctx,
		newFill("T1", domain.SideBuy, domain.InitialSideFlat, false, "100", "50"))
	require.NoError(t, err)
	_, err = f.settlement.SettleFill(ctx,
		newFill("T2", domain.SideSell, domain.InitialSideLong, true, "100", "60"))
	require.NoError(t, err)

	assert.Empty(t, recorder.CycleFlows(),
		"a settled round trip must not register as external cash flow")
}

type memorySettlementRepo struct {
	mu          sync.Mutex
	settlements map[string]*domain.Settlement
}

func newMemorySettlementRepo() *memorySettlementRepo {
	return &memorySettlementRepo{settlements: make(map[string]*domain.Settlement)}
}

func (r *memorySettlementRepo) Save(_ context.Context, settlement *domain.Settlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settlements[settlement.TradeID] = settlement
	return nil
}

func (r *memorySettlementRepo) GetByTradeID(_ context.Context, tradeID string) (*domain.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settlements[tradeID], nil
}

func (r *memorySettlementRepo) GetByUser(_ context.Context, userID string, _ int) ([]*domain.Settlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Settlement, 0, len(r.settlements))
	for _, s := range r.settlements {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

// 落库时间戳必须来自注入的时间来源，仿真运行产出仿真时间
func TestSettledAtComesFromInjectedClock(t *testing.T) {
	logger := slog.Default()
	converter := fxdomain.NewConverter(nil, logger)
	idgen := utils.NewSnowflakeID(1)
	simTime := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	clock := timesource.NewSimulatedClock(simTime, time.Second)
	repo := newMemorySettlementRepo()

	accounts := accapp.NewAccountManager(nil, nil, nil, converter, idgen,
		"USD", decimal.RequireFromString("1.10"), logger)
	positions := posapp.NewPositionManager(nil, nil, nil, nil, clock, logger)
	settlement := NewSettlementManager(accounts, positions, converter, repo, nil,
		idgen, clock, "USD", logger)

	ctx := context.Background()
	require.NoError(t, accounts.Deposit(ctx, "u1", "USD",
		decimal.NewFromInt(1000000), simTime))

	_, err := settlement.SettleFill(ctx,
		newFill("T1", domain.SideBuy, domain.InitialSideFlat, false, "100", "50"))
	require.NoError(t, err)

	record, err := settlement.GetSettlement(ctx, "T1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, domain.SettlementStatusSettled, record.Status)
	assert.True(t, record.SettledAt.Equal(simTime), "got %s", record.SettledAt)

	// 仿真时间推进后，后续结算落新的仿真时刻
	advanced := simTime.Add(time.Hour)
	clock.Advance(advanced)
	_, err = settlement.SettleFill(ctx,
		newFill("T2", domain.SideBuy, domain.InitialSideLong, false, "50", "50"))
	require.NoError(t, err)

	record, err = settlement.GetSettlement(ctx, "T2")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.SettledAt.Equal(advanced), "got %s", record.SettledAt)
}
