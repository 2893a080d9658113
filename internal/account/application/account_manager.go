// 包 application 账务模块的应用服务：用户账本注册表、出入金与 TCC 支持
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/account/domain"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

// ErrInsufficientFunds 出金余额不足
var ErrInsufficientFunds = errors.New("insufficient funds")

// userContext 单用户账务上下文：账本、现金流记录器与补款守卫
type userContext struct {
	ledger   *domain.Ledger
	recorder *domain.MemoryRecorder
	guard    *domain.BalanceGuard
}

// AccountManager 账务应用服务。
// 按用户惰性创建并登记账本、现金流记录器与补款守卫；
// 首次创建时从仓储水化已持久化余额。
type AccountManager struct {
	mu    sync.Mutex
	users map[string]*userContext

	repo      domain.AccountRepository
	flowRepo  domain.CashFlowRepository
	publisher domain.EventPublisher
	converter *fxdomain.Converter
	idgen     *utils.SnowflakeID

	// 落库记录器，挂在每个用户内存记录器之后（可为 nil）
	persistentRecorder domain.Recorder

	baseCurrency       string
	extraBalanceFactor decimal.Decimal

	logger *slog.Logger
}

// NewAccountManager 构造函数。repo/flowRepo/publisher/persistentRecorder 均可为 nil（纯内存模式）。
func NewAccountManager(
	repo domain.AccountRepository,
	flowRepo domain.CashFlowRepository,
	persistentRecorder domain.Recorder,
	converter *fxdomain.Converter,
	idgen *utils.SnowflakeID,
	baseCurrency string,
	extraBalanceFactor decimal.Decimal,
	logger *slog.Logger,
) *AccountManager {
	return &AccountManager{
		users:              make(map[string]*userContext),
		repo:               repo,
		flowRepo:           flowRepo,
		persistentRecorder: persistentRecorder,
		converter:          converter,
		idgen:              idgen,
		baseCurrency:       baseCurrency,
		extraBalanceFactor: extraBalanceFactor,
		logger:             logger.With("module", "account_manager"),
	}
}

// SetPublisher 注入事件发布器（启动期装配用）
func (m *AccountManager) SetPublisher(publisher domain.EventPublisher) {
	m.publisher = publisher
}

// contextFor 取或建用户账务上下文
func (m *AccountManager) contextFor(ctx context.Context, userID string) (*userContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uc, ok := m.users[userID]; ok {
		return uc, nil
	}

	ledger := domain.NewLedger(userID, m.repo, m.publisher)
	if m.repo != nil {
		accounts, err := m.repo.GetByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to hydrate ledger for user %s: %w", userID, err)
		}
		ledger.Hydrate(accounts)
	}

	recorder := domain.NewMemoryRecorder(m.persistentRecorder)
	guard := domain.NewBalanceGuard(ledger, m.converter, recorder, m.idgen,
		m.baseCurrency, m.extraBalanceFactor, m.logger)
	if m.publisher != nil {
		guard.SetPublisher(m.publisher)
		recorder.SetPublisher(m.publisher)
	}

	uc := &userContext{ledger: ledger, recorder: recorder, guard: guard}
	m.users[userID] = uc
	return uc, nil
}

// Ledger 取用户账本
func (m *AccountManager) Ledger(ctx context.Context, userID string) (*domain.Ledger, error) {
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.ledger, nil
}

// Recorder 取用户现金流记录器
func (m *AccountManager) Recorder(ctx context.Context, userID string) (*domain.MemoryRecorder, error) {
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.recorder, nil
}

// Guard 取用户补款守卫
func (m *AccountManager) Guard(ctx context.Context, userID string) (*domain.BalanceGuard, error) {
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.guard, nil
}

// GetBalance 查询用户 (账户桶, 货币) 余额
func (m *AccountManager) GetBalance(ctx context.Context, userID string, accountType domain.AccountType, currency string) (decimal.Decimal, error) {
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return uc.ledger.GetBalance(accountType, currency), nil
}

// GetBalances 查询用户全部余额快照
func (m *AccountManager) GetBalances(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.ledger.Balances(), nil
}

// Deposit 投资人入金：INVESTOR 桶过账进 DEBIT 资金储备桶并留痕
func (m *AccountManager) Deposit(ctx context.Context, userID, currency string, amount decimal.Decimal, ts time.Time) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %s", amount)
	}
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return err
	}

	amount = amount.Round(2)
	if err := uc.ledger.UpdateBalance(ctx, domain.AccountTypeDebit, currency, amount, ts); err != nil {
		return fmt.Errorf("failed to credit DEBIT on deposit: %w", err)
	}

	rate := m.converter.GetRate(ctx, currency, m.baseCurrency)
	record := &domain.CashFlowRecord{
		TransferID:   m.idgen.GenerateString("DEP"),
		UserID:       userID,
		FromAccount:  domain.AccountTypeInvestor,
		FromCurrency: currency,
		FromFX:       rate,
		FromAmount:   amount,
		ToAccount:    domain.AccountTypeDebit,
		ToCurrency:   currency,
		ToFX:         rate,
		ToAmount:     amount,
		IsInflow:     true,
		Description:  "investor deposit",
		Timestamp:    ts,
	}
	if err := uc.recorder.RecordTransfer(ctx, record); err != nil {
		return fmt.Errorf("failed to record deposit: %w", err)
	}

	m.logger.InfoContext(ctx, "investor deposit applied",
		"user_id", userID, "currency", currency, "amount", amount)
	return nil
}

// Withdraw 投资人出金：DEBIT 余额充足时过账回 INVESTOR 桶并留痕
func (m *AccountManager) Withdraw(ctx context.Context, userID, currency string, amount decimal.Decimal, ts time.Time) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %s", amount)
	}
	uc, err := m.contextFor(ctx, userID)
	if err != nil {
		return err
	}

	amount = amount.Round(2)
	balance := uc.ledger.GetBalance(domain.AccountTypeDebit, currency)
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: DEBIT/%s balance %s, requested %s",
			ErrInsufficientFunds, currency, balance, amount)
	}

	if err := uc.ledger.UpdateBalance(ctx, domain.AccountTypeDebit, currency, amount.Neg(), ts); err != nil {
		return fmt.Errorf("failed to debit DEBIT on withdrawal: %w", err)
	}

	rate := m.converter.GetRate(ctx, currency, m.baseCurrency)
	record := &domain.CashFlowRecord{
		TransferID:   m.idgen.GenerateString("WDR"),
		UserID:       userID,
		FromAccount:  domain.AccountTypeDebit,
		FromCurrency: currency,
		FromFX:       rate,
		FromAmount:   amount,
		ToAccount:    domain.AccountTypeInvestor,
		ToCurrency:   currency,
		ToFX:         rate,
		ToAmount:     amount,
		IsInflow:     false,
		Description:  "investor withdrawal",
		Timestamp:    ts,
	}
	if err := uc.recorder.RecordTransfer(ctx, record); err != nil {
		return fmt.Errorf("failed to record withdrawal: %w", err)
	}

	m.logger.InfoContext(ctx, "investor withdrawal applied",
		"user_id", userID, "currency", currency, "amount", amount)
	return nil
}

// GetCashFlows 分页查询用户现金流（落库口径）
func (m *AccountManager) GetCashFlows(ctx context.Context, userID string, limit, offset int) ([]*domain.CashFlowRecord, int64, error) {
	if m.flowRepo == nil {
		uc, err := m.contextFor(ctx, userID)
		if err != nil {
			return nil, 0, err
		}
		records := uc.recorder.Records()
		return records, int64(len(records)), nil
	}
	return m.flowRepo.GetByUser(ctx, userID, limit, offset)
}

// --- TCC Distributed Transaction Support ---

// TccTryDeposit TCC Try: 校验入金参数（资源预留由屏障表幂等保证）
func (m *AccountManager) TccTryDeposit(ctx context.Context, barrier any, userID, currency string, amount decimal.Decimal) error {
	return m.repo.ExecWithBarrier(ctx, barrier, func(ctx context.Context) error {
		if amount.Sign() <= 0 {
			return fmt.Errorf("deposit amount must be positive, got %s", amount)
		}
		return nil
	})
}

// TccConfirmDeposit TCC Confirm: 实际入账
func (m *AccountManager) TccConfirmDeposit(ctx context.Context, barrier any, userID, currency string, amount decimal.Decimal, ts time.Time) error {
	return m.repo.ExecWithBarrier(ctx, barrier, func(ctx context.Context) error {
		return m.Deposit(ctx, userID, currency, amount, ts)
	})
}

// TccCancelDeposit TCC Cancel: Try 未实际占用资源，空回滚
func (m *AccountManager) TccCancelDeposit(ctx context.Context, barrier any, userID, currency string, amount decimal.Decimal) error {
	return m.repo.ExecWithBarrier(ctx, barrier, func(ctx context.Context) error {
		return nil
	})
}
