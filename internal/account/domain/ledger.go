package domain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger 单用户余额账本。
// 持有该用户全部 (账户桶, 货币) 余额；所有变更在账本互斥锁内完成并
// 透写仓储。透支防护不在此层：CREDIT/SHORT_CREDIT 路径的充足性检查
// 必须在调用 UpdateBalance 之前由 BalanceGuard 完成。
type Ledger struct {
	userID string

	mu       sync.Mutex
	balances map[string]decimal.Decimal

	repo      AccountRepository
	publisher EventPublisher
}

// NewLedger 创建用户账本。repo 与 publisher 可为 nil（纯内存模式，用于测试与仿真）。
func NewLedger(userID string, repo AccountRepository, publisher EventPublisher) *Ledger {
	return &Ledger{
		userID:   userID,
		balances: make(map[string]decimal.Decimal),
		repo:     repo,
		publisher: publisher,
	}
}

// UserID 返回账本所属用户
func (l *Ledger) UserID() string {
	return l.userID
}

// Hydrate 用已持久化的账户集初始化余额（服务启动恢复用）
func (l *Ledger) Hydrate(accounts []*Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, acc := range accounts {
		l.balances[acc.Key()] = acc.Balance
	}
}

// GetBalance 读取 (账户桶, 货币) 余额；不存在视为 0。
func (l *Ledger) GetBalance(accountType AccountType, currency string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[BalanceKey(accountType, currency)]
}

// UpdateBalance 对 (账户桶, 货币) 施加带符号增量。
// 条目不存在时先以 0 余额隐式创建；此处不做符号/透支校验。
func (l *Ledger) UpdateBalance(ctx context.Context, accountType AccountType, currency string, delta decimal.Decimal, ts time.Time) error {
	if !accountType.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedAccountType, accountType)
	}

	l.mu.Lock()
	key := BalanceKey(accountType, currency)
	balance := l.balances[key].Add(delta)
	l.balances[key] = balance
	l.mu.Unlock()

	if l.repo != nil {
		account := &Account{
			UserID:      l.userID,
			AccountType: accountType,
			Currency:    currency,
			Balance:     balance,
		}
		if err := l.repo.Save(ctx, account); err != nil {
			return fmt.Errorf("failed to persist balance update: %w", err)
		}
	}

	if l.publisher != nil {
		l.publisher.PublishBalanceChanged(BalanceChangedEvent{
			BaseEvent:   BaseEvent{Timestamp: ts},
			UserID:      l.userID,
			AccountType: accountType,
			Currency:    currency,
			Delta:       delta,
			Balance:     balance,
		})
	}

	return nil
}

// Balances 返回全部余额的快照拷贝
func (l *Ledger) Balances() map[string]decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(l.balances))
	for k, v := range l.balances {
		out[k] = v
	}
	return out
}
