// 包 mysql 账务模块的 MySQL 仓储实现
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/tradesim/fundaccounting/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository 创建账户仓储
func NewAccountRepository(db *gorm.DB) domain.AccountRepository {
	return &accountRepository{db: db}
}

// Save 按 (用户, 账户桶, 货币) 幂等落余额，冲突时只更新余额
func (r *accountRepository) Save(ctx context.Context, account *domain.Account) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "account_type"}, {Name: "currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
	}).Create(account).Error
}

func (r *accountRepository) Get(ctx context.Context, userID string, accountType domain.AccountType, currency string) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND account_type = ? AND currency = ?", userID, accountType, currency).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %s/%s", domain.ErrAccountNotFound, userID, accountType, currency)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	var accounts []*domain.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&accounts).Error
	return accounts, err
}

// ExecWithBarrier 在 DTM 事务屏障内执行业务函数。
// barrier 为 *dtmcli.BranchBarrier 时走屏障（空补偿/悬挂/重复请求
// 由屏障表幂等拦截）；否则退化为普通本地事务。
func (r *accountRepository) ExecWithBarrier(ctx context.Context, barrier any, fn func(ctx context.Context) error) error {
	bb, ok := barrier.(*dtmcli.BranchBarrier)
	if !ok {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx)
		})
	}

	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to obtain sql db for barrier: %w", err)
	}
	return bb.CallWithDB(sqlDB, func(tx *sql.Tx) error {
		return fn(ctx)
	})
}
