// 包 mysql 结算流水的 MySQL 仓储实现
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradesim/fundaccounting/internal/settlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository 创建结算流水仓储
func NewSettlementRepository(db *gorm.DB) domain.SettlementRepository {
	return &settlementRepository{db: db}
}

// Save 按 settlement_id 幂等落流水
func (r *settlementRepository) Save(ctx context.Context, settlement *domain.Settlement) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "settlement_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "reason", "realized_pnl", "settled_at", "updated_at"}),
	}).Create(settlement).Error
}

func (r *settlementRepository) GetByTradeID(ctx context.Context, tradeID string) (*domain.Settlement, error) {
	var settlement domain.Settlement
	err := r.db.WithContext(ctx).Where("trade_id = ?", tradeID).First(&settlement).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("settlement for trade %s not found", tradeID)
	}
	if err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *settlementRepository) GetByUser(ctx context.Context, userID string, limit int) ([]*domain.Settlement, error) {
	var settlements []*domain.Settlement
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&settlements).Error
	return settlements, err
}
