// 包 mysql 持仓快照的 MySQL 仓储实现
package mysql

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/position/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PositionModel 持仓快照持久化模型
type PositionModel struct {
	gorm.Model
	UserID         string          `gorm:"column:user_id;type:varchar(32);uniqueIndex:idx_user_symbol;not null"`
	Symbol         string          `gorm:"column:symbol;type:varchar(20);uniqueIndex:idx_user_symbol;not null"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:decimal(32,8);not null"`
	TargetQuantity decimal.Decimal `gorm:"column:target_quantity;type:decimal(32,8);not null"`
	Currency       string          `gorm:"column:currency;type:varchar(10);not null"`
	AvgPrice       decimal.Decimal `gorm:"column:avg_price;type:decimal(32,2);not null"`
	MTMValue       decimal.Decimal `gorm:"column:mtm_value;type:decimal(32,2);not null"`
	SODRealizedPnL decimal.Decimal `gorm:"column:sod_realized_pnl;type:decimal(32,2);not null"`
	ITDRealizedPnL decimal.Decimal `gorm:"column:itd_realized_pnl;type:decimal(32,2);not null"`
	UnrealizedPnL  decimal.Decimal `gorm:"column:unrealized_pnl;type:decimal(32,8);not null"`
	MarkPrice      decimal.Decimal `gorm:"column:mark_price;type:decimal(32,8);not null"`
	MarkedAt       time.Time       `gorm:"column:marked_at;index"`
}

// TableName 指定表名
func (PositionModel) TableName() string {
	return "fund_positions"
}

// toDomain 持久化模型转领域实体
func (m *PositionModel) toDomain() *domain.Position {
	return &domain.Position{
		Symbol:         m.Symbol,
		Quantity:       m.Quantity,
		TargetQuantity: m.TargetQuantity,
		Currency:       m.Currency,
		AvgPrice:       m.AvgPrice,
		MTMValue:       m.MTMValue,
		SODRealizedPnL: m.SODRealizedPnL,
		ITDRealizedPnL: m.ITDRealizedPnL,
		RealizedPnL:    m.SODRealizedPnL.Add(m.ITDRealizedPnL),
		UnrealizedPnL:  m.UnrealizedPnL,
		MarkPrice:      m.MarkPrice,
	}
}

// fromDomain 领域实体转持久化模型
func fromDomain(userID string, pos *domain.Position, markedAt time.Time) *PositionModel {
	return &PositionModel{
		UserID:         userID,
		Symbol:         pos.Symbol,
		Quantity:       pos.Quantity,
		TargetQuantity: pos.TargetQuantity,
		Currency:       pos.Currency,
		AvgPrice:       pos.AvgPrice,
		MTMValue:       pos.MTMValue,
		SODRealizedPnL: pos.SODRealizedPnL,
		ITDRealizedPnL: pos.ITDRealizedPnL,
		UnrealizedPnL:  pos.UnrealizedPnL,
		MarkPrice:      pos.MarkPrice,
		MarkedAt:       markedAt,
	}
}

// SnapshotRepository 持仓快照仓储
type SnapshotRepository struct {
	db *gorm.DB
}

// NewSnapshotRepository 创建持仓快照仓储
func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save 按 (用户, 标的) 幂等落快照
func (r *SnapshotRepository) Save(ctx context.Context, userID string, pos *domain.Position, markedAt time.Time) error {
	model := fromDomain(userID, pos, markedAt)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "target_quantity", "currency", "avg_price", "mtm_value",
			"sod_realized_pnl", "itd_realized_pnl", "unrealized_pnl", "mark_price",
			"marked_at", "updated_at",
		}),
	}).Create(model).Error
}

// SaveAll 批量落快照
func (r *SnapshotRepository) SaveAll(ctx context.Context, userID string, positions map[string]*domain.Position, markedAt time.Time) error {
	for _, pos := range positions {
		if err := r.Save(ctx, userID, pos, markedAt); err != nil {
			return err
		}
	}
	return nil
}

// GetByUser 读用户全部持仓快照
func (r *SnapshotRepository) GetByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	var models []*PositionModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&models).Error; err != nil {
		return nil, err
	}
	positions := make([]*domain.Position, len(models))
	for i, m := range models {
		positions[i] = m.toDomain()
	}
	return positions, nil
}
