package mysql

import (
	"context"
	"time"

	"github.com/tradesim/fundaccounting/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cashFlowRepository struct {
	db *gorm.DB
}

// NewCashFlowRepository 创建现金流仓储
func NewCashFlowRepository(db *gorm.DB) domain.CashFlowRepository {
	return &cashFlowRepository{db: db}
}

// Append 追加记录；按 transfer_id 幂等，重复投递不落第二条
func (r *cashFlowRepository) Append(ctx context.Context, record *domain.CashFlowRecord) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transfer_id"}},
		DoNothing: true,
	}).Create(record).Error
}

func (r *cashFlowRepository) GetByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.CashFlowRecord, int64, error) {
	var records []*domain.CashFlowRecord
	var total int64

	db := r.db.WithContext(ctx).Model(&domain.CashFlowRecord{}).Where("user_id = ?", userID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&records).Error
	return records, total, err
}

func (r *cashFlowRepository) GetSince(ctx context.Context, userID string, since time.Time) ([]*domain.CashFlowRecord, error) {
	var records []*domain.CashFlowRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND timestamp >= ?", userID, since).
		Order("timestamp ASC").
		Find(&records).Error
	return records, err
}

// dbRecorder 直接落库的现金流记录器，挂在内存记录器之后做链式持久化
type dbRecorder struct {
	repo domain.CashFlowRepository
}

// NewDBRecorder 创建落库记录器
func NewDBRecorder(repo domain.CashFlowRepository) domain.Recorder {
	return &dbRecorder{repo: repo}
}

func (r *dbRecorder) RecordTransfer(ctx context.Context, record *domain.CashFlowRecord) error {
	return r.repo.Append(ctx, record)
}
