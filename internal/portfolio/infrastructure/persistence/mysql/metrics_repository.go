// 包 mysql 收益指标的 MySQL 仓储实现
package mysql

import (
	"context"

	"github.com/tradesim/fundaccounting/internal/portfolio/domain"
	"gorm.io/gorm"
)

type metricsRepository struct {
	db *gorm.DB
}

// NewMetricsRepository 创建收益指标仓储
func NewMetricsRepository(db *gorm.DB) domain.MetricsRepository {
	return &metricsRepository{db: db}
}

// Append 追加一条收益指标（历史只增不改）
func (r *metricsRepository) Append(ctx context.Context, metrics *domain.ReturnMetrics) error {
	return r.db.WithContext(ctx).Create(metrics).Error
}

func (r *metricsRepository) GetHistory(ctx context.Context, userID, category, subcategory string) ([]*domain.ReturnMetrics, error) {
	var history []*domain.ReturnMetrics
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND category = ? AND subcategory = ?", userID, category, subcategory).
		Order("timestamp ASC").
		Find(&history).Error
	return history, err
}
