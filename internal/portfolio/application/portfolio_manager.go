// 包 application 组合模块的应用服务：估值周期编排与收益查询
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	accapp "github.com/tradesim/fundaccounting/internal/account/application"
	"github.com/tradesim/fundaccounting/internal/portfolio/domain"
	posapp "github.com/tradesim/fundaccounting/internal/position/application"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/metrics"
)

// PortfolioManager 组合应用服务。
// 按用户惰性创建收益引擎并注册 BOOK/CASH_EQUITY/LONG_SHORT
// 三个分类计算器；编排完整估值周期：盯市 -> 收益计算 -> 滚动快照。
type PortfolioManager struct {
	mu      sync.Mutex
	engines map[string]*domain.Engine

	accounts  *accapp.AccountManager
	positions *posapp.PositionManager
	repo      domain.MetricsRepository
	metrics   *metrics.Metrics
	clock     timesource.Provider

	logger *slog.Logger
}

// NewPortfolioManager 构造函数。repo/metrics 可为 nil。
func NewPortfolioManager(
	accounts *accapp.AccountManager,
	positions *posapp.PositionManager,
	repo domain.MetricsRepository,
	m *metrics.Metrics,
	clock timesource.Provider,
	logger *slog.Logger,
) *PortfolioManager {
	return &PortfolioManager{
		engines:   make(map[string]*domain.Engine),
		accounts:  accounts,
		positions: positions,
		repo:      repo,
		metrics:   m,
		clock:     clock,
		logger:    logger.With("module", "portfolio_manager"),
	}
}

// engineFor 取或建用户收益引擎
func (m *PortfolioManager) engineFor(ctx context.Context, userID string) (*domain.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if engine, ok := m.engines[userID]; ok {
		return engine, nil
	}

	recorder, err := m.accounts.Recorder(ctx, userID)
	if err != nil {
		return nil, err
	}

	book := m.positions.Book(userID)
	engine := domain.NewEngine(userID, recorder, m.repo, m.logger)
	for _, calc := range []domain.CategoryCalculator{
		domain.NewBookCalculator(book),
		domain.NewCashEquityCalculator(book),
		domain.NewLongShortCalculator(book),
	} {
		if err := engine.RegisterCalculator(calc); err != nil {
			return nil, err
		}
	}

	m.engines[userID] = engine
	return engine, nil
}

// RunValuationCycle 执行一轮估值周期。
// 先按行情盯市，再对全部分类计算收益（期初取上一周期快照），
// 最后把当前持仓滚动为下一周期的期初快照。
func (m *PortfolioManager) RunValuationCycle(ctx context.Context, userID string, marketPrices map[string]decimal.Decimal) error {
	started := time.Now()

	if len(marketPrices) > 0 {
		if _, err := m.positions.MarkPortfolio(ctx, userID, marketPrices, m.clock.Now()); err != nil {
			return err
		}
	}

	engine, err := m.engineFor(ctx, userID)
	if err != nil {
		return err
	}
	if err := engine.ComputeAllReturns(ctx, m.clock.Now()); err != nil {
		return fmt.Errorf("returns cycle aborted for user %s: %w", userID, err)
	}

	m.positions.SnapshotCycle(userID)

	if m.metrics != nil {
		m.metrics.ReturnsCycleDuration.Observe(time.Since(started).Seconds())
	}
	return nil
}

// ComputeAllReturns 只跑收益计算，不盯市不滚动快照（模拟回放用）
func (m *PortfolioManager) ComputeAllReturns(ctx context.Context, userID string, ts time.Time) error {
	engine, err := m.engineFor(ctx, userID)
	if err != nil {
		return err
	}
	return engine.ComputeAllReturns(ctx, ts)
}

// GetMetrics 查询 (分类, 子分类) 最新收益指标
func (m *PortfolioManager) GetMetrics(ctx context.Context, userID, category, subcategory string) (*domain.ReturnMetrics, error) {
	engine, err := m.engineFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return engine.GetMetrics(category, subcategory)
}

// GetAllMetrics 查询用户全部最新收益指标
func (m *PortfolioManager) GetAllMetrics(ctx context.Context, userID string) ([]*domain.ReturnMetrics, error) {
	engine, err := m.engineFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return engine.GetAllMetrics(), nil
}

// GetPeriodReturn 查询期内收益
func (m *PortfolioManager) GetPeriodReturn(ctx context.Context, userID string, periodType domain.PeriodType, category, subcategory string) (*domain.PeriodReturn, error) {
	engine, err := m.engineFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return engine.GetPeriodReturn(periodType, category, subcategory)
}

// RollPeriod 滚动周期基线（WTD/MTD/QTD/YTD 周期边界调用）
func (m *PortfolioManager) RollPeriod(ctx context.Context, userID string, periodType domain.PeriodType) error {
	engine, err := m.engineFor(ctx, userID)
	if err != nil {
		return err
	}
	return engine.RollPeriod(periodType, m.clock.Now())
}

// GetHistory 查询 (分类, 子分类) 收益历史（落库口径）
func (m *PortfolioManager) GetHistory(ctx context.Context, userID, category, subcategory string) ([]*domain.ReturnMetrics, error) {
	if m.repo == nil {
		return nil, fmt.Errorf("metrics repository not configured")
	}
	return m.repo.GetHistory(ctx, userID, category, subcategory)
}
