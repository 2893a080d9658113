// 包 application 持仓模块的应用服务
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradesim/fundaccounting/internal/position/domain"
	"github.com/tradesim/fundaccounting/internal/position/infrastructure/persistence/mysql"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/metrics"
)

// PositionManager 持仓应用服务。
// 按用户惰性创建持仓簿；负责成交落仓、盯市重估、
// 周期快照与快照落库。
type PositionManager struct {
	mu    sync.Mutex
	books map[string]*domain.Book

	prices  domain.PriceSource
	pending domain.PendingQuantitySource
	repo    *mysql.SnapshotRepository
	metrics *metrics.Metrics
	clock   timesource.Provider

	logger *slog.Logger
}

// NewPositionManager 构造函数。prices/pending/repo/metrics 均可为 nil；
// clock 为 nil 时退化为真实挂钟。
func NewPositionManager(
	prices domain.PriceSource,
	pending domain.PendingQuantitySource,
	repo *mysql.SnapshotRepository,
	m *metrics.Metrics,
	clock timesource.Provider,
	logger *slog.Logger,
) *PositionManager {
	if clock == nil {
		clock = timesource.NewRealClock()
	}
	return &PositionManager{
		books:   make(map[string]*domain.Book),
		prices:  prices,
		pending: pending,
		repo:    repo,
		metrics: m,
		clock:   clock,
		logger:  logger.With("module", "position_manager"),
	}
}

// Book 取或建用户持仓簿
func (m *PositionManager) Book(userID string) *domain.Book {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[userID]
	if !ok {
		book = domain.NewBook(userID, m.prices, m.pending, m.logger)
		m.books[userID] = book
	}
	return book
}

// ApplyTrade 成交落仓，返回被平掉的数量
func (m *PositionManager) ApplyTrade(ctx context.Context, userID, symbol string, signedQuantity decimal.Decimal, currency string, tradePrice decimal.Decimal) (decimal.Decimal, error) {
	book := m.Book(userID)
	closed, err := book.UpdatePosition(symbol, signedQuantity, currency, tradePrice)
	if err != nil {
		return decimal.Zero, err
	}

	if m.repo != nil {
		if pos, ok := book.GetPosition(symbol, true); ok {
			if err := m.repo.Save(ctx, userID, pos, m.clock.Now()); err != nil {
				return decimal.Zero, fmt.Errorf("failed to persist position snapshot: %w", err)
			}
		}
	}
	if m.metrics != nil {
		m.metrics.PositionsOpen.Set(float64(book.OpenPositionCount()))
	}
	return closed, nil
}

// MarkPortfolio 按行情批量盯市重估，返回重估数
func (m *PositionManager) MarkPortfolio(ctx context.Context, userID string, marketPrices map[string]decimal.Decimal, ts time.Time) (int, error) {
	book := m.Book(userID)
	marked := book.UpdatePortfolio(marketPrices)

	if m.repo != nil && marked > 0 {
		if err := m.repo.SaveAll(ctx, userID, book.GetAllPositions(true), ts); err != nil {
			return marked, fmt.Errorf("failed to persist marked positions: %w", err)
		}
	}
	if m.metrics != nil {
		m.metrics.PositionsMarkedTotal.Add(float64(marked))
	}

	m.logger.DebugContext(ctx, "portfolio marked", "user_id", userID, "marked", marked)
	return marked, nil
}

// SnapshotCycle 周期快照：当前持仓集深拷贝为上一周期
func (m *PositionManager) SnapshotCycle(userID string) {
	m.Book(userID).SaveCurrentAsPrevious()
}

// GetPositions 读用户持仓拷贝（current 为 false 时读上一周期快照）
func (m *PositionManager) GetPositions(userID string, current bool) map[string]*domain.Position {
	return m.Book(userID).GetAllPositions(current)
}

// GetPosition 读单个持仓拷贝
func (m *PositionManager) GetPosition(userID, symbol string, current bool) (*domain.Position, bool) {
	return m.Book(userID).GetPosition(symbol, current)
}

// RestoreFromRepo 启动恢复：从快照仓储水化用户持仓簿
func (m *PositionManager) RestoreFromRepo(ctx context.Context, userID string) error {
	if m.repo == nil {
		return nil
	}
	positions, err := m.repo.GetByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to restore positions for user %s: %w", userID, err)
	}

	book := m.Book(userID)
	for _, pos := range positions {
		if pos.Quantity.IsZero() {
			continue
		}
		if _, err := book.UpdatePosition(pos.Symbol, pos.Quantity, pos.Currency, pos.AvgPrice); err != nil {
			return err
		}
	}
	m.logger.InfoContext(ctx, "positions restored", "user_id", userID, "count", len(positions))
	return nil
}
