// 包 application 结算模块的应用服务
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	accapp "github.com/tradesim/fundaccounting/internal/account/application"
	fxdomain "github.com/tradesim/fundaccounting/internal/fx/domain"
	posapp "github.com/tradesim/fundaccounting/internal/position/application"
	"github.com/tradesim/fundaccounting/internal/settlement/domain"
	"github.com/tradesim/fundaccounting/internal/timesource"
	"github.com/tradesim/fundaccounting/pkg/metrics"
	"github.com/tradesim/fundaccounting/pkg/utils"
)

// SettlementManager 结算应用服务。
// 按用户缓存结算引擎，编排 检查 -> 调账 -> 落仓 全链路，
// 并将结算流水落库、上报指标。
type SettlementManager struct {
	mu      sync.Mutex
	engines map[string]*domain.Engine

	accounts  *accapp.AccountManager
	positions *posapp.PositionManager
	converter *fxdomain.Converter
	repo      domain.SettlementRepository
	metrics   *metrics.Metrics
	idgen     *utils.SnowflakeID
	clock     timesource.Provider

	baseCurrency string

	logger *slog.Logger
}

// NewSettlementManager 构造函数。repo/metrics 可为 nil；
// clock 为 nil 时退化为真实挂钟。
func NewSettlementManager(
	accounts *accapp.AccountManager,
	positions *posapp.PositionManager,
	converter *fxdomain.Converter,
	repo domain.SettlementRepository,
	m *metrics.Metrics,
	idgen *utils.SnowflakeID,
	clock timesource.Provider,
	baseCurrency string,
	logger *slog.Logger,
) *SettlementManager {
	if clock == nil {
		clock = timesource.NewRealClock()
	}
	return &SettlementManager{
		engines:      make(map[string]*domain.Engine),
		accounts:     accounts,
		positions:    positions,
		converter:    converter,
		repo:         repo,
		metrics:      m,
		idgen:        idgen,
		clock:        clock,
		baseCurrency: baseCurrency,
		logger:       logger.With("module", "settlement_manager"),
	}
}

// engineFor 取或建用户结算引擎
func (m *SettlementManager) engineFor(ctx context.Context, userID string) (*domain.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if engine, ok := m.engines[userID]; ok {
		return engine, nil
	}

	ledger, err := m.accounts.Ledger(ctx, userID)
	if err != nil {
		return nil, err
	}
	guard, err := m.accounts.Guard(ctx, userID)
	if err != nil {
		return nil, err
	}
	recorder, err := m.accounts.Recorder(ctx, userID)
	if err != nil {
		return nil, err
	}

	engine := domain.NewEngine(ledger, guard, recorder, m.converter,
		m.positions.Book(userID), m.idgen, m.baseCurrency, m.logger)
	m.engines[userID] = engine
	return engine, nil
}

// CheckBalanceBeforeFill 成交前余额检查（撮合前挂钩点）
func (m *SettlementManager) CheckBalanceBeforeFill(ctx context.Context, fill *domain.Fill) error {
	engine, err := m.engineFor(ctx, fill.UserID)
	if err != nil {
		return err
	}
	if err := engine.CheckBalanceBeforeFill(ctx, fill); err != nil {
		if m.metrics != nil {
			m.metrics.FillsRejectedTotal.Inc()
		}
		return err
	}
	return nil
}

// SettleFill 结算一笔成交：检查、调账、落仓、落流水。
// 任一环节失败都中止后续环节并落 FAILED 流水，不留部分结算状态。
func (m *SettlementManager) SettleFill(ctx context.Context, fill *domain.Fill) (*domain.Result, error) {
	engine, err := m.engineFor(ctx, fill.UserID)
	if err != nil {
		return nil, err
	}

	result, err := m.settle(ctx, engine, fill)
	if err != nil {
		if m.metrics != nil {
			m.metrics.FillsRejectedTotal.Inc()
		}
		m.persistSettlement(ctx, fill, nil, err)
		m.logger.ErrorContext(ctx, "fill settlement failed",
			"trade_id", fill.TradeID, "user_id", fill.UserID, "error", err)
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.FillsSettledTotal.Inc()
	}
	m.persistSettlement(ctx, fill, result, nil)
	return result, nil
}

// settle 执行 检查 -> 调账 -> 落仓
func (m *SettlementManager) settle(ctx context.Context, engine *domain.Engine, fill *domain.Fill) (*domain.Result, error) {
	if err := engine.CheckBalanceBeforeFill(ctx, fill); err != nil {
		return nil, fmt.Errorf("pre-fill balance check failed: %w", err)
	}

	// 平仓盈亏按调账时刻的成本价计算，落仓必须在调账之后
	result, err := engine.AdjustBalanceAfterFill(ctx, fill)
	if err != nil {
		return nil, fmt.Errorf("post-fill balance adjustment failed: %w", err)
	}

	if fill.Instrument != "" {
		closed, err := m.positions.ApplyTrade(ctx, fill.UserID, fill.Instrument,
			fill.SignedQuantity(), fill.Currency, fill.ImpactedPrice)
		if err != nil {
			return nil, fmt.Errorf("position update failed: %w", err)
		}
		// 平仓盈亏只在风险平退路径结转，非平退的平仓要留痕排查
		if closed.Sign() > 0 && !fill.IsRiskOff {
			m.logger.WarnContext(ctx, "position closed without risk-off flag, realized pnl not booked",
				"trade_id", fill.TradeID, "user_id", fill.UserID,
				"instrument", fill.Instrument, "closed_quantity", closed)
		}
	}
	return result, nil
}

// GetSettlement 按成交号查结算流水
func (m *SettlementManager) GetSettlement(ctx context.Context, tradeID string) (*domain.Settlement, error) {
	if m.repo == nil {
		return nil, fmt.Errorf("settlement repository not configured")
	}
	return m.repo.GetByTradeID(ctx, tradeID)
}

// ListSettlements 查用户最近结算流水
func (m *SettlementManager) ListSettlements(ctx context.Context, userID string, limit int) ([]*domain.Settlement, error) {
	if m.repo == nil {
		return nil, fmt.Errorf("settlement repository not configured")
	}
	return m.repo.GetByUser(ctx, userID, limit)
}

// persistSettlement 落结算流水，失败只记日志（留痕缺口由对账补偿）
func (m *SettlementManager) persistSettlement(ctx context.Context, fill *domain.Fill, result *domain.Result, settleErr error) {
	if m.repo == nil {
		return
	}

	settlement := &domain.Settlement{
		SettlementID: m.idgen.GenerateString("SET"),
		TradeID:      fill.TradeID,
		UserID:       fill.UserID,
		Instrument:   fill.Instrument,
		Currency:     fill.Currency,
		Side:         fill.Side,
		InitialSide:  fill.InitialSide,
		IsRiskOff:    fill.IsRiskOff,
		Quantity:     fill.Quantity,
		Price:        fill.ImpactedPrice,
		Amount:       fill.Notional(),
		Status:       domain.SettlementStatusSettled,
		SettledAt:    m.clock.Now(),
	}
	if settleErr != nil {
		settlement.Status = domain.SettlementStatusFailed
		settlement.Reason = settleErr.Error()
	} else if result != nil {
		settlement.RealizedPnL = result.RealizedPnL
	}

	if err := m.repo.Save(ctx, settlement); err != nil {
		m.logger.ErrorContext(ctx, "failed to persist settlement record",
			"trade_id", fill.TradeID, "error", err)
	}
}
