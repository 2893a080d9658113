// 包 domain 组合模块的领域模型：收益指标、分类计算器与收益引擎
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrUnknownCategory 分类不在注册集合内
	ErrUnknownCategory = errors.New("unknown return category")
	// ErrMetricsNotFound 指定 (分类, 子分类) 尚无收益指标
	ErrMetricsNotFound = errors.New("return metrics not found")
)

// 合计子分类，每个分类都会额外落一条
const SubcategoryTotal = "TOTAL"

// ReturnMetrics 单周期收益指标实体。
// 按 (分类, 子分类, 时间戳) 唯一，历史只追加不修改。
type ReturnMetrics struct {
	gorm.Model
	UserID      string          `gorm:"column:user_id;type:varchar(64);index:idx_user_cat_sub;not null"`
	Category    string          `gorm:"column:category;type:varchar(32);index:idx_user_cat_sub;not null"`
	Subcategory string          `gorm:"column:subcategory;type:varchar(32);index:idx_user_cat_sub;not null"`
	Timestamp   time.Time       `gorm:"column:timestamp;index;not null"`
	EMV         decimal.Decimal `gorm:"column:emv;type:decimal(32,2);not null"`
	BMV         decimal.Decimal `gorm:"column:bmv;type:decimal(32,2);not null"`
	BMVBook     decimal.Decimal `gorm:"column:bmv_book;type:decimal(32,2);not null"`
	CF          decimal.Decimal `gorm:"column:cf;type:decimal(32,2);not null"`
	// 子分类单期收益率
	PeriodicReturnSubcategory decimal.Decimal `gorm:"column:periodic_return_subcategory;type:decimal(32,8);not null"`
	// 子分类累计收益率（几何链接）
	CumulativeReturnSubcategory decimal.Decimal `gorm:"column:cumulative_return_subcategory;type:decimal(32,8);not null"`
	// 贡献权重 = bmv / bmv_book
	ContributionPercentage decimal.Decimal `gorm:"column:contribution_percentage;type:decimal(32,8);not null"`
	// 贡献口径单期收益率
	PeriodicReturnContribution decimal.Decimal `gorm:"column:periodic_return_contribution;type:decimal(32,8);not null"`
	// 贡献口径累计收益率
	CumulativeReturnContribution decimal.Decimal `gorm:"column:cumulative_return_contribution;type:decimal(32,8);not null"`
}

// TableName 指定表名
func (ReturnMetrics) TableName() string {
	return "fund_return_metrics"
}

// MetricsRepository 收益指标仓储接口
type MetricsRepository interface {
	Append(ctx context.Context, metrics *ReturnMetrics) error
	GetHistory(ctx context.Context, userID, category, subcategory string) ([]*ReturnMetrics, error)
}

// SubcategoryValues 分类计算器产出的单个子分类估值
type SubcategoryValues struct {
	// 期末市值
	EMV decimal.Decimal
	// 期初市值
	BMV decimal.Decimal
	// 全簿期初市值（贡献权重分母）
	BMVBook decimal.Decimal
	// 本期现金流
	CF decimal.Decimal
}

// CategoryCalculator 分类估值计算器。
// 引擎不关心估值口径，只消费 {emv, bmv, bmv_book, cf} 聚合契约。
type CategoryCalculator interface {
	// Name 分类名（BOOK / CASH_EQUITY / LONG_SHORT）
	Name() string
	// Compute 产出各子分类估值；cashFlows 为本周期按币种汇总的净流入
	Compute(ctx context.Context, cashFlows map[string]decimal.Decimal) (map[string]*SubcategoryValues, error)
}

// FlowSource 本周期现金流来源
type FlowSource interface {
	// CycleFlows 按币种汇总的本周期净流入
	CycleFlows() map[string]decimal.Decimal
	// ResetCycle 清空本周期现金流，标记新周期开始
	ResetCycle()
}

// ComputeReturn 单期收益率 = (emv - bmv - cf) / (bmv + cf)。
// 分母为 0 的零基期没有有意义的收益率，定义为 0 而不是除零错误。
func ComputeReturn(ending, beginning, cashFlow decimal.Decimal) decimal.Decimal {
	denominator := beginning.Add(cashFlow)
	if denominator.IsZero() {
		return decimal.Zero
	}
	return ending.Sub(beginning).Sub(cashFlow).Div(denominator)
}

// ComputeGeometricReturn 几何链接累计收益率 = prod(1 + r) - 1。
// 每次对全量历史重算，历史长度受交易日数约束。
func ComputeGeometricReturn(periodicReturns []decimal.Decimal) decimal.Decimal {
	product := decimal.NewFromInt(1)
	for _, r := range periodicReturns {
		product = product.Mul(decimal.NewFromInt(1).Add(r))
	}
	return product.Sub(decimal.NewFromInt(1))
}

// subcategoryState 单 (分类, 子分类) 的收益历史
type subcategoryState struct {
	periodicSubcategory  []decimal.Decimal
	periodicContribution []decimal.Decimal
	latest               *ReturnMetrics
}

// Engine 单用户收益引擎。
// 驱动注册的分类计算器产出估值，按几何链接维护累计收益，
// 并为 WTD/MTD/QTD/YTD 维护期初基线。
type Engine struct {
	userID string

	mu          sync.Mutex
	calculators []CategoryCalculator
	states      map[string]*subcategoryState
	baselines   map[string]*PeriodBaseline

	flows FlowSource
	repo  MetricsRepository

	logger *slog.Logger
}

// NewEngine 创建收益引擎。repo 可为 nil（纯内存模式）。
func NewEngine(userID string, flows FlowSource, repo MetricsRepository, logger *slog.Logger) *Engine {
	return &Engine{
		userID:    userID,
		states:    make(map[string]*subcategoryState),
		baselines: make(map[string]*PeriodBaseline),
		flows:     flows,
		repo:      repo,
		logger:    logger.With("module", "returns_engine", "user_id", userID),
	}
}

// RegisterCalculator 注册分类计算器，按注册顺序参与每轮计算
func (e *Engine) RegisterCalculator(calc CategoryCalculator) error {
	if !ValidCategory(calc.Name()) {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, calc.Name())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calculators = append(e.calculators, calc)
	return nil
}

func stateKey(category, subcategory string) string {
	return category + "/" + subcategory
}

// ComputeAllReturns 对全部注册分类执行一轮收益计算。
// 两阶段执行：先以本周期现金流快照驱动全部分类计算并暂存，
// 任一错误中止整轮，历史与周期现金流保持原样供重试；
// 全部算完才统一落库、清零周期现金流并提交内存历史。
func (e *Engine) ComputeAllReturns(ctx context.Context, ts time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var cashFlows map[string]decimal.Decimal
	if e.flows != nil {
		cashFlows = e.flows.CycleFlows()
	}

	var staged []*ReturnMetrics
	for _, calc := range e.calculators {
		values, err := calc.Compute(ctx, cashFlows)
		if err != nil {
			return fmt.Errorf("category %s computation failed: %w", calc.Name(), err)
		}

		total := &SubcategoryValues{}

		// 子分类按名字排序遍历，保证落库顺序稳定
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			v := values[name]
			staged = append(staged, e.buildMetrics(calc.Name(), name, ts, v))
			total.EMV = total.EMV.Add(v.EMV)
			total.BMV = total.BMV.Add(v.BMV)
			total.CF = total.CF.Add(v.CF)
			total.BMVBook = v.BMVBook
		}

		staged = append(staged, e.buildMetrics(calc.Name(), SubcategoryTotal, ts, total))
	}

	// 先落库再提交内存：落库失败时内存与现金流均未动，整轮可重试
	if e.repo != nil {
		for _, metrics := range staged {
			if err := e.repo.Append(ctx, metrics); err != nil {
				return fmt.Errorf("failed to persist return metrics for %s/%s: %w",
					metrics.Category, metrics.Subcategory, err)
			}
		}
	}
	if e.flows != nil {
		e.flows.ResetCycle()
	}
	for _, metrics := range staged {
		e.commitMetrics(metrics)
	}

	e.logger.InfoContext(ctx, "returns cycle completed", "timestamp", ts, "categories", len(e.calculators))
	return nil
}

// buildMetrics 基于当前历史计算一条 (分类, 子分类) 收益指标，不改任何状态。调用方持锁。
func (e *Engine) buildMetrics(category, subcategory string, ts time.Time, v *SubcategoryValues) *ReturnMetrics {
	contributionPct := decimal.Zero
	if !v.BMVBook.IsZero() {
		contributionPct = v.BMV.Div(v.BMVBook)
	}

	periodicSub := ComputeReturn(v.EMV, v.BMV, v.CF)
	periodicContrib := periodicSub.Mul(contributionPct)

	var histSub, histContrib []decimal.Decimal
	if state, ok := e.states[stateKey(category, subcategory)]; ok {
		histSub = state.periodicSubcategory
		histContrib = state.periodicContribution
	}

	return &ReturnMetrics{
		UserID:                    e.userID,
		Category:                  category,
		Subcategory:               subcategory,
		Timestamp:                 ts,
		EMV:                       v.EMV,
		BMV:                       v.BMV,
		BMVBook:                   v.BMVBook,
		CF:                        v.CF,
		PeriodicReturnSubcategory: periodicSub,
		CumulativeReturnSubcategory: ComputeGeometricReturn(
			append(append([]decimal.Decimal(nil), histSub...), periodicSub)),
		ContributionPercentage:     contributionPct,
		PeriodicReturnContribution: periodicContrib,
		CumulativeReturnContribution: ComputeGeometricReturn(
			append(append([]decimal.Decimal(nil), histContrib...), periodicContrib)),
	}
}

// commitMetrics 将暂存指标追加进内存历史。调用方持锁。
func (e *Engine) commitMetrics(metrics *ReturnMetrics) {
	key := stateKey(metrics.Category, metrics.Subcategory)
	state, ok := e.states[key]
	if !ok {
		state = &subcategoryState{}
		e.states[key] = state
	}
	state.periodicSubcategory = append(state.periodicSubcategory, metrics.PeriodicReturnSubcategory)
	state.periodicContribution = append(state.periodicContribution, metrics.PeriodicReturnContribution)
	state.latest = metrics
}

// GetMetrics 返回 (分类, 子分类) 的最新收益指标拷贝
func (e *Engine) GetMetrics(category, subcategory string) (*ReturnMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[stateKey(category, subcategory)]
	if !ok || state.latest == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrMetricsNotFound, category, subcategory)
	}
	cp := *state.latest
	return &cp, nil
}

// GetAllMetrics 返回全部 (分类, 子分类) 的最新收益指标拷贝
func (e *Engine) GetAllMetrics() []*ReturnMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*ReturnMetrics, 0, len(e.states))
	for _, state := range e.states {
		if state.latest == nil {
			continue
		}
		cp := *state.latest
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Subcategory < out[j].Subcategory
	})
	return out
}
