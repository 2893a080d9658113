package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// 收益分类
const (
	CategoryBook       = "BOOK"
	CategoryCashEquity = "CASH_EQUITY"
	CategoryLongShort  = "LONG_SHORT"
)

// ValidCategory 分类是否合法
func ValidCategory(category string) bool {
	switch category {
	case CategoryBook, CategoryCashEquity, CategoryLongShort:
		return true
	}
	return false
}

// PeriodType 周期类型
type PeriodType string

const (
	PeriodWTD PeriodType = "WTD"
	PeriodMTD PeriodType = "MTD"
	PeriodQTD PeriodType = "QTD"
	PeriodYTD PeriodType = "YTD"
)

// Valid 是否为合法周期类型
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodWTD, PeriodMTD, PeriodQTD, PeriodYTD:
		return true
	}
	return false
}

// PeriodBaseline 期初累计收益基线。
// 周期滚动时落一次，下次滚动前不变；用 当前累计 - 基线累计
// 推导期内收益。
type PeriodBaseline struct {
	PeriodType  PeriodType
	Category    string
	Subcategory string
	// 期初时刻
	RolledAt time.Time
	// 期初的子分类累计收益率
	CumulativeSubcategory decimal.Decimal
	// 期初的贡献口径累计收益率
	CumulativeContribution decimal.Decimal
}

// PeriodReturn 期内收益（子分类与贡献两个口径）
type PeriodReturn struct {
	Subcategory  decimal.Decimal
	Contribution decimal.Decimal
}

func baselineKey(periodType PeriodType, category, subcategory string) string {
	return string(periodType) + "/" + category + "/" + subcategory
}

// RollPeriod 滚动一个周期：对每个已有指标的 (分类, 子分类)
// 以当前累计收益落期初基线。
func (e *Engine) RollPeriod(periodType PeriodType, ts time.Time) error {
	if !periodType.Valid() {
		return fmt.Errorf("invalid period type %q", periodType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rolled := 0
	for _, state := range e.states {
		if state.latest == nil {
			continue
		}
		e.baselines[baselineKey(periodType, state.latest.Category, state.latest.Subcategory)] = &PeriodBaseline{
			PeriodType:             periodType,
			Category:               state.latest.Category,
			Subcategory:            state.latest.Subcategory,
			RolledAt:               ts,
			CumulativeSubcategory:  state.latest.CumulativeReturnSubcategory,
			CumulativeContribution: state.latest.CumulativeReturnContribution,
		}
		rolled++
	}

	e.logger.Info("period baselines rolled", "period_type", periodType, "count", rolled)
	return nil
}

// GetPeriodReturn 读取期内收益。
// 无基线时周期退化为成立以来，返回全量累计收益；
// 有基线时返回 当前累计 - 基线累计。
func (e *Engine) GetPeriodReturn(periodType PeriodType, category, subcategory string) (*PeriodReturn, error) {
	if !periodType.Valid() {
		return nil, fmt.Errorf("invalid period type %q", periodType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[stateKey(category, subcategory)]
	if !ok || state.latest == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrMetricsNotFound, category, subcategory)
	}

	current := state.latest
	baseline, ok := e.baselines[baselineKey(periodType, category, subcategory)]
	if !ok {
		return &PeriodReturn{
			Subcategory:  current.CumulativeReturnSubcategory,
			Contribution: current.CumulativeReturnContribution,
		}, nil
	}

	return &PeriodReturn{
		Subcategory:  current.CumulativeReturnSubcategory.Sub(baseline.CumulativeSubcategory),
		Contribution: current.CumulativeReturnContribution.Sub(baseline.CumulativeContribution),
	}, nil
}
