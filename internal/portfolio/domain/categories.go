package domain

import (
	"context"

	"github.com/shopspring/decimal"
	posdomain "github.com/tradesim/fundaccounting/internal/position/domain"
)

// BookCalculator BOOK 分类：按币种汇总组合盯市市值。
// 期末取当前快照，期初取上一周期快照，现金流取本周期按币种净流入。
type BookCalculator struct {
	book *posdomain.Book
}

// NewBookCalculator 创建 BOOK 分类计算器
func NewBookCalculator(book *posdomain.Book) *BookCalculator {
	return &BookCalculator{book: book}
}

func (c *BookCalculator) Name() string {
	return CategoryBook
}

func (c *BookCalculator) Compute(_ context.Context, cashFlows map[string]decimal.Decimal) (map[string]*SubcategoryValues, error) {
	ending := c.book.ComputePortfolioBalances(true)
	beginning := c.book.ComputePortfolioBalances(false)

	bmvBook := decimal.Zero
	for _, bmv := range beginning {
		bmvBook = bmvBook.Add(bmv)
	}

	values := make(map[string]*SubcategoryValues)
	for currency := range union(ending, beginning) {
		values[currency] = &SubcategoryValues{
			EMV:     ending[currency],
			BMV:     beginning[currency],
			BMVBook: bmvBook,
			CF:      cashFlows[currency],
		}
	}
	return values, nil
}

// CashEquityCalculator CASH_EQUITY 分类：按标的拆分的现券持仓估值
type CashEquityCalculator struct {
	book *posdomain.Book
}

// NewCashEquityCalculator 创建 CASH_EQUITY 分类计算器
func NewCashEquityCalculator(book *posdomain.Book) *CashEquityCalculator {
	return &CashEquityCalculator{book: book}
}

func (c *CashEquityCalculator) Name() string {
	return CategoryCashEquity
}

func (c *CashEquityCalculator) Compute(_ context.Context, _ map[string]decimal.Decimal) (map[string]*SubcategoryValues, error) {
	current := c.book.GetAllPositions(true)
	previous := c.book.GetAllPositions(false)

	bmvBook := decimal.Zero
	for _, pos := range previous {
		bmvBook = bmvBook.Add(pos.MTMValue)
	}

	values := make(map[string]*SubcategoryValues)
	for symbol, pos := range current {
		v := &SubcategoryValues{EMV: pos.MTMValue, BMVBook: bmvBook}
		if prev, ok := previous[symbol]; ok {
			v.BMV = prev.MTMValue
		}
		values[symbol] = v
	}
	for symbol, prev := range previous {
		if _, ok := values[symbol]; ok {
			continue
		}
		values[symbol] = &SubcategoryValues{BMV: prev.MTMValue, BMVBook: bmvBook}
	}
	return values, nil
}

// LongShortCalculator LONG_SHORT 分类：多头腿与空头腿各为一个子分类
type LongShortCalculator struct {
	book *posdomain.Book
}

// NewLongShortCalculator 创建 LONG_SHORT 分类计算器
func NewLongShortCalculator(book *posdomain.Book) *LongShortCalculator {
	return &LongShortCalculator{book: book}
}

func (c *LongShortCalculator) Name() string {
	return CategoryLongShort
}

const (
	subcategoryLong  = "LONG"
	subcategoryShort = "SHORT"
)

func (c *LongShortCalculator) Compute(_ context.Context, _ map[string]decimal.Decimal) (map[string]*SubcategoryValues, error) {
	long := &SubcategoryValues{}
	short := &SubcategoryValues{}

	for _, pos := range c.book.GetAllPositions(true) {
		if pos.Quantity.Sign() >= 0 {
			long.EMV = long.EMV.Add(pos.MTMValue)
		} else {
			short.EMV = short.EMV.Add(pos.MTMValue)
		}
	}

	bmvBook := decimal.Zero
	for _, pos := range c.book.GetAllPositions(false) {
		if pos.Quantity.Sign() >= 0 {
			long.BMV = long.BMV.Add(pos.MTMValue)
		} else {
			short.BMV = short.BMV.Add(pos.MTMValue)
		}
		bmvBook = bmvBook.Add(pos.MTMValue)
	}
	long.BMVBook = bmvBook
	short.BMVBook = bmvBook

	return map[string]*SubcategoryValues{
		subcategoryLong:  long,
		subcategoryShort: short,
	}, nil
}

// union 两个按币种聚合结果的键并集
func union(a, b map[string]decimal.Decimal) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}
