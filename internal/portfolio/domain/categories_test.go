package domain

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	posdomain "github.com/tradesim/fundaccounting/internal/position/domain"
)

func newMarkedBook(t *testing.T) *posdomain.Book {
	t.Helper()
	book := posdomain.NewBook("u1", nil, nil, slog.Default())

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)
	_, err = book.UpdatePosition("TSLA", d("-10"), "USD", d("200"))
	require.NoError(t, err)
	book.SaveCurrentAsPrevious()

	// 盯市后 AAPL 5500，TSLA -2100
	book.UpdatePortfolio(map[string]decimal.Decimal{"AAPL": d("55"), "TSLA": d("210")})
	return book
}

func TestBookCalculatorPerCurrency(t *testing.T) {
	book := newMarkedBook(t)
	calc := NewBookCalculator(book)
	assert.Equal(t, CategoryBook, calc.Name())

	values, err := calc.Compute(context.Background(), map[string]decimal.Decimal{"USD": d("100")})
	require.NoError(t, err)
	require.Len(t, values, 1)

	usd := values["USD"]
	// 5500 - 2100 = 3400，期初 5000 - 2000 = 3000
	assert.True(t, usd.EMV.Equal(d("3400")), "got %s", usd.EMV)
	assert.True(t, usd.BMV.Equal(d("3000")), "got %s", usd.BMV)
	assert.True(t, usd.BMVBook.Equal(d("3000")))
	assert.True(t, usd.CF.Equal(d("100")))
}

func TestCashEquityCalculatorPerSymbol(t *testing.T) {
	book := newMarkedBook(t)
	calc := NewCashEquityCalculator(book)

	values, err := calc.Compute(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, values, 2)

	aapl := values["AAPL"]
	assert.True(t, aapl.EMV.Equal(d("5500")), "got %s", aapl.EMV)
	assert.True(t, aapl.BMV.Equal(d("5000")))
	assert.True(t, aapl.BMVBook.Equal(d("3000")))

	tsla := values["TSLA"]
	assert.True(t, tsla.EMV.Equal(d("-2100")), "got %s", tsla.EMV)
	assert.True(t, tsla.BMV.Equal(d("-2000")))
}

func TestCashEquityCalculatorKeepsClosedSymbols(t *testing.T) {
	book := posdomain.NewBook("u1", nil, nil, slog.Default())
	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)
	book.SaveCurrentAsPrevious()

	// 全平后当前快照市值为 0，但上一周期仍有市值，需保留子分类
	_, err = book.UpdatePosition("AAPL", d("-100"), "USD", d("55"))
	require.NoError(t, err)

	calc := NewCashEquityCalculator(book)
	values, err := calc.Compute(context.Background(), nil)
	require.NoError(t, err)

	aapl, ok := values["AAPL"]
	require.True(t, ok)
	assert.True(t, aapl.EMV.IsZero())
	assert.True(t, aapl.BMV.Equal(d("5000")))
}

func TestLongShortCalculatorSplitsLegs(t *testing.T) {
	book := newMarkedBook(t)
	calc := NewLongShortCalculator(book)

	values, err := calc.Compute(context.Background(), nil)
	require.NoError(t, err)

	long := values["LONG"]
	short := values["SHORT"]
	assert.True(t, long.EMV.Equal(d("5500")), "got %s", long.EMV)
	assert.True(t, long.BMV.Equal(d("5000")))
	assert.True(t, short.EMV.Equal(d("-2100")), "got %s", short.EMV)
	assert.True(t, short.BMV.Equal(d("-2000")))
	assert.True(t, long.BMVBook.Equal(d("3000")))
	assert.True(t, short.BMVBook.Equal(d("3000")))
}
