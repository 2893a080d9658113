package domain

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBook() *Book {
	return NewBook("u1", nil, nil, slog.Default())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUpdatePositionOpensAtTradePrice(t *testing.T) {
	book := newTestBook()

	closed, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)
	assert.True(t, closed.IsZero())

	pos, ok := book.GetPosition("AAPL", true)
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("100")))
	assert.True(t, pos.AvgPrice.Equal(d("50")), "got %s", pos.AvgPrice)
	assert.True(t, pos.MTMValue.Equal(d("5000")), "got %s", pos.MTMValue)
	assert.Equal(t, "USD", pos.Currency)
}

func TestUpdatePositionSameDirectionRecomputesAvgPrice(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("10"))
	require.NoError(t, err)
	_, err = book.UpdatePosition("AAPL", d("50"), "USD", d("13"))
	require.NoError(t, err)

	pos, ok := book.GetPosition("AAPL", true)
	require.True(t, ok)
	// (100*10 + 50*13) / 150 = 11.00
	assert.True(t, pos.AvgPrice.Equal(d("11")), "got %s", pos.AvgPrice)
	assert.True(t, pos.Quantity.Equal(d("150")))
}

func TestUpdatePositionOppositeDirectionKeepsAvgPrice(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	closed, err := book.UpdatePosition("AAPL", d("-40"), "USD", d("60"))
	require.NoError(t, err)
	assert.True(t, closed.Equal(d("40")), "got %s", closed)

	pos, ok := book.GetPosition("AAPL", true)
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("60")))
	assert.True(t, pos.AvgPrice.Equal(d("50")), "close must not move avg price, got %s", pos.AvgPrice)
}

func TestUpdatePositionFlattenResetsAvgPrice(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	closed, err := book.UpdatePosition("AAPL", d("-100"), "USD", d("55"))
	require.NoError(t, err)
	assert.True(t, closed.Equal(d("100")))

	pos, ok := book.GetPosition("AAPL", true)
	require.True(t, ok)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.AvgPrice.IsZero())
	assert.True(t, pos.UnrealizedPnL.IsZero())
}

func TestUpdatePositionShortSide(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("TSLA", d("-200"), "USD", d("100"))
	require.NoError(t, err)

	pos, ok := book.GetPosition("TSLA", true)
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("-200")))
	assert.True(t, pos.AvgPrice.Equal(d("100")))
	assert.True(t, pos.MTMValue.Equal(d("-20000")), "got %s", pos.MTMValue)
}

func TestUpdatePortfolioMarksKnownPositions(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	marked := book.UpdatePortfolio(map[string]decimal.Decimal{
		"AAPL": d("55"),
		"MSFT": d("300"), // 无持仓，跳过
	})
	assert.Equal(t, 1, marked)

	pos, _ := book.GetPosition("AAPL", true)
	assert.True(t, pos.MarkPrice.Equal(d("55")))
	// (55 - 50) * 100 = 500
	assert.True(t, pos.UnrealizedPnL.Equal(d("500")), "got %s", pos.UnrealizedPnL)
	assert.True(t, pos.MTMValue.Equal(d("5500")))
}

func TestAddRealizedPnL(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	require.NoError(t, book.AddRealizedPnL("AAPL", d("400")))
	pos, _ := book.GetPosition("AAPL", true)
	assert.True(t, pos.ITDRealizedPnL.Equal(d("400")))
	assert.True(t, pos.RealizedPnL.Equal(d("400")))

	err = book.AddRealizedPnL("GHOST", d("1"))
	assert.ErrorIs(t, err, ErrPositionNotFound)
}

func TestSaveCurrentAsPreviousIsDeepCopy(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	book.SaveCurrentAsPrevious()

	// 变更当前持仓不得影响上一周期快照
	_, err = book.UpdatePosition("AAPL", d("100"), "USD", d("70"))
	require.NoError(t, err)

	prev, ok := book.GetPosition("AAPL", false)
	require.True(t, ok)
	assert.True(t, prev.Quantity.Equal(d("100")))
	assert.True(t, prev.AvgPrice.Equal(d("50")))

	current, _ := book.GetPosition("AAPL", true)
	assert.True(t, current.Quantity.Equal(d("200")))
}

func TestComputePortfolioBalancesSumsPerCurrency(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)
	_, err = book.UpdatePosition("MSFT", d("10"), "USD", d("300"))
	require.NoError(t, err)
	_, err = book.UpdatePosition("SAP", d("20"), "EUR", d("150"))
	require.NoError(t, err)

	balances := book.ComputePortfolioBalances(true)
	require.Len(t, balances, 2)
	assert.True(t, balances["USD"].Equal(d("8000")), "got %s", balances["USD"])
	assert.True(t, balances["EUR"].Equal(d("3000")), "got %s", balances["EUR"])
}

func TestGetPositionReturnsACopy(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", d("100"), "USD", d("50"))
	require.NoError(t, err)

	pos, _ := book.GetPosition("AAPL", true)
	pos.Quantity = d("999")

	again, _ := book.GetPosition("AAPL", true)
	assert.True(t, again.Quantity.Equal(d("100")))
}

func TestUpdatePositionRejectsZeroQuantity(t *testing.T) {
	book := newTestBook()

	_, err := book.UpdatePosition("AAPL", decimal.Zero, "USD", d("50"))
	assert.Error(t, err)
}
