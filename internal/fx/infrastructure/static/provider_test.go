package static

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradesim/fundaccounting/internal/fx/domain"
)

func TestProviderDirectPair(t *testing.T) {
	p, err := NewProvider(map[string]string{"EURUSD": "1.08"})
	require.NoError(t, err)

	rate, err := p.GetRate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.RequireFromString("1.08")))
}

func TestProviderInversePair(t *testing.T) {
	p, err := NewProvider(map[string]string{"USDJPY": "148.50"})
	require.NoError(t, err)

	rate, err := p.GetRate(context.Background(), "JPY", "USD")
	require.NoError(t, err)

	expected := decimal.NewFromInt(1).Div(decimal.RequireFromString("148.50"))
	assert.True(t, rate.Rate.Equal(expected))
}

func TestProviderMissingPair(t *testing.T) {
	p, err := NewProvider(nil)
	require.NoError(t, err)

	_, err = p.GetRate(context.Background(), "EUR", "USD")
	assert.ErrorIs(t, err, domain.ErrRateNotFound)
}

func TestNewProviderRejectsBadRates(t *testing.T) {
	_, err := NewProvider(map[string]string{"EURUSD": "abc"})
	assert.Error(t, err)

	_, err = NewProvider(map[string]string{"EURUSD": "-1"})
	assert.Error(t, err)
}
