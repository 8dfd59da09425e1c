package precision

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundPrice(t *testing.T) {
	table := NewTable(map[string]int{"BTC": 5, "ETH": 4, "XYZ": 3, "PEPE": 0, "DOGE": 0})

	tests := []struct {
		name  string
		coin  string
		price float64
		want  float64
	}{
		{"five sig figs bind over decimal cap", "XYZ", 12345.678, 12346},
		{"decimal cap binds for small prices", "ETH", 1.234567, 1.23},
		{"btc keeps one decimal", "BTC", 97123.45, 97123},
		{"negative allowance rounds to tens", "XYZ", 123456.7, 123460},
		{"sub-cent coin keeps six decimals", "PEPE", 0.0000123456, 0.000012},
		{"sig figs bind for sub-unit coin", "DOGE", 0.123456789, 0.12346},
		{"unknown symbol uses default decimals", "NEW", 2.3456789, 2.346},
		{"negative price keeps sign", "XYZ", -12.34567, -12.346},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, table.RoundPrice(tc.coin, tc.price), 1e-12)
		})
	}
}

func TestRoundPriceEdgeInputs(t *testing.T) {
	table := NewTable(nil)
	assert.Equal(t, 0.0, table.RoundPrice("ETH", 0))
	assert.True(t, math.IsNaN(table.RoundPrice("ETH", math.NaN())))
	assert.True(t, math.IsInf(table.RoundPrice("ETH", math.Inf(1)), 1))
}

func TestRoundPriceRespectsBothCaps(t *testing.T) {
	table := NewTable(map[string]int{"XYZ": 3})
	got := table.RoundPrice("XYZ", 12345.678)
	d := decimal.NewFromFloat(got)
	assert.LessOrEqual(t, -d.Exponent(), int32(3))
	assert.LessOrEqual(t, len(d.Coefficient().String()), MaxSignificantFigures)
}

func TestRoundSize(t *testing.T) {
	table := NewTable(map[string]int{"eth": 4, "BTC-PERP": 5, "DOGE": 0})
	assert.Equal(t, 4, table.SizeDecimals("ETH"))
	assert.Equal(t, 5, table.SizeDecimals("BTC"))
	assert.InDelta(t, 1.2346, table.RoundSize("ETHUSDT", 1.234567), 1e-12)
	assert.InDelta(t, 0.00012, table.RoundSize("BTC", 0.000123), 1e-12)
	assert.Equal(t, 13.0, table.RoundSize("DOGE", 12.6))
	assert.Equal(t, 0.0, table.RoundSize("DOGE", 0.4))
}

func TestSplitSizeSumsExactly(t *testing.T) {
	table := NewTable(map[string]int{"ETH": 2})
	shares := table.SplitSize("ETH", 1.0, 3)
	require.Len(t, shares, 3)
	assert.Equal(t, []float64{0.33, 0.33, 0.34}, shares)

	sum := decimal.Zero
	for _, s := range shares {
		sum = sum.Add(decimal.NewFromFloat(s))
	}
	assert.True(t, sum.Equal(decimal.NewFromFloat(table.RoundSize("ETH", 1.0))), "sum=%s", sum)
}

func TestSplitSizeManyTargets(t *testing.T) {
	table := NewTable(map[string]int{"SOL": 1})
	for n := 1; n <= 5; n++ {
		total := 7.3
		shares := table.SplitSize("SOL", total, n)
		require.Len(t, shares, n)
		sum := decimal.Zero
		for _, s := range shares {
			sum = sum.Add(decimal.NewFromFloat(s))
		}
		assert.True(t, sum.Equal(decimal.NewFromFloat(total)), "n=%d sum=%s", n, sum)
	}
	assert.Nil(t, table.SplitSize("SOL", 1, 0))
}

func TestRemainingAfterFirstTarget(t *testing.T) {
	table := NewTable(map[string]int{"ETH": 3})
	assert.InDelta(t, 0.75, table.RemainingAfterFirstTarget("ETH", 1.0, 4), 1e-12)
	assert.InDelta(t, 0.667, table.RemainingAfterFirstTarget("ETH", 1.0, 3), 1e-12)
	assert.Equal(t, 0.0, table.RemainingAfterFirstTarget("ETH", 1.0, 1))
	assert.Equal(t, 0.0, table.RemainingAfterFirstTarget("ETH", 1.0, 0))
}
