// Package precision converts raw prices and sizes into values the venue
// accepts. Everything here is pure; the size-decimals table is loaded once per
// identity at startup and never mutated afterwards.
package precision

import (
	"math"

	"hlfleet/internal/pkg/symbol"

	"github.com/shopspring/decimal"
)

const (
	// DefaultSizeDecimals applies to symbols missing from the metadata table.
	DefaultSizeDecimals = 3
	// MaxSignificantFigures caps every submitted price.
	MaxSignificantFigures = 5
	// MaxPriceDecimals is the perp price decimal budget shared with size decimals.
	MaxPriceDecimals = 6
)

// Table maps a normalized coin to its allowed size decimals.
type Table struct {
	decimals map[string]int
}

func NewTable(decimals map[string]int) *Table {
	out := make(map[string]int, len(decimals))
	for coin, d := range decimals {
		key := symbol.Normalize(coin)
		if key == "" || d < 0 {
			continue
		}
		out[key] = d
	}
	return &Table{decimals: out}
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.decimals)
}

// SizeDecimals returns the size granularity for coin, falling back to
// DefaultSizeDecimals.
func (t *Table) SizeDecimals(coin string) int {
	if t == nil {
		return DefaultSizeDecimals
	}
	if d, ok := t.decimals[symbol.Normalize(coin)]; ok {
		return d
	}
	return DefaultSizeDecimals
}

// RoundSize rounds size to the coin's size decimals.
func (t *Table) RoundSize(coin string, size float64) float64 {
	if !finite(size) {
		return size
	}
	return toFloat(decimal.NewFromFloat(size).Round(int32(t.SizeDecimals(coin))))
}

// RoundPrice applies the significant-figure cap and the decimal cap and keeps
// the stricter one. A negative allowance rounds to tens, hundreds and so on.
// Zero and non-finite inputs are returned unchanged.
func (t *Table) RoundPrice(coin string, price float64) float64 {
	if price == 0 || !finite(price) {
		return price
	}
	return toFloat(decimal.NewFromFloat(price).Round(int32(t.PriceDecimals(coin, price))))
}

// PriceDecimals reports how many decimals RoundPrice keeps for price.
func (t *Table) PriceDecimals(coin string, price float64) int {
	magnitude := int(math.Floor(math.Log10(math.Abs(price))))
	sigFigDecimals := MaxSignificantFigures - 1 - magnitude
	maxDecimals := MaxPriceDecimals - t.SizeDecimals(coin)
	if sigFigDecimals < maxDecimals {
		return sigFigDecimals
	}
	return maxDecimals
}

// SplitSize divides total into n equal shares rounded to the coin's size
// decimals. The last share takes whatever the others leave so the shares sum
// to the rounded total exactly.
func (t *Table) SplitSize(coin string, total float64, n int) []float64 {
	if n <= 0 || !finite(total) {
		return nil
	}
	places := int32(t.SizeDecimals(coin))
	totalDec := decimal.NewFromFloat(total).Round(places)
	share := totalDec.Div(decimal.NewFromInt(int64(n))).Round(places)
	out := make([]float64, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		out[i] = toFloat(share)
		allocated = allocated.Add(share)
	}
	out[n-1] = toFloat(totalDec.Sub(allocated).Round(places))
	return out
}

// RemainingAfterFirstTarget is the size still open once target #1 of
// numTargets equal targets has filled.
func (t *Table) RemainingAfterFirstTarget(coin string, size float64, numTargets int) float64 {
	if numTargets <= 0 || !finite(size) {
		return 0
	}
	dec := decimal.NewFromFloat(size).
		Mul(decimal.NewFromInt(int64(numTargets - 1))).
		Div(decimal.NewFromInt(int64(numTargets)))
	return toFloat(dec.Round(int32(t.SizeDecimals(coin))))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
