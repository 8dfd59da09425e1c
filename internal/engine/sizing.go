package engine

import (
	"math"
	"strings"

	"hlfleet/internal/config"
)

type side string

const (
	sideLong  side = "long"
	sideShort side = "short"
)

// parseDirection accepts long/short and the bullish/bearish aliases.
func parseDirection(raw string) (side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "long", "bullish", "buy":
		return sideLong, true
	case "short", "bearish", "sell":
		return sideShort, true
	default:
		return "", false
	}
}

func directionAllowed(s side, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if d, ok := parseDirection(a); ok && d == s {
			return true
		}
	}
	return false
}

// defaultStop places the stop dist (a fraction of entry) away from entry on
// the losing side.
func defaultStop(entry, dist float64, s side) float64 {
	if s == sideLong {
		return entry - entry*dist
	}
	return entry + entry*dist
}

// riskFraction maps a 1..5 confidence score to 1%..5% of equity. Anything
// else falls back to the configured fraction.
func riskFraction(confidence *int, fallback float64) float64 {
	if confidence != nil && *confidence >= 1 && *confidence <= 5 {
		return float64(*confidence) * 0.01
	}
	return fallback
}

// positionSize returns the unrounded coin size risking the configured share of
// equity between entry and stop, capped at equity*maxLeverage notional.
func positionSize(equity, entry, stop float64, confidence *int, risk config.RiskConfig) (size float64, capped bool, err error) {
	if equity <= 0 {
		return 0, false, invalid("Account equity is %.2f, cannot size position", equity)
	}
	diff := math.Abs(entry - stop)
	if diff == 0 {
		return 0, false, invalid("Invalid SL (Price == SL)")
	}
	size = equity * riskFraction(confidence, risk.RiskPerTrade) / diff
	if risk.MaxLeverage > 0 {
		maxNotional := equity * risk.MaxLeverage
		if size*entry > maxNotional {
			size = maxNotional / entry
			capped = true
		}
	}
	return size, capped, nil
}
