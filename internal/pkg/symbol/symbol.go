package symbol

import (
	"strings"
)

// quoteSuffixes are stripped from raw signal tickers. Hyperliquid perps are
// keyed by base coin only.
var quoteSuffixes = []string{"-PERP", "PERP", "/USDT", "USDT", "/USDC", "USDC", "/USD"}

// Normalize turns "ethusdt", "ETH-PERP", "ETH/USDT:USDT" into "ETH".
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}
	return strings.TrimRight(s, "-/_ ")
}

func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
