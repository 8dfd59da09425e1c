package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"hlfleet/internal/config"
)

type StartupSummary struct {
	Env        string
	StorePath  string
	APIURL     string
	Mainnet    bool
	HTTPAddr   string
	Identities []IdentitySummary
	Skipped    []SkippedIdentity
}

type IdentitySummary struct {
	BotID       string
	Risk        config.RiskConfig
	Instruments int
}

type SkippedIdentity struct {
	BotID  string
	Reason string
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	title := "STARTUP SUMMARY"
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	network := "testnet"
	if s.Mainnet {
		network = "mainnet"
	}
	fmt.Fprintln(w, "[VENUE]")
	fmt.Fprintf(w, "  Network: %s\n", network)
	fmt.Fprintf(w, "  API:     %s\n", orDash(s.APIURL))
	fmt.Fprintf(w, "  Store:   %s\n", orDash(s.StorePath))
	fmt.Fprintf(w, "  HTTP:    %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[IDENTITIES]")
	if len(s.Identities) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, id := range s.Identities {
		fmt.Fprintf(w, "  > %s (%d instruments)\n", id.BotID, id.Instruments)
		fmt.Fprintf(w, "    risk/trade: %.4g  max leverage: %.4gx  default SL: %.4g\n",
			id.Risk.RiskPerTrade, id.Risk.MaxLeverage, id.Risk.DefaultSLDist)
		fmt.Fprintf(w, "    max positions: %d  directions: %s  breakeven: %t\n",
			id.Risk.MaxConcurrentPositions, formatList(id.Risk.AllowedDirections), id.Risk.BreakevenEnabled)
	}
	if len(s.Skipped) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "[SKIPPED]")
		for _, sk := range s.Skipped {
			fmt.Fprintf(w, "  - %s: %s\n", sk.BotID, sk.Reason)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
