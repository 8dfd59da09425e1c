package exchange

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNoPosition = errors.New("no open position")

// RejectionError is a venue-side refusal of an otherwise well-formed request.
// It is terminal for the signal that caused it.
type RejectionError struct {
	Symbol string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Symbol == "" {
		return "order rejected: " + e.Reason
	}
	return fmt.Sprintf("order rejected (%s): %s", e.Symbol, e.Reason)
}

// IsRejection reports whether err wraps a *RejectionError.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// OrderKind is one of LimitGTC, StopTrigger or TakeProfitTrigger.
type OrderKind interface {
	isOrderKind()
}

// LimitGTC rests on the book at Price until filled or cancelled.
type LimitGTC struct {
	Price float64
}

// StopTrigger becomes a market order once TriggerPrice trades.
type StopTrigger struct {
	TriggerPrice float64
}

// TakeProfitTrigger becomes a market order once TriggerPrice trades.
type TakeProfitTrigger struct {
	TriggerPrice float64
}

func (LimitGTC) isOrderKind()          {}
func (StopTrigger) isOrderKind()       {}
func (TakeProfitTrigger) isOrderKind() {}

// KindName is a short label used for logs and metrics.
func KindName(k OrderKind) string {
	switch k.(type) {
	case LimitGTC:
		return "limit"
	case StopTrigger:
		return "stop"
	case TakeProfitTrigger:
		return "take_profit"
	default:
		return "unknown"
	}
}

type OrderRequest struct {
	Symbol     string
	IsBuy      bool
	Size       float64
	ReduceOnly bool
	Kind       OrderKind
}

type OrderResult struct {
	OrderID    int64
	Resting    bool
	FilledSize float64
	AvgPrice   float64
}

type CloseResult struct {
	OrderID  int64
	Size     float64
	AvgPrice float64
}

// Position is a live perp position. Size is signed: negative for shorts.
type Position struct {
	Symbol        string
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
}

type AccountState struct {
	Equity     float64
	MarginUsed float64
	Positions  []Position
}

// OpenPositionCount counts positions with a non-zero size.
func (a AccountState) OpenPositionCount() int {
	n := 0
	for _, p := range a.Positions {
		if p.Size != 0 {
			n++
		}
	}
	return n
}

// Position returns the live position on symbol, if any.
func (a AccountState) Position(symbol string) (Position, bool) {
	for _, p := range a.Positions {
		if p.Symbol == symbol && p.Size != 0 {
			return p, true
		}
	}
	return Position{}, false
}

type OpenOrder struct {
	OrderID    int64
	Symbol     string
	IsBuy      bool
	Size       float64
	LimitPrice float64
	ReduceOnly bool
	IsTrigger  bool
	OrderType  string
	Timestamp  time.Time
}

type Fill struct {
	OrderID   int64
	Symbol    string
	Price     float64
	Size      float64
	Time      time.Time
	Dir       string
	ClosedPnL float64
}

// IsClose reports whether the fill reduced a position ("Close Long", "Close
// Short").
func (f Fill) IsClose() bool {
	return strings.Contains(f.Dir, "Close")
}
