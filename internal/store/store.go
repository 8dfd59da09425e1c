// Package store defines the persistent signal ledger shared by every engine
// loop. The ledger is the only coordination point between loops: ownership of
// a row is taken with conditional updates, never with in-process locks.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: record not found")

// MaxTargets is the number of take-profit slots on a signal row.
const MaxTargets = 5

type SignalKind string

const (
	KindEntry SignalKind = "entry"
	KindExit  SignalKind = "exit"
)

type SignalStatus string

const (
	StatusPending SignalStatus = "pending"
	// StatusProcessing marks a row claimed by a dispatcher that has not
	// finished placing its orders yet.
	StatusProcessing SignalStatus = "processing"
	StatusFilled     SignalStatus = "filled"
	StatusFailed     SignalStatus = "failed"
	StatusExecuted   SignalStatus = "executed"
	StatusNoOp       SignalStatus = "no_op"
	StatusExpired    SignalStatus = "expired"
	StatusClosed     SignalStatus = "closed"
)

type AdminCommand string

const (
	CommandPause  AdminCommand = "PAUSE"
	CommandResume AdminCommand = "RESUME"
)

// Signal is one row of the ledger. Order ids are venue-assigned and zero when
// absent.
type Signal struct {
	ID               int64
	BotName          string
	Symbol           string
	Direction        string
	Kind             SignalKind
	Status           SignalStatus
	EntryPrice       *float64
	StopLoss         *float64
	Targets          [MaxTargets]*float64
	Confidence       *int
	PositionSize     float64
	OrderIDEntry     int64
	OrderIDSL        int64
	TargetOrderIDs   [MaxTargets]int64
	TargetFilledAt   [MaxTargets]*time.Time
	BreakevenClaimed bool
	BESLOrderID      int64
	PnLPercent       *float64
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TargetPrices returns the populated take-profit prices in slot order.
func (s Signal) TargetPrices() []float64 {
	out := make([]float64, 0, MaxTargets)
	for _, t := range s.Targets {
		if t != nil && *t > 0 {
			out = append(out, *t)
		}
	}
	return out
}

// TargetIndex returns the 1-based take-profit slot whose order id is oid, or
// zero.
func (s Signal) TargetIndex(oid int64) int {
	if oid == 0 {
		return 0
	}
	for i, id := range s.TargetOrderIDs {
		if id == oid {
			return i + 1
		}
	}
	return 0
}

// IsLong reports whether the direction opens a long position. Bullish is an
// alias for long.
func IsLong(direction string) bool {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "long", "bullish":
		return true
	default:
		return false
	}
}

// FilledEntry is what the dispatcher persists after placing an entry.
type FilledEntry struct {
	Size           float64
	StopLoss       float64
	OrderIDEntry   int64
	OrderIDSL      int64
	TargetOrderIDs []int64
	Note           string
}

type AdminControl struct {
	ID        int64
	BotID     string
	Command   AdminCommand
	CreatedAt time.Time
}

// Event is an audit record of a side effect the engine performed.
type Event struct {
	BotName   string
	SignalID  int64
	Symbol    string
	Kind      string
	Details   map[string]any
	CreatedAt time.Time
}

// SignalStore is the ledger used by the engine. Methods returning bool report
// whether a conditional update won; false is never an error.
type SignalStore interface {
	GetSignal(ctx context.Context, id int64) (*Signal, error)
	NextPending(ctx context.Context, bot string, kind SignalKind) (*Signal, error)
	ClaimPending(ctx context.Context, id int64) (bool, error)
	// ReleaseClaim returns a claimed row to pending when nothing was sent to
	// the venue yet.
	ReleaseClaim(ctx context.Context, id int64) error
	MarkFilled(ctx context.Context, id int64, fill FilledEntry) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	MarkExecuted(ctx context.Context, id int64, note string) error

	ListOpenEntries(ctx context.Context, bot string) ([]Signal, error)
	ListBreakevenCandidates(ctx context.Context, bot string, since time.Time) ([]Signal, error)
	FindByTakeProfitOrder(ctx context.Context, bot string, oid int64, since time.Time) (*Signal, int, error)
	RecordTargetFill(ctx context.Context, id int64, target int, at time.Time) error
	LatestFilledEntry(ctx context.Context, bot, symbol string) (*Signal, error)
	NextExitAfter(ctx context.Context, bot, symbol string, after time.Time) (*Signal, error)
	SetPnL(ctx context.Context, id int64, pnlPercent float64, note string) error

	ClaimBreakeven(ctx context.Context, id int64) (bool, error)
	CompleteBreakeven(ctx context.Context, id int64, orderID int64) error
	RollbackBreakeven(ctx context.Context, id int64, reason string) error

	CloseGhost(ctx context.Context, id int64, pnlPercent *float64) (bool, error)
	ExpireEntry(ctx context.Context, id int64, note string) (bool, error)

	LatestAdminCommand(ctx context.Context, bot string) (*AdminControl, error)
	StatusCounts(ctx context.Context, bot string) (map[SignalStatus]int, error)

	InsertSignal(ctx context.Context, sig *Signal) (int64, error)
	InsertAdminCommand(ctx context.Context, bot string, cmd AdminCommand) error
	AppendEvent(ctx context.Context, ev Event) error

	Close() error
}
