package livehttp

import (
	"context"
	"time"

	"hlfleet/internal/engine"
	"hlfleet/internal/store"
)

// Identity is what the router needs from a running engine.
type Identity interface {
	BotID() string
	Heartbeats() []engine.LoopStatus
	StatusCounts(ctx context.Context) (map[store.SignalStatus]int, error)
}

// Controls reads and writes the admin command ledger.
type Controls interface {
	LatestAdminCommand(ctx context.Context, bot string) (*store.AdminControl, error)
	InsertAdminCommand(ctx context.Context, bot string, cmd store.AdminCommand) error
}

// EventLister exposes the execution audit trail.
type EventLister interface {
	ListEvents(ctx context.Context, bot string, limit int) ([]store.Event, error)
}

type IdentitySummary struct {
	BotID   string                     `json:"bot_id"`
	Paused  bool                       `json:"paused"`
	Command string                     `json:"last_command,omitempty"`
	Loops   []engine.LoopStatus        `json:"loops"`
	Signals map[store.SignalStatus]int `json:"signals"`
}

type EventView struct {
	SignalID  int64          `json:"signal_id,omitempty"`
	Symbol    string         `json:"symbol,omitempty"`
	Kind      string         `json:"kind"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
