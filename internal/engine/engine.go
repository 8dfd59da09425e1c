// Package engine runs one identity's execution loops: the signal dispatcher,
// the fill monitor and the position reconciler. The loops share nothing but
// the signal store; every ownership change goes through a conditional update
// there.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hlfleet/internal/config"
	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/logger"
	"hlfleet/internal/metrics"
	"hlfleet/internal/precision"
	"hlfleet/internal/scheduler"
	"hlfleet/internal/store"

	"golang.org/x/sync/errgroup"
)

const (
	LoopDispatch  = "dispatch"
	LoopFills     = "fills"
	LoopReconcile = "reconcile"
)

// Config is the resolved per-identity configuration plus loop cadences.
type Config struct {
	BotID string
	Risk  config.RiskConfig

	DispatchIdle      time.Duration
	DispatchBusy      time.Duration
	ErrorBackoff      time.Duration
	FillInterval      time.Duration
	FullRescan        time.Duration
	ReconcileInterval time.Duration
	OrderIDWindow     time.Duration
	StaleEntryAfter   time.Duration
	FillLookback      int
}

func NewConfig(id config.ResolvedIdentity, ec config.EngineConfig) Config {
	return Config{
		BotID:             id.BotID,
		Risk:              id.Risk,
		DispatchIdle:      ec.DispatchIdle(),
		DispatchBusy:      ec.DispatchBusy(),
		ErrorBackoff:      ec.ErrorBackoff(),
		FillInterval:      ec.FillInterval(),
		FullRescan:        ec.FullRescan(),
		ReconcileInterval: ec.ReconcileInterval(),
		OrderIDWindow:     ec.OrderIDWindow(),
		StaleEntryAfter:   ec.StaleEntryAfter(),
		FillLookback:      ec.FillLookback,
	}
}

// LoopStatus is the heartbeat of one loop.
type LoopStatus struct {
	Loop      string    `json:"loop"`
	Ticks     int64     `json:"ticks"`
	Errors    int64     `json:"errors"`
	LastTick  time.Time `json:"last_tick"`
	LastError string    `json:"last_error,omitempty"`
}

type Engine struct {
	cfg   Config
	gw    exchange.Gateway
	store store.SignalStore
	table *precision.Table
	log   logger.Scope
	nowFn func() time.Time

	// fill monitor state, touched only by the fills loop
	watermark    time.Time
	lastFullScan time.Time

	hbMu       sync.Mutex
	heartbeats map[string]*LoopStatus

	riskMu sync.RWMutex
}

func New(cfg Config, gw exchange.Gateway, st store.SignalStore, table *precision.Table) (*Engine, error) {
	if cfg.BotID == "" {
		return nil, errors.New("engine: bot id is required")
	}
	if gw == nil || st == nil {
		return nil, errors.New("engine: gateway and store are required")
	}
	if table == nil {
		table = precision.NewTable(nil)
	}
	if cfg.OrderIDWindow <= 0 {
		cfg.OrderIDWindow = 30 * 24 * time.Hour
	}
	if cfg.FillLookback <= 0 {
		cfg.FillLookback = 100
	}
	return &Engine{
		cfg:        cfg,
		gw:         gw,
		store:      st,
		table:      table,
		log:        logger.Scoped(cfg.BotID),
		nowFn:      func() time.Time { return time.Now().UTC() },
		heartbeats: make(map[string]*LoopStatus),
	}, nil
}

func (e *Engine) BotID() string { return e.cfg.BotID }

// Risk returns the risk parameters currently in force.
func (e *Engine) Risk() config.RiskConfig {
	e.riskMu.RLock()
	defer e.riskMu.RUnlock()
	return e.cfg.Risk
}

// UpdateRisk swaps the risk parameters used by subsequent ticks. Signals
// already in flight keep the values they were planned with.
func (e *Engine) UpdateRisk(risk config.RiskConfig) {
	e.riskMu.Lock()
	defer e.riskMu.Unlock()
	e.cfg.Risk = risk
	e.log.Infof("risk updated (risk=%.4g lev=%.4g max=%d breakeven=%v)",
		risk.RiskPerTrade, risk.MaxLeverage, risk.MaxConcurrentPositions, risk.BreakevenEnabled)
}

// Run starts the three loops and blocks until ctx is done. Loops never fail;
// tick errors are logged and retried inside each loop.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Infof("engine starting (instruments=%d breakeven=%v)", e.table.Len(), e.Risk().BreakevenEnabled)
	g, gctx := errgroup.WithContext(ctx)
	start := func(name string, interval time.Duration, task scheduler.TickFunc) {
		loop := scheduler.NewLoop(gctx, e.cfg.BotID+"/"+name, interval, e.cfg.ErrorBackoff)
		loop.OnTick = func(_ string, at time.Time, err error) { e.observe(name, at, err) }
		g.Go(func() error {
			loop.Start(task)
			return nil
		})
	}
	start(LoopDispatch, e.cfg.DispatchIdle, e.DispatchOnce)
	start(LoopFills, e.cfg.FillInterval, e.MonitorFillsOnce)
	start(LoopReconcile, e.cfg.ReconcileInterval, e.ReconcileOnce)
	err := g.Wait()
	e.log.Infof("engine stopped")
	return err
}

func (e *Engine) observe(loop string, at time.Time, err error) {
	metrics.ObserveTick(e.cfg.BotID, loop, at, err)
	e.hbMu.Lock()
	defer e.hbMu.Unlock()
	hb, ok := e.heartbeats[loop]
	if !ok {
		hb = &LoopStatus{Loop: loop}
		e.heartbeats[loop] = hb
	}
	hb.Ticks++
	hb.LastTick = at.UTC()
	if err != nil {
		hb.Errors++
		hb.LastError = err.Error()
	}
}

// Heartbeats returns a snapshot of every loop that has ticked, by name.
func (e *Engine) Heartbeats() []LoopStatus {
	e.hbMu.Lock()
	defer e.hbMu.Unlock()
	out := make([]LoopStatus, 0, len(e.heartbeats))
	for _, hb := range e.heartbeats {
		out = append(out, *hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Loop < out[j].Loop })
	return out
}

// StatusCounts reports the identity's ledger rows by status.
func (e *Engine) StatusCounts(ctx context.Context) (map[store.SignalStatus]int, error) {
	return e.store.StatusCounts(ctx, e.cfg.BotID)
}

// audit records a side effect. A failed write is logged and ignored.
func (e *Engine) audit(ctx context.Context, sig *store.Signal, kind string, details map[string]any) {
	ev := store.Event{BotName: e.cfg.BotID, Kind: kind, Details: details, CreatedAt: e.nowFn()}
	if sig != nil {
		ev.SignalID = sig.ID
		ev.Symbol = sig.Symbol
	}
	if err := e.store.AppendEvent(ctx, ev); err != nil {
		e.log.Warnf("audit %s failed: %v", kind, err)
	}
}

// placeOrder submits req and records the outcome in metrics.
func (e *Engine) placeOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	kind := exchange.KindName(req.Kind)
	res, err := e.gw.PlaceOrder(ctx, req)
	switch {
	case err == nil:
		metrics.IncOrder(e.cfg.BotID, kind, "ok")
	case exchange.IsRejection(err):
		metrics.IncOrder(e.cfg.BotID, kind, "rejected")
	default:
		metrics.IncOrder(e.cfg.BotID, kind, "error")
	}
	if err != nil {
		return res, fmt.Errorf("place %s order: %w", kind, err)
	}
	return res, nil
}

func (e *Engine) orderWindowStart() time.Time {
	return e.nowFn().Add(-e.cfg.OrderIDWindow)
}
