package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/store"
)

// MonitorFillsOnce processes every fill newer than the watermark. The
// watermark is reset once per FullRescan so fills missed during an outage or
// restart are picked up again.
func (e *Engine) MonitorFillsOnce(ctx context.Context) (time.Duration, error) {
	now := e.nowFn()
	switch {
	case e.lastFullScan.IsZero():
		e.lastFullScan = now
	case e.cfg.FullRescan > 0 && now.Sub(e.lastFullScan) > e.cfg.FullRescan:
		e.log.Infof("fill monitor: periodic full scan for missed fills")
		e.watermark = time.Time{}
		e.lastFullScan = now
	}

	fills, err := e.gw.Fills(ctx)
	if err != nil {
		return 0, transient("fetch fills", err)
	}
	// Fills of one block share a timestamp, so the cut-off stays fixed for
	// the whole pass and only moves once every fill was handled.
	since, newest := e.watermark, e.watermark
	for _, f := range fills {
		if !f.Time.After(since) {
			continue
		}
		if err := e.processFill(ctx, f); err != nil {
			return 0, err
		}
		if f.Time.After(newest) {
			newest = f.Time
		}
	}
	e.watermark = newest
	return 0, nil
}

func (e *Engine) processFill(ctx context.Context, f exchange.Fill) error {
	e.log.Debugf("fill %s oid=%d dir=%q px=%v sz=%v", f.Symbol, f.OrderID, f.Dir, f.Price, f.Size)
	if f.IsClose() && f.ClosedPnL != 0 {
		if err := e.trackClosure(ctx, f); err != nil {
			e.log.Errorf("track closure for %s failed: %v", f.Symbol, err)
		}
	}

	sig, target, err := e.store.FindByTakeProfitOrder(ctx, e.cfg.BotID, f.OrderID, e.orderWindowStart())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return transient("match take profit", err)
	}
	if target == 0 {
		return nil
	}
	if sig.TargetFilledAt[target-1] == nil {
		e.log.Infof("TP%d filled: %s signal #%d", target, f.Symbol, sig.ID)
		if err := e.store.RecordTargetFill(ctx, sig.ID, target, f.Time); err != nil {
			return transient("record target fill", err)
		}
	}
	if target == 1 && !sig.BreakevenClaimed && e.Risk().BreakevenEnabled {
		e.log.Infof("triggering breakeven for signal #%d", sig.ID)
		if _, err := e.MoveStopToBreakeven(ctx, sig); err != nil {
			e.log.Errorf("breakeven for signal #%d failed: %v", sig.ID, err)
		}
	}
	return nil
}

// trackClosure attributes a realized PnL to the latest filled entry on the
// coin and to the first settled exit created after it.
func (e *Engine) trackClosure(ctx context.Context, f exchange.Fill) error {
	if f.Size == 0 {
		return nil
	}
	entry, err := e.store.LatestFilledEntry(ctx, e.cfg.BotID, f.Symbol)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warnf("position closed for %s but no filled entry found", f.Symbol)
		return nil
	}
	if err != nil {
		return err
	}
	pnl, ok := pnlPercent(f.ClosedPnL, *entry)
	if !ok {
		return nil
	}
	if entry.PnLPercent != nil && math.Abs(*entry.PnLPercent-pnl) < 0.005 {
		return nil
	}
	e.log.Infof("position closed: %s entry=%v close=%v size=%v pnl=%.2f%% ($%.2f)",
		f.Symbol, deref(entry.EntryPrice), f.Price, entry.PositionSize, pnl, f.ClosedPnL)
	if err := e.store.SetPnL(ctx, entry.ID, pnl, fmt.Sprintf("Actual PnL: %.2f%%", pnl)); err != nil {
		return err
	}
	exit, err := e.store.NextExitAfter(ctx, e.cfg.BotID, f.Symbol, entry.CreatedAt)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.store.SetPnL(ctx, exit.ID, pnl, ""); err != nil {
		return err
	}
	e.log.Infof("exit signal #%d updated with actual PnL", exit.ID)
	return nil
}

// pnlPercent is closedPnL relative to the entry notional.
func pnlPercent(closedPnL float64, sig store.Signal) (float64, bool) {
	notional := deref(sig.EntryPrice) * sig.PositionSize
	if notional <= 0 {
		return 0, false
	}
	return closedPnL / notional * 100, true
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
