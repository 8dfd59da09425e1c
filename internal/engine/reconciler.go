package engine

import (
	"context"
	"fmt"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/metrics"
	"hlfleet/internal/pkg/symbol"
	"hlfleet/internal/store"
)

// ReconcileOnce heals the ledger against the venue. Filled rows whose coin
// has no live position are closed, stale resting entries are expired, and
// first-target fills the fill monitor missed get their breakeven stop. It
// never changes venue state except to cancel orders of an expired entry.
func (e *Engine) ReconcileOnce(ctx context.Context) (time.Duration, error) {
	open, err := e.store.ListOpenEntries(ctx, e.cfg.BotID)
	if err != nil {
		return 0, transient("list open entries", err)
	}

	var fills []exchange.Fill
	fillsLoaded := false
	loadFills := func() ([]exchange.Fill, error) {
		if fillsLoaded {
			return fills, nil
		}
		f, err := e.gw.Fills(ctx)
		if err != nil {
			return nil, transient("fetch fills", err)
		}
		fills, fillsLoaded = f, true
		return fills, nil
	}

	if len(open) > 0 {
		// Orders before positions: an entry that fills between the two reads
		// then still shows up as a live position.
		orders, err := e.gw.OpenOrders(ctx)
		if err != nil {
			return 0, transient("list open orders", err)
		}
		resting := make(map[int64]exchange.OpenOrder, len(orders))
		for _, o := range orders {
			resting[o.OrderID] = o
		}
		state, err := e.gw.AccountState(ctx)
		if err != nil {
			return 0, transient("load account state", err)
		}
		live := make(map[string]struct{}, len(state.Positions))
		for _, p := range state.Positions {
			if p.Size != 0 {
				live[symbol.Normalize(p.Symbol)] = struct{}{}
			}
		}

		for i := range open {
			sig := &open[i]
			coin := symbol.Normalize(sig.Symbol)
			if _, ok := live[coin]; ok {
				continue
			}
			if o, ok := resting[sig.OrderIDEntry]; ok && sig.OrderIDEntry != 0 {
				e.checkStale(ctx, sig, coin, o, resting)
				continue
			}
			f, err := loadFills()
			if err != nil {
				return 0, err
			}
			if err := e.healGhost(ctx, sig, coin, f); err != nil {
				return 0, err
			}
		}
	}

	if e.Risk().BreakevenEnabled {
		if err := e.checkMissedBreakeven(ctx, loadFills); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// healGhost closes a filled row whose position is gone, with the PnL of the
// most recent closing fill on the coin when one exists.
func (e *Engine) healGhost(ctx context.Context, sig *store.Signal, coin string, fills []exchange.Fill) error {
	e.log.Warnf("ghost position detected: %s (signal #%d)", coin, sig.ID)
	pnl := e.recoverPnL(*sig, coin, fills)
	closed, err := e.store.CloseGhost(ctx, sig.ID, pnl)
	if err != nil {
		return transient("close ghost", err)
	}
	if !closed {
		return nil
	}
	metrics.IncGhostHealed(e.cfg.BotID)
	details := map[string]any{"pnl_available": pnl != nil}
	if pnl != nil {
		details["pnl_percent"] = *pnl
		e.log.Infof("reconciled %s: closed, pnl=%.2f%%", coin, *pnl)
	} else {
		e.log.Infof("reconciled %s: closed (PnL data unavailable)", coin)
	}
	e.audit(ctx, sig, "ghost_healed", details)
	return nil
}

// recoverPnL scans the last FillLookback fills, newest first, for a closing
// fill on coin with a realized PnL.
func (e *Engine) recoverPnL(sig store.Signal, coin string, fills []exchange.Fill) *float64 {
	start := 0
	if len(fills) > e.cfg.FillLookback {
		start = len(fills) - e.cfg.FillLookback
	}
	for i := len(fills) - 1; i >= start; i-- {
		f := fills[i]
		if f.Symbol != coin || !f.IsClose() || f.ClosedPnL == 0 {
			continue
		}
		if pnl, ok := pnlPercent(f.ClosedPnL, sig); ok {
			return &pnl
		}
		return nil
	}
	return nil
}

// checkStale expires a row whose entry order has rested unfilled for longer
// than StaleEntryAfter, cancelling whatever of its bracket is still open.
func (e *Engine) checkStale(ctx context.Context, sig *store.Signal, coin string, entry exchange.OpenOrder, resting map[int64]exchange.OpenOrder) {
	if e.cfg.StaleEntryAfter <= 0 {
		return
	}
	placedAt := entry.Timestamp
	if placedAt.IsZero() {
		placedAt = sig.CreatedAt
	}
	age := e.nowFn().Sub(placedAt)
	if age <= e.cfg.StaleEntryAfter {
		return
	}
	e.log.Warnf("entry for %s (signal #%d) resting for %s, expiring", coin, sig.ID, age.Round(time.Minute))

	oids := []int64{sig.OrderIDEntry, sig.OrderIDSL}
	oids = append(oids, sig.TargetOrderIDs[:]...)
	cancelled := 0
	for _, oid := range oids {
		if oid == 0 {
			continue
		}
		if _, ok := resting[oid]; !ok {
			continue
		}
		if err := e.gw.CancelOrder(ctx, coin, oid); err != nil {
			e.log.Warnf("cancel %s oid=%d failed: %v", coin, oid, err)
			continue
		}
		cancelled++
	}
	note := fmt.Sprintf("Expired: entry unfilled after %s, cancelled %d orders", age.Round(time.Minute), cancelled)
	expired, err := e.store.ExpireEntry(ctx, sig.ID, note)
	if err != nil {
		e.log.Errorf("expire signal #%d failed: %v", sig.ID, err)
		return
	}
	if expired {
		metrics.IncStaleExpired(e.cfg.BotID)
		e.audit(ctx, sig, "stale_expired", map[string]any{"cancelled": cancelled, "age_seconds": int64(age.Seconds())})
	}
}

// checkMissedBreakeven promotes rows whose TP1 order shows up among recent
// fills but whose breakeven flag is still unset.
func (e *Engine) checkMissedBreakeven(ctx context.Context, loadFills func() ([]exchange.Fill, error)) error {
	candidates, err := e.store.ListBreakevenCandidates(ctx, e.cfg.BotID, e.orderWindowStart())
	if err != nil {
		return transient("list breakeven candidates", err)
	}
	if len(candidates) == 0 {
		return nil
	}
	fills, err := loadFills()
	if err != nil {
		e.log.Warnf("could not fetch fills for breakeven check: %v", err)
		return nil
	}
	filled := make(map[int64]struct{}, len(fills))
	for _, f := range fills {
		filled[f.OrderID] = struct{}{}
	}
	for i := range candidates {
		sig := &candidates[i]
		tp1 := sig.TargetOrderIDs[0]
		if tp1 == 0 {
			continue
		}
		if _, ok := filled[tp1]; !ok {
			continue
		}
		e.log.Warnf("missed TP1 fill detected for %s (signal #%d), triggering fallback breakeven", sig.Symbol, sig.ID)
		if _, err := e.MoveStopToBreakeven(ctx, sig); err != nil {
			e.log.Errorf("fallback breakeven for signal #%d failed: %v", sig.ID, err)
		}
	}
	return nil
}
