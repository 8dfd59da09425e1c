package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/metrics"
	"hlfleet/internal/pkg/symbol"
	"hlfleet/internal/pkg/text"
	"hlfleet/internal/store"
)

// maxReasonLen caps failure reasons stored on a signal row.
const maxReasonLen = 512

type targetOrder struct {
	slot  int
	price float64
	size  float64
}

type entryPlan struct {
	coin    string
	side    side
	size    float64
	entryPx float64
	stopPx  float64
	targets []targetOrder
}

func (p entryPlan) isBuy() bool { return p.side == sideLong }

// DispatchOnce is one dispatcher tick: honour the admin gate, then process
// the oldest pending exit, or when there is none the oldest pending entry.
// The returned delay shortens the next wait after an exit.
func (e *Engine) DispatchOnce(ctx context.Context) (time.Duration, error) {
	paused, err := e.paused(ctx)
	if err != nil {
		return 0, err
	}
	if paused {
		return 0, nil
	}

	exit, err := e.store.NextPending(ctx, e.cfg.BotID, store.KindExit)
	switch {
	case err == nil:
		if err := e.processExit(ctx, exit); err != nil {
			return 0, err
		}
		return e.cfg.DispatchBusy, nil
	case !errors.Is(err, store.ErrNotFound):
		return 0, transient("load pending exit", err)
	}

	entry, err := e.store.NextPending(ctx, e.cfg.BotID, store.KindEntry)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, transient("load pending entry", err)
	}
	return 0, e.processEntry(ctx, entry)
}

func (e *Engine) paused(ctx context.Context) (bool, error) {
	ctl, err := e.store.LatestAdminCommand(ctx, e.cfg.BotID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, transient("read admin controls", err)
	}
	if ctl.Command == store.CommandPause {
		e.log.Debugf("paused by admin command at %s", ctl.CreatedAt.Format(time.RFC3339))
		return true, nil
	}
	return false, nil
}

func (e *Engine) claim(ctx context.Context, sig *store.Signal) (bool, error) {
	ok, err := e.store.ClaimPending(ctx, sig.ID)
	if err != nil {
		return false, transient("claim signal", err)
	}
	if !ok {
		e.log.Debugf("signal #%d claimed elsewhere, skipping", sig.ID)
	}
	return ok, nil
}

// release hands a claimed row back to pending so the next tick retries it.
func (e *Engine) release(ctx context.Context, sig *store.Signal, cause error) error {
	if err := e.store.ReleaseClaim(ctx, sig.ID); err != nil {
		e.log.Errorf("release signal #%d failed: %v", sig.ID, err)
	}
	return cause
}

func (e *Engine) fail(ctx context.Context, sig *store.Signal, cause error) error {
	e.log.Warnf("signal #%d %s %s failed: %v", sig.ID, sig.Kind, sig.Symbol, cause)
	metrics.IncSignal(e.cfg.BotID, string(sig.Kind), "failed")
	reason := text.Truncate(cause.Error(), maxReasonLen)
	if err := e.store.MarkFailed(ctx, sig.ID, reason); err != nil {
		return transient("mark signal failed", err)
	}
	e.audit(ctx, sig, "signal_failed", map[string]any{"reason": reason})
	return nil
}

// processExit cancels every open order on the coin and flattens the
// position. A coin with nothing to close still settles as executed.
func (e *Engine) processExit(ctx context.Context, sig *store.Signal) error {
	ok, err := e.claim(ctx, sig)
	if err != nil || !ok {
		return err
	}
	coin := symbol.Normalize(sig.Symbol)
	e.log.Infof("exit signal #%d: %s", sig.ID, coin)

	orders, err := e.gw.OpenOrders(ctx)
	if err != nil {
		return e.release(ctx, sig, transient("list open orders", err))
	}
	var actions []string
	cancelled := 0
	for _, o := range orders {
		if o.Symbol != coin {
			continue
		}
		if err := e.gw.CancelOrder(ctx, coin, o.OrderID); err != nil {
			e.log.Warnf("cancel %s oid=%d failed: %v", coin, o.OrderID, err)
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		actions = append(actions, fmt.Sprintf("Cancelled %d Orders", cancelled))
		e.audit(ctx, sig, "orders_cancelled", map[string]any{"count": cancelled})
	}

	res, err := e.gw.CloseAtMarket(ctx, coin)
	switch {
	case errors.Is(err, exchange.ErrNoPosition):
	case exchange.IsRejection(err):
		return e.fail(ctx, sig, err)
	case err != nil:
		return e.release(ctx, sig, transient("close position", err))
	default:
		actions = append(actions, "Closed Position")
		e.audit(ctx, sig, "market_close", map[string]any{
			"oid":       res.OrderID,
			"size":      res.Size,
			"avg_price": res.AvgPrice,
		})
	}

	note := strings.Join(actions, " & ")
	if note == "" {
		note = "No active trade found (no orders or position)"
	}
	e.log.Infof("exit #%d %s done: %s", sig.ID, coin, note)
	if err := e.store.MarkExecuted(ctx, sig.ID, note); err != nil {
		return transient("mark exit executed", err)
	}
	metrics.IncSignal(e.cfg.BotID, string(store.KindExit), "executed")
	return nil
}

func (e *Engine) processEntry(ctx context.Context, sig *store.Signal) error {
	ok, err := e.claim(ctx, sig)
	if err != nil || !ok {
		return err
	}
	plan, err := e.planEntry(ctx, sig)
	if err != nil {
		if terminal(err) {
			return e.fail(ctx, sig, err)
		}
		return e.release(ctx, sig, err)
	}
	fill, err := e.executeEntry(ctx, sig, plan)
	if err != nil {
		// The entry may or may not be resting after a transport error, so
		// the row is settled rather than retried.
		return e.fail(ctx, sig, err)
	}
	if err := e.store.MarkFilled(ctx, sig.ID, fill); err != nil {
		e.log.Errorf("signal #%d orders placed but not recorded (entry oid=%d): %v", sig.ID, fill.OrderIDEntry, err)
		return transient("mark entry filled", err)
	}
	metrics.IncSignal(e.cfg.BotID, string(store.KindEntry), "filled")
	e.log.Infof("signal #%d %s placed: size=%v entry=%v sl=%v", sig.ID, plan.coin, plan.size, plan.entryPx, plan.stopPx)
	return nil
}

// planEntry validates the signal and derives every order of the bracket.
func (e *Engine) planEntry(ctx context.Context, sig *store.Signal) (entryPlan, error) {
	coin := symbol.Normalize(sig.Symbol)
	risk := e.Risk()
	e.log.Infof("entry signal #%d: %s (%s)", sig.ID, coin, sig.Direction)
	if sig.EntryPrice == nil || *sig.EntryPrice <= 0 {
		return entryPlan{}, invalid("Signal missing Entry Price")
	}
	dir, ok := parseDirection(sig.Direction)
	if !ok {
		return entryPlan{}, invalid("Unknown direction %q", sig.Direction)
	}
	if !directionAllowed(dir, risk.AllowedDirections) {
		return entryPlan{}, invalid("Direction %s not allowed for %s", dir, e.cfg.BotID)
	}

	state, err := e.gw.AccountState(ctx)
	if err != nil {
		return entryPlan{}, transient("load account state", err)
	}
	if limit := risk.MaxConcurrentPositions; limit > 0 {
		if open := state.OpenPositionCount(); open >= limit {
			return entryPlan{}, invalid("Max concurrent positions reached (%d/%d). Skipping new entry.", open, limit)
		}
	}

	entry := *sig.EntryPrice
	stop := 0.0
	if sig.StopLoss != nil {
		stop = *sig.StopLoss
	}
	if stop <= 0 {
		stop = defaultStop(entry, risk.DefaultSLDist, dir)
		e.log.Warnf("signal #%d has no SL, using safety stop %.6g", sig.ID, stop)
	}
	if (dir == sideLong && stop > entry) || (dir == sideShort && stop < entry) {
		return entryPlan{}, invalid("Invalid SL (%.6g on wrong side of entry %.6g)", stop, entry)
	}

	size, capped, err := positionSize(state.Equity, entry, stop, sig.Confidence, risk)
	if err != nil {
		return entryPlan{}, err
	}
	if capped {
		e.log.Warnf("signal #%d leverage cap hit, size reduced to %.6g", sig.ID, size)
	}
	size = e.table.RoundSize(coin, size)
	if size <= 0 {
		return entryPlan{}, invalid("Calculated size is 0 (Risk too small).")
	}

	plan := entryPlan{
		coin:    coin,
		side:    dir,
		size:    size,
		entryPx: e.table.RoundPrice(coin, entry),
		stopPx:  e.table.RoundPrice(coin, stop),
	}
	var slots []int
	for i, tp := range sig.Targets {
		if tp != nil && *tp > 0 {
			slots = append(slots, i+1)
		}
	}
	shares := e.table.SplitSize(coin, size, len(slots))
	for i, slot := range slots {
		plan.targets = append(plan.targets, targetOrder{
			slot:  slot,
			price: e.table.RoundPrice(coin, *sig.Targets[slot-1]),
			size:  shares[i],
		})
	}
	return plan, nil
}

// executeEntry places the limit entry, then the protective stop and the take
// profits. Only the entry is fatal; stop and target failures are noted.
func (e *Engine) executeEntry(ctx context.Context, sig *store.Signal, plan entryPlan) (store.FilledEntry, error) {
	entryRes, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol: plan.coin,
		IsBuy:  plan.isBuy(),
		Size:   plan.size,
		Kind:   exchange.LimitGTC{Price: plan.entryPx},
	})
	if err != nil {
		return store.FilledEntry{}, err
	}
	e.audit(ctx, sig, "order_placed", map[string]any{"role": "entry", "oid": entryRes.OrderID, "size": plan.size, "price": plan.entryPx})

	fill := store.FilledEntry{
		Size:           plan.size,
		StopLoss:       plan.stopPx,
		OrderIDEntry:   entryRes.OrderID,
		TargetOrderIDs: make([]int64, store.MaxTargets),
	}
	var notes []string

	slRes, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol:     plan.coin,
		IsBuy:      !plan.isBuy(),
		Size:       plan.size,
		ReduceOnly: true,
		Kind:       exchange.StopTrigger{TriggerPrice: plan.stopPx},
	})
	if err != nil {
		e.log.Warnf("signal #%d stop loss not placed: %v", sig.ID, err)
		notes = append(notes, "SL not placed: "+err.Error())
	} else {
		fill.OrderIDSL = slRes.OrderID
		e.audit(ctx, sig, "order_placed", map[string]any{"role": "stop", "oid": slRes.OrderID, "price": plan.stopPx})
	}

	placed := 0
	for _, tp := range plan.targets {
		if tp.size <= 0 {
			e.log.Warnf("signal #%d TP%d size too small after rounding, skipping", sig.ID, tp.slot)
			continue
		}
		res, err := e.placeOrder(ctx, exchange.OrderRequest{
			Symbol:     plan.coin,
			IsBuy:      !plan.isBuy(),
			Size:       tp.size,
			ReduceOnly: true,
			Kind:       exchange.TakeProfitTrigger{TriggerPrice: tp.price},
		})
		if err != nil {
			e.log.Errorf("signal #%d TP%d placement failed: %v", sig.ID, tp.slot, err)
			notes = append(notes, fmt.Sprintf("TP%d not placed", tp.slot))
			continue
		}
		fill.TargetOrderIDs[tp.slot-1] = res.OrderID
		placed++
		e.log.Infof("TP%d @ %v size=%v oid=%d", tp.slot, tp.price, tp.size, res.OrderID)
		e.audit(ctx, sig, "order_placed", map[string]any{"role": fmt.Sprintf("tp%d", tp.slot), "oid": res.OrderID, "size": tp.size, "price": tp.price})
	}
	if len(plan.targets) > 0 {
		notes = append(notes, fmt.Sprintf("TPs placed %d/%d", placed, len(plan.targets)))
	}
	fill.Note = strings.Join(notes, "; ")
	return fill, nil
}
