package engine

import (
	"context"
	"fmt"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/metrics"
	"hlfleet/internal/pkg/symbol"
	"hlfleet/internal/store"
)

// MoveStopToBreakeven replaces the stop of a position whose first target
// filled with a stop at the entry price sized to what the remaining targets
// still cover. Both the fill monitor and the reconciler call it; the claim on
// the row makes sure only one of them submits an order. It reports whether a
// new stop was placed.
func (e *Engine) MoveStopToBreakeven(ctx context.Context, sig *store.Signal) (bool, error) {
	won, err := e.store.ClaimBreakeven(ctx, sig.ID)
	if err != nil {
		return false, transient("claim breakeven", err)
	}
	if !won {
		e.log.Warnf("breakeven already claimed for signal #%d, skipping", sig.ID)
		metrics.IncBreakeven(e.cfg.BotID, "lost_claim")
		return false, nil
	}

	coin := symbol.Normalize(sig.Symbol)
	state, err := e.gw.AccountState(ctx)
	if err != nil {
		return false, e.rollbackBreakeven(ctx, sig, err)
	}
	if _, ok := state.Position(coin); !ok {
		// Nothing left to protect; the claim stays so nobody retries.
		e.log.Warnf("position already closed for %s, skipping breakeven", coin)
		metrics.IncBreakeven(e.cfg.BotID, "flat")
		return false, nil
	}

	targets := len(sig.TargetPrices())
	remaining := e.table.RemainingAfterFirstTarget(coin, sig.PositionSize, targets)
	if remaining <= 0 {
		e.log.Infof("signal #%d has %d target(s), nothing remains after TP1", sig.ID, targets)
		metrics.IncBreakeven(e.cfg.BotID, "noop")
		return false, nil
	}
	if sig.EntryPrice == nil || *sig.EntryPrice <= 0 {
		return false, e.rollbackBreakeven(ctx, sig, invalid("signal has no entry price"))
	}
	dir, ok := parseDirection(sig.Direction)
	if !ok {
		return false, e.rollbackBreakeven(ctx, sig, invalid("Unknown direction %q", sig.Direction))
	}

	if sig.OrderIDSL != 0 {
		if err := e.gw.CancelOrder(ctx, coin, sig.OrderIDSL); err != nil {
			e.log.Warnf("cancel old SL oid=%d failed: %v", sig.OrderIDSL, err)
		} else {
			e.log.Infof("cancelled old SL oid=%d", sig.OrderIDSL)
		}
	}

	bePrice := e.table.RoundPrice(coin, *sig.EntryPrice)
	res, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol:     coin,
		IsBuy:      dir != sideLong,
		Size:       remaining,
		ReduceOnly: true,
		Kind:       exchange.StopTrigger{TriggerPrice: bePrice},
	})
	if err != nil {
		return false, e.rollbackBreakeven(ctx, sig, err)
	}
	if err := e.store.CompleteBreakeven(ctx, sig.ID, res.OrderID); err != nil {
		// The stop is live; keep the claim so no second stop is placed.
		e.log.Errorf("breakeven SL oid=%d placed for signal #%d but not recorded: %v", res.OrderID, sig.ID, err)
		return true, transient("record breakeven", err)
	}
	metrics.IncBreakeven(e.cfg.BotID, "promoted")
	e.audit(ctx, sig, "breakeven_promoted", map[string]any{
		"oid":        res.OrderID,
		"price":      bePrice,
		"size":       remaining,
		"old_sl_oid": sig.OrderIDSL,
	})
	e.log.Infof("breakeven SL active for %s @ %v size=%v oid=%d", coin, bePrice, remaining, res.OrderID)
	return true, nil
}

func (e *Engine) rollbackBreakeven(ctx context.Context, sig *store.Signal, cause error) error {
	metrics.IncBreakeven(e.cfg.BotID, "rolled_back")
	if err := e.store.RollbackBreakeven(ctx, sig.ID, cause.Error()); err != nil {
		e.log.Errorf("rollback breakeven for signal #%d failed: %v", sig.ID, err)
	}
	e.audit(ctx, sig, "breakeven_rolled_back", map[string]any{"reason": cause.Error()})
	return fmt.Errorf("breakeven for signal #%d: %w", sig.ID, cause)
}
