package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledETH(targets ...float64) store.Signal {
	sig := store.Signal{
		Symbol:       "ETH",
		Direction:    "long",
		Kind:         store.KindEntry,
		Status:       store.StatusFilled,
		EntryPrice:   f64(2000),
		StopLoss:     f64(1900),
		PositionSize: 1,
		OrderIDEntry: 400,
		OrderIDSL:    500,
	}
	for i, tp := range targets {
		sig.Targets[i] = f64(tp)
		sig.TargetOrderIDs[i] = int64(601 + i)
	}
	return sig
}

func TestBreakevenExactlyOnceUnderConcurrency(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 1)
	eng, st := newTestEngine(t, gw)
	ctx := context.Background()
	id := insertSignal(t, st, filledETH(2100, 2200))
	sig := getSignal(t, st, id)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := *sig
			_, err := eng.MoveStopToBreakeven(ctx, &local)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	placed := gw.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, exchange.OrderRequest{
		Symbol:     "ETH",
		IsBuy:      false,
		Size:       0.5,
		ReduceOnly: true,
		Kind:       exchange.StopTrigger{TriggerPrice: 2000},
	}, placed[0])
	assert.Equal(t, []int64{500}, gw.cancelledOrders())

	got := getSignal(t, st, id)
	assert.True(t, got.BreakevenClaimed)
	assert.Equal(t, int64(1001), got.BESLOrderID)
	assert.Equal(t, "BE SL in progress | BE SL triggered after TP1", got.Notes)
}

func TestBreakevenSingleTargetIsNoop(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 1)
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100))

	promoted, err := eng.MoveStopToBreakeven(context.Background(), getSignal(t, st, id))
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Empty(t, gw.placedOrders())
	assert.Empty(t, gw.cancelledOrders())
	assert.True(t, getSignal(t, st, id).BreakevenClaimed)
}

func TestBreakevenFlatPositionKeepsClaim(t *testing.T) {
	gw := newFakeGateway(10000)
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100, 2200))

	promoted, err := eng.MoveStopToBreakeven(context.Background(), getSignal(t, st, id))
	require.NoError(t, err)
	assert.False(t, promoted)
	assert.Empty(t, gw.placedOrders())
	assert.True(t, getSignal(t, st, id).BreakevenClaimed)
}

func TestBreakevenRollsBackOnRejection(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 1)
	gw.placeErr = func(req exchange.OrderRequest) error {
		return &exchange.RejectionError{Symbol: req.Symbol, Reason: "Order would immediately trigger"}
	}
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100, 2200, 2300, 2400))

	promoted, err := eng.MoveStopToBreakeven(context.Background(), getSignal(t, st, id))
	require.Error(t, err)
	assert.True(t, exchange.IsRejection(err))
	assert.False(t, promoted)

	got := getSignal(t, st, id)
	assert.False(t, got.BreakevenClaimed, "failed promotion re-opens the claim")
	assert.Contains(t, got.Notes, "BE SL failed: place stop order")

	gw.placeErr = nil
	promoted, err = eng.MoveStopToBreakeven(context.Background(), got)
	require.NoError(t, err)
	assert.True(t, promoted)
	placed := gw.placedOrders()
	require.Len(t, placed, 1)
	assert.Equal(t, 0.75, placed[0].Size)
}

func TestFillMonitorTakeProfitAndPnL(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 0.5)
	eng, st := newTestEngine(t, gw)
	ctx := context.Background()
	now := time.Now().UTC()

	entry := filledETH(2100, 2200)
	entry.CreatedAt = now.Add(-time.Hour)
	entryID := insertSignal(t, st, entry)
	exitID := insertSignal(t, st, store.Signal{Symbol: "ETHUSDT", Kind: store.KindExit, Status: store.StatusExecuted, CreatedAt: now.Add(-time.Minute)})

	gw.fills = []exchange.Fill{
		{OrderID: 400, Symbol: "ETH", Price: 2000, Size: 1, Time: now.Add(-50 * time.Minute), Dir: "Open Long"},
		{OrderID: 601, Symbol: "ETH", Price: 2100, Size: 0.5, Time: now.Add(-10 * time.Minute), Dir: "Close Long", ClosedPnL: 50},
	}

	_, err := eng.MonitorFillsOnce(ctx)
	require.NoError(t, err)

	got := getSignal(t, st, entryID)
	require.NotNil(t, got.PnLPercent)
	assert.InDelta(t, 2.5, *got.PnLPercent, 1e-9)
	require.NotNil(t, got.TargetFilledAt[0])
	assert.True(t, got.BreakevenClaimed)
	assert.NotZero(t, got.BESLOrderID)

	exit := getSignal(t, st, exitID)
	require.NotNil(t, exit.PnLPercent)
	assert.InDelta(t, 2.5, *exit.PnLPercent, 1e-9)

	require.Len(t, gw.placedOrders(), 1)

	// Nothing new past the watermark.
	_, err = eng.MonitorFillsOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, gw.placedOrders(), 1)

	// A full rescan replays every fill without repeating side effects.
	eng.lastFullScan = time.Now().Add(-6 * time.Minute)
	_, err = eng.MonitorFillsOnce(ctx)
	require.NoError(t, err)
	assert.Len(t, gw.placedOrders(), 1)
	got = getSignal(t, st, entryID)
	assert.Equal(t, "Actual PnL: 2.50% | BE SL in progress | BE SL triggered after TP1", got.Notes)
}

func TestFillMonitorIgnoresRecycledOrderIDs(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 1)
	eng, st := newTestEngine(t, gw)
	now := time.Now().UTC()

	old := filledETH(2100, 2200)
	old.CreatedAt = now.Add(-45 * 24 * time.Hour)
	id := insertSignal(t, st, old)
	gw.fills = []exchange.Fill{{OrderID: 601, Symbol: "ETH", Price: 2100, Size: 0.5, Time: now, Dir: "Open Long"}}

	_, err := eng.MonitorFillsOnce(context.Background())
	require.NoError(t, err)
	got := getSignal(t, st, id)
	assert.Nil(t, got.TargetFilledAt[0])
	assert.False(t, got.BreakevenClaimed)
	assert.Empty(t, gw.placedOrders())
}

func TestFillMonitorBreakevenDisabled(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 1)
	eng, st := newTestEngine(t, gw)
	eng.cfg.Risk.BreakevenEnabled = false
	id := insertSignal(t, st, filledETH(2100, 2200))
	gw.fills = []exchange.Fill{{OrderID: 601, Symbol: "ETH", Size: 0.5, Time: time.Now().UTC(), Dir: "Close Long"}}

	_, err := eng.MonitorFillsOnce(context.Background())
	require.NoError(t, err)
	got := getSignal(t, st, id)
	assert.NotNil(t, got.TargetFilledAt[0])
	assert.False(t, got.BreakevenClaimed)
	assert.Empty(t, gw.placedOrders())
}

func TestFillMonitorSameTimestampFills(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 1)
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100, 2200, 2300))

	at := time.Now().UTC().Add(-time.Minute)
	gw.fills = []exchange.Fill{
		{OrderID: 602, Symbol: "ETH", Price: 2200, Size: 0.3, Time: at, Dir: "Close Long"},
		{OrderID: 601, Symbol: "ETH", Price: 2100, Size: 0.3, Time: at, Dir: "Close Long"},
	}

	_, err := eng.MonitorFillsOnce(context.Background())
	require.NoError(t, err)

	got := getSignal(t, st, id)
	assert.NotNil(t, got.TargetFilledAt[0])
	assert.NotNil(t, got.TargetFilledAt[1])
	assert.True(t, got.BreakevenClaimed)
	assert.Len(t, gw.placedOrders(), 1)
	assert.True(t, eng.watermark.Equal(at))
}
