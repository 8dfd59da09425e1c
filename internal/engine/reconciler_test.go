package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileHealsGhostETH(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("BTC", 0.1)
	eng, st := newTestEngine(t, gw)
	ctx := context.Background()
	now := time.Now().UTC()

	ghost := insertSignal(t, st, filledETH(2100, 2200))
	liveBTC := insertSignal(t, st, store.Signal{
		Symbol: "BTCUSDT", Direction: "long", Kind: store.KindEntry, Status: store.StatusFilled,
		EntryPrice: f64(60000), PositionSize: 0.1, OrderIDEntry: 410,
	})
	gw.fills = []exchange.Fill{
		{OrderID: 400, Symbol: "ETH", Price: 2000, Size: 1, Time: now.Add(-2 * time.Hour), Dir: "Open Long"},
		{OrderID: 20, Symbol: "ETH", Price: 2050, Size: 1, Time: now.Add(-time.Hour), Dir: "Close Long", ClosedPnL: 50},
		{OrderID: 21, Symbol: "BTC", Price: 59000, Size: 0.01, Time: now.Add(-time.Minute), Dir: "Close Short", ClosedPnL: -10},
	}

	_, err := eng.ReconcileOnce(ctx)
	require.NoError(t, err)

	got := getSignal(t, st, ghost)
	assert.Equal(t, store.StatusClosed, got.Status)
	require.NotNil(t, got.PnLPercent)
	assert.InDelta(t, 2.5, *got.PnLPercent, 1e-9)
	assert.Equal(t, "Auto-closed by reconciliation. Actual PnL: 2.50%", got.Notes)
	assert.Equal(t, store.StatusFilled, getSignal(t, st, liveBTC).Status)

	// A second pass changes nothing.
	_, err = eng.ReconcileOnce(ctx)
	require.NoError(t, err)
	again := getSignal(t, st, ghost)
	assert.Equal(t, got.Notes, again.Notes)
	assert.Equal(t, store.StatusClosed, again.Status)
	assert.Empty(t, gw.placedOrders())
	assert.Empty(t, gw.cancelledOrders())
}

func TestReconcileGhostWithoutPnL(t *testing.T) {
	gw := newFakeGateway(10000)
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, store.Signal{
		Symbol: "SOL", Direction: "short", Kind: store.KindEntry, Status: store.StatusFilled,
		EntryPrice: f64(100), PositionSize: 4, OrderIDEntry: 420,
	})

	_, err := eng.ReconcileOnce(context.Background())
	require.NoError(t, err)
	got := getSignal(t, st, id)
	assert.Equal(t, store.StatusClosed, got.Status)
	assert.Nil(t, got.PnLPercent)
	assert.Equal(t, "Auto-closed by reconciliation (PnL unavailable)", got.Notes)
}

func TestReconcileKeepsGhostWhenFillsUnavailable(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.fillsErr = errors.New("502 bad gateway")
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100))

	_, err := eng.ReconcileOnce(context.Background())
	var terr *TransientError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, store.StatusFilled, getSignal(t, st, id).Status)
}

func TestReconcileExpiresStaleRestingEntry(t *testing.T) {
	gw := newFakeGateway(10000)
	eng, st := newTestEngine(t, gw)
	now := time.Now().UTC()

	stale := insertSignal(t, st, filledETH(2100))
	fresh := insertSignal(t, st, store.Signal{
		Symbol: "SOL", Direction: "long", Kind: store.KindEntry, Status: store.StatusFilled,
		EntryPrice: f64(100), PositionSize: 4, OrderIDEntry: 700, OrderIDSL: 701,
	})
	gw.orders = []exchange.OpenOrder{
		{OrderID: 400, Symbol: "ETH", Timestamp: now.Add(-25 * time.Hour)},
		{OrderID: 500, Symbol: "ETH", IsTrigger: true, Timestamp: now.Add(-25 * time.Hour)},
		{OrderID: 601, Symbol: "ETH", IsTrigger: true, Timestamp: now.Add(-25 * time.Hour)},
		{OrderID: 700, Symbol: "SOL", Timestamp: now.Add(-time.Hour)},
		{OrderID: 701, Symbol: "SOL", IsTrigger: true, Timestamp: now.Add(-time.Hour)},
	}

	_, err := eng.ReconcileOnce(context.Background())
	require.NoError(t, err)

	got := getSignal(t, st, stale)
	assert.Equal(t, store.StatusExpired, got.Status)
	assert.Contains(t, got.Notes, "cancelled 3 orders")
	assert.ElementsMatch(t, []int64{400, 500, 601}, gw.cancelledOrders())

	assert.Equal(t, store.StatusFilled, getSignal(t, st, fresh).Status, "resting entry is not a ghost")
}

func TestReconcileFallbackBreakeven(t *testing.T) {
	gw := newFakeGateway(10000)
	gw.setPosition("ETH", 0.5)
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100, 2200))
	gw.fills = []exchange.Fill{{OrderID: 601, Symbol: "ETH", Price: 2100, Size: 0.5, Time: time.Now().UTC(), Dir: "Close Long"}}

	_, err := eng.ReconcileOnce(context.Background())
	require.NoError(t, err)

	got := getSignal(t, st, id)
	assert.Equal(t, store.StatusFilled, got.Status)
	assert.True(t, got.BreakevenClaimed)
	assert.NotZero(t, got.BESLOrderID)
	require.Len(t, gw.placedOrders(), 1)

	_, err = eng.ReconcileOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, gw.placedOrders(), 1, "promotion happens once")
}

// fillingGateway fills the resting entry while its open orders are read.
type fillingGateway struct {
	*fakeGateway
	coin string
	size float64
}

func (g *fillingGateway) OpenOrders(context.Context) ([]exchange.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = nil
	g.setPositionLocked(g.coin, g.size)
	return nil, nil
}

func TestReconcileEntryFillingMidPassIsNotGhost(t *testing.T) {
	inner := newFakeGateway(10000)
	inner.orders = []exchange.OpenOrder{{OrderID: 400, Symbol: "ETH", Timestamp: time.Now().UTC()}}
	gw := &fillingGateway{fakeGateway: inner, coin: "ETH", size: 1}
	eng, st := newTestEngine(t, gw)
	id := insertSignal(t, st, filledETH(2100, 2200))

	_, err := eng.ReconcileOnce(context.Background())
	require.NoError(t, err)

	got := getSignal(t, st, id)
	assert.Equal(t, store.StatusFilled, got.Status)
	assert.Empty(t, got.Notes)
	assert.Empty(t, inner.cancelledOrders())
}
