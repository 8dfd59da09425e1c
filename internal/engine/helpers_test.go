package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hlfleet/internal/config"
	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/precision"
	"hlfleet/internal/store"
	"hlfleet/internal/store/sqlite"

	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory venue. Orders are recorded, never matched.
type fakeGateway struct {
	mu        sync.Mutex
	state     exchange.AccountState
	orders    []exchange.OpenOrder
	fills     []exchange.Fill
	placed    []exchange.OrderRequest
	cancelled []int64
	closed    []string
	nextOID   int64

	stateErr error
	fillsErr error
	closeErr error
	// placeErr, when set, decides the outcome of each PlaceOrder call.
	placeErr func(req exchange.OrderRequest) error
}

func newFakeGateway(equity float64) *fakeGateway {
	return &fakeGateway{state: exchange.AccountState{Equity: equity}, nextOID: 1000}
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.placeErr != nil {
		if err := g.placeErr(req); err != nil {
			return exchange.OrderResult{}, err
		}
	}
	g.nextOID++
	g.placed = append(g.placed, req)
	return exchange.OrderResult{OrderID: g.nextOID, Resting: true}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _ string, oid int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, oid)
	kept := g.orders[:0]
	for _, o := range g.orders {
		if o.OrderID != oid {
			kept = append(kept, o)
		}
	}
	g.orders = kept
	return nil
}

func (g *fakeGateway) CloseAtMarket(_ context.Context, coin string) (exchange.CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closeErr != nil {
		return exchange.CloseResult{}, g.closeErr
	}
	pos, ok := g.state.Position(coin)
	if !ok {
		return exchange.CloseResult{}, exchange.ErrNoPosition
	}
	g.closed = append(g.closed, coin)
	g.setPositionLocked(coin, 0)
	return exchange.CloseResult{OrderID: 1, Size: pos.Size}, nil
}

func (g *fakeGateway) AccountState(context.Context) (exchange.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stateErr != nil {
		return exchange.AccountState{}, g.stateErr
	}
	st := g.state
	st.Positions = append([]exchange.Position(nil), g.state.Positions...)
	return st, nil
}

func (g *fakeGateway) OpenOrders(context.Context) ([]exchange.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]exchange.OpenOrder(nil), g.orders...), nil
}

func (g *fakeGateway) Fills(context.Context) ([]exchange.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fillsErr != nil {
		return nil, g.fillsErr
	}
	return append([]exchange.Fill(nil), g.fills...), nil
}

func (g *fakeGateway) InstrumentMetadata(context.Context) (map[string]int, error) {
	return map[string]int{"ETH": 4, "BTC": 5, "SOL": 2}, nil
}

func (g *fakeGateway) setPosition(coin string, size float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.setPositionLocked(coin, size)
}

func (g *fakeGateway) setPositionLocked(coin string, size float64) {
	for i := range g.state.Positions {
		if g.state.Positions[i].Symbol == coin {
			g.state.Positions[i].Size = size
			return
		}
	}
	g.state.Positions = append(g.state.Positions, exchange.Position{Symbol: coin, Size: size})
}

func (g *fakeGateway) placedOrders() []exchange.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]exchange.OrderRequest(nil), g.placed...)
}

func (g *fakeGateway) cancelledOrders() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int64(nil), g.cancelled...)
}

func testRisk() config.RiskConfig {
	return config.RiskConfig{
		RiskPerTrade:           0.01,
		MaxLeverage:            5,
		DefaultSLDist:          0.05,
		MaxConcurrentPositions: 3,
		AllowedDirections:      []string{"long", "short"},
		BreakevenEnabled:       true,
	}
}

func newTestEngine(t *testing.T, gw exchange.Gateway) (*Engine, *sqlite.SqliteStore) {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "signals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		BotID:             "alpha",
		Risk:              testRisk(),
		DispatchIdle:      2 * time.Second,
		DispatchBusy:      time.Second,
		ErrorBackoff:      5 * time.Second,
		FillInterval:      10 * time.Second,
		FullRescan:        5 * time.Minute,
		ReconcileInterval: time.Minute,
		OrderIDWindow:     30 * 24 * time.Hour,
		StaleEntryAfter:   24 * time.Hour,
		FillLookback:      100,
	}
	table := precision.NewTable(map[string]int{"ETH": 4, "BTC": 5, "SOL": 2})
	eng, err := New(cfg, gw, st, table)
	require.NoError(t, err)
	return eng, st
}

func f64(v float64) *float64 { return &v }

func insertSignal(t *testing.T, st store.SignalStore, sig store.Signal) int64 {
	t.Helper()
	if sig.BotName == "" {
		sig.BotName = "alpha"
	}
	id, err := st.InsertSignal(context.Background(), &sig)
	require.NoError(t, err)
	return id
}

func getSignal(t *testing.T, st store.SignalStore, id int64) *store.Signal {
	t.Helper()
	sig, err := st.GetSignal(context.Background(), id)
	require.NoError(t, err)
	return sig
}
