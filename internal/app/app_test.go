package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hlfleet/internal/config"
	"hlfleet/internal/gateway/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleGateway struct {
	metaErr error
}

func (g idleGateway) PlaceOrder(context.Context, exchange.OrderRequest) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("not connected")
}

func (g idleGateway) CancelOrder(context.Context, string, int64) error { return nil }

func (g idleGateway) CloseAtMarket(context.Context, string) (exchange.CloseResult, error) {
	return exchange.CloseResult{}, exchange.ErrNoPosition
}

func (g idleGateway) AccountState(context.Context) (exchange.AccountState, error) {
	return exchange.AccountState{Equity: 1000}, nil
}

func (g idleGateway) OpenOrders(context.Context) ([]exchange.OpenOrder, error) { return nil, nil }

func (g idleGateway) Fills(context.Context) ([]exchange.Fill, error) { return nil, nil }

func (g idleGateway) InstrumentMetadata(context.Context) (map[string]int, error) {
	if g.metaErr != nil {
		return nil, g.metaErr
	}
	return map[string]int{"ETH": 4, "BTC": 5}, nil
}

func boolPtr(v bool) *bool { return &v }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		App:   config.AppConfig{Env: "test", HTTPAddr: "127.0.0.1:0"},
		Store: config.StoreConfig{Path: filepath.Join(t.TempDir(), "signals.db")},
		Exchange: config.ExchangeConfig{
			APIURL: "https://api.hyperliquid-testnet.xyz", TimeoutSeconds: 5,
			RequestsPerSecond: 5, Burst: 5, BreakerThreshold: 3, BreakerCooldownSeconds: 10,
		},
		Engine: config.EngineConfig{
			DispatchIdleMS: 50, DispatchBusyMS: 10, ErrorBackoffMS: 50,
			FillIntervalSeconds: 1, FullRescanMinutes: 5, ReconcileIntervalSeconds: 1,
			OrderIDWindowDays: 30, StaleEntryHours: 24, FillLookback: 100,
		},
		Defaults: config.RiskConfig{
			RiskPerTrade: 0.01, MaxLeverage: 5, DefaultSLDist: 0.05,
			MaxConcurrentPositions: 3, AllowedDirections: []string{"long", "short"}, BreakevenEnabled: true,
		},
		Identities: []config.IdentityConfig{
			{BotID: "alpha", PrivateKeyEnv: "ALPHA_KEY"},
			{BotID: "beta", PrivateKeyEnv: "BETA_KEY"},
			{BotID: "gamma", PrivateKeyEnv: "GAMMA_KEY", Enabled: boolPtr(false)},
		},
	}
}

func fakeVenue(broken ...string) AppBuilderOption {
	return WithGatewayFactory(func(id config.ResolvedIdentity, _ config.ExchangeConfig) (exchange.Gateway, error) {
		for _, b := range broken {
			if b == id.BotID {
				return idleGateway{metaErr: errors.New("meta unavailable")}, nil
			}
		}
		return idleGateway{}, nil
	})
}

func TestBuildSkipsDisabledAndBrokenIdentities(t *testing.T) {
	a, err := NewAppBuilder(testConfig(t), fakeVenue("beta")).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })

	require.Len(t, a.Engines(), 1)
	assert.Equal(t, "alpha", a.Engines()[0].BotID())
	require.NotNil(t, a.liveHTTP)

	require.Len(t, a.Summary.Identities, 1)
	assert.Equal(t, 2, a.Summary.Identities[0].Instruments)
	require.Len(t, a.Summary.Skipped, 2)
	assert.Equal(t, "beta", a.Summary.Skipped[0].BotID)
	assert.Contains(t, a.Summary.Skipped[0].Reason, "meta unavailable")
	assert.Equal(t, SkippedIdentity{BotID: "gamma", Reason: "disabled"}, a.Summary.Skipped[1])
}

func TestBuildFailsWhenNoIdentityStarts(t *testing.T) {
	_, err := NewAppBuilder(testConfig(t), fakeVenue("alpha", "beta")).Build(context.Background())
	assert.ErrorContains(t, err, "no identity could be started")
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := NewAppBuilder(testConfig(t), fakeVenue(), WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	require.Len(t, a.Engines(), 2)
	assert.Nil(t, a.liveHTTP)
	a.Summary = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, eng := range a.Engines() {
			if len(eng.Heartbeats()) < 3 {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestHyperliquidGatewayNeedsKey(t *testing.T) {
	ex := testConfig(t).Exchange
	t.Setenv("EMPTY_KEY", "")
	_, err := buildHyperliquidGateway(config.ResolvedIdentity{BotID: "alpha", PrivateKeyEnv: "EMPTY_KEY"}, ex)
	assert.ErrorContains(t, err, "EMPTY_KEY is empty")

	t.Setenv("BAD_KEY", "0xnothex")
	_, err = buildHyperliquidGateway(config.ResolvedIdentity{BotID: "alpha", PrivateKeyEnv: "BAD_KEY"}, ex)
	assert.ErrorContains(t, err, "parse private key")

	t.Setenv("GOOD_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	gw, err := buildHyperliquidGateway(config.ResolvedIdentity{BotID: "alpha", PrivateKeyEnv: "GOOD_KEY"}, ex)
	require.NoError(t, err)
	assert.NotNil(t, gw)
}

func TestSummaryPrintsIdentities(t *testing.T) {
	s := &StartupSummary{
		APIURL: "https://api.hyperliquid.xyz", Mainnet: true,
		Identities: []IdentitySummary{{BotID: "alpha", Instruments: 12, Risk: config.RiskConfig{AllowedDirections: []string{"long"}}}},
		Skipped:    []SkippedIdentity{{BotID: "beta", Reason: "disabled"}},
	}
	var buf bytes.Buffer
	s.Fprint(&buf)
	out := buf.String()
	assert.Contains(t, out, "Network: mainnet")
	assert.Contains(t, out, "> alpha (12 instruments)")
	assert.Contains(t, out, "directions: long")
	assert.Contains(t, out, "- beta: disabled")
	assert.Contains(t, out, "Store:   -")
}

func TestApplyRiskUpdates(t *testing.T) {
	a, err := NewAppBuilder(testConfig(t), fakeVenue(), WithoutHTTP()).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })

	next := testConfig(t)
	lev := 2.0
	next.Identities[0].MaxLeverage = &lev
	next.Identities = next.Identities[:1]
	a.applyRiskUpdates(next)

	// Only alpha is in the reloaded file; beta keeps its startup settings.
	assert.Equal(t, 2.0, a.Engines()[0].Risk().MaxLeverage)
	assert.Equal(t, 5.0, a.Engines()[1].Risk().MaxLeverage)
}
