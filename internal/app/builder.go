package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"hlfleet/internal/config"
	"hlfleet/internal/engine"
	"hlfleet/internal/gateway/exchange"
	"hlfleet/internal/gateway/hyperliquid"
	"hlfleet/internal/logger"
	"hlfleet/internal/precision"
	"hlfleet/internal/store/sqlite"
	livehttp "hlfleet/internal/transport/http/live"

	"github.com/ethereum/go-ethereum/crypto"
)

const metadataTimeout = 30 * time.Second

// GatewayFactory builds the venue client for one identity.
type GatewayFactory func(id config.ResolvedIdentity, ex config.ExchangeConfig) (exchange.Gateway, error)

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (*sqlite.SqliteStore, error)
	gatewayFn  GatewayFactory
	liveHTTPFn func(config.AppConfig, []livehttp.Identity, *sqlite.SqliteStore) (*livehttp.Server, error)
	watcher    *config.Watcher
}

type AppBuilderOption func(*AppBuilder)

// WithGatewayFactory replaces the Hyperliquid client, e.g. with a fake venue.
func WithGatewayFactory(fn GatewayFactory) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.gatewayFn = fn
		}
	}
}

// WithConfigWatcher applies reloaded risk settings to running engines.
func WithConfigWatcher(w *config.Watcher) AppBuilderOption {
	return func(b *AppBuilder) {
		b.watcher = w
	}
}

// WithoutHTTP skips the status server.
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) {
		b.liveHTTPFn = func(config.AppConfig, []livehttp.Identity, *sqlite.SqliteStore) (*livehttp.Server, error) {
			return nil, nil
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    openStore,
		gatewayFn:  buildHyperliquidGateway,
		liveHTTPFn: buildLiveHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	st, err := b.storeFn(b.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	summary := &StartupSummary{
		Env:       b.cfg.App.Env,
		StorePath: b.cfg.Store.Path,
		APIURL:    b.cfg.Exchange.APIURL,
		Mainnet:   b.cfg.Exchange.Mainnet,
		HTTPAddr:  b.cfg.App.HTTPAddr,
	}
	var engines []*engine.Engine
	for _, id := range b.cfg.ResolveIdentities() {
		if !id.Enabled {
			logger.Infof("identity %s disabled by config", id.BotID)
			summary.Skipped = append(summary.Skipped, SkippedIdentity{BotID: id.BotID, Reason: "disabled"})
			continue
		}
		eng, instruments, err := b.buildIdentity(ctx, id, st)
		if err != nil {
			// A broken identity must not take the fleet down with it.
			logger.Errorf("identity %s not started: %v", id.BotID, err)
			summary.Skipped = append(summary.Skipped, SkippedIdentity{BotID: id.BotID, Reason: err.Error()})
			continue
		}
		engines = append(engines, eng)
		summary.Identities = append(summary.Identities, IdentitySummary{
			BotID:       id.BotID,
			Risk:        id.Risk,
			Instruments: instruments,
		})
	}
	if len(engines) == 0 {
		_ = st.Close()
		return nil, errors.New("no identity could be started")
	}

	views := make([]livehttp.Identity, 0, len(engines))
	for _, eng := range engines {
		views = append(views, eng)
	}
	server, err := b.liveHTTPFn(b.cfg.App, views, st)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("build live http server: %w", err)
	}

	a := &App{
		cfg:      b.cfg,
		store:    st,
		engines:  engines,
		liveHTTP: server,
		Summary:  summary,
	}
	if b.watcher != nil {
		b.watcher.Subscribe(a.applyRiskUpdates)
	}
	return a, nil
}

func (b *AppBuilder) buildIdentity(ctx context.Context, id config.ResolvedIdentity, st *sqlite.SqliteStore) (*engine.Engine, int, error) {
	gw, err := b.gatewayFn(id, b.cfg.Exchange)
	if err != nil {
		return nil, 0, fmt.Errorf("build gateway: %w", err)
	}
	metaCtx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()
	decimals, err := gw.InstrumentMetadata(metaCtx)
	if err != nil {
		return nil, 0, fmt.Errorf("load instrument metadata: %w", err)
	}
	eng, err := engine.New(engine.NewConfig(id, b.cfg.Engine), gw, st, precision.NewTable(decimals))
	if err != nil {
		return nil, 0, err
	}
	return eng, len(decimals), nil
}

func openStore(cfg config.StoreConfig) (*sqlite.SqliteStore, error) {
	return sqlite.NewSqliteStore(cfg.Path)
}

func buildHyperliquidGateway(id config.ResolvedIdentity, ex config.ExchangeConfig) (exchange.Gateway, error) {
	raw := strings.TrimSpace(os.Getenv(id.PrivateKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s is empty", id.PrivateKeyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key from %s: %w", id.PrivateKeyEnv, err)
	}
	client, err := hyperliquid.NewClient(hyperliquid.Config{
		Name:              id.BotID,
		BaseURL:           ex.APIURL,
		Mainnet:           ex.Mainnet,
		PrivateKey:        key,
		AccountAddress:    id.AccountAddress,
		VaultAddress:      id.VaultAddress,
		Timeout:           ex.Timeout(),
		RequestsPerSecond: ex.RequestsPerSecond,
		Burst:             ex.Burst,
		BreakerThreshold:  ex.BreakerThreshold,
		BreakerCooldown:   ex.BreakerCooldown(),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildLiveHTTPServer(cfg config.AppConfig, identities []livehttp.Identity, st *sqlite.SqliteStore) (*livehttp.Server, error) {
	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, nil
	}
	return livehttp.NewServer(livehttp.ServerConfig{
		Addr:       cfg.HTTPAddr,
		Identities: identities,
		Controls:   st,
		Events:     st,
	})
}
