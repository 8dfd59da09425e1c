package app

import (
	"context"
	"fmt"

	"hlfleet/internal/config"
	"hlfleet/internal/engine"
	"hlfleet/internal/logger"
	"hlfleet/internal/store"
	livehttp "hlfleet/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App wires the fleet: one engine per enabled identity over a shared store,
// plus the status HTTP server.
type App struct {
	cfg      *config.Config
	store    store.SignalStore
	engines  []*engine.Engine
	liveHTTP *livehttp.Server
	Summary  *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return NewAppBuilder(cfg, opts...).Build(ctx)
}

// Run blocks until ctx is cancelled. Engines never return errors, so one
// identity cannot stop another; only an HTTP listener failure ends Run early.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warnf("close store: %v", err)
		}
	}()

	group, gctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(gctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	for _, eng := range a.engines {
		eng := eng
		group.Go(func() error {
			return eng.Run(gctx)
		})
	}
	return group.Wait()
}

// Engines exposes the running engines.
func (a *App) Engines() []*engine.Engine {
	if a == nil {
		return nil
	}
	return a.engines
}

// applyRiskUpdates pushes reloaded risk settings to the running engines.
// Identities added or enabled after startup need a restart.
func (a *App) applyRiskUpdates(cfg *config.Config) {
	resolved := make(map[string]config.ResolvedIdentity, len(cfg.Identities))
	for _, id := range cfg.ResolveIdentities() {
		resolved[id.BotID] = id
	}
	for _, eng := range a.engines {
		id, ok := resolved[eng.BotID()]
		if !ok {
			logger.Warnf("identity %s missing from reloaded config, keeping current risk", eng.BotID())
			continue
		}
		eng.UpdateRisk(id.Risk)
	}
}
