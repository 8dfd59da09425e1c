package config

import (
	"strings"
)

const (
	defaultAppEnv        = "dev"
	defaultAppLogLevel   = "info"
	defaultAppLogFormat  = "text"
	defaultAppHTTPAddr   = ":9991"
	defaultStorePath     = "data/signals.db"
	defaultMainnetAPI    = "https://api.hyperliquid.xyz"
	defaultTestnetAPI    = "https://api.hyperliquid-testnet.xyz"
	defaultExTimeout     = 10
	defaultExRPS         = 5
	defaultExBurst       = 10
	defaultExBreakerN    = 5
	defaultExBreakerCool = 30

	defaultDispatchIdleMS    = 2000
	defaultDispatchBusyMS    = 1000
	defaultErrorBackoffMS    = 5000
	defaultFillIntervalSec   = 10
	defaultFullRescanMin     = 5
	defaultReconcileInterval = 60
	defaultOrderIDWindowDays = 30
	defaultStaleEntryHours   = 24
	defaultFillLookback      = 100

	defaultRiskPerTrade   = 0.01
	defaultMaxLeverage    = 5.0
	defaultSLDist         = 0.05
	defaultMaxConcurrent  = 3
	defaultBreakevenOnOff = true
)

var defaultAllowedDirections = []string{"long", "short"}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Defaults.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("store.path", &s.Path, defaultStorePath))
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	api := defaultTestnetAPI
	if e.Mainnet {
		api = defaultMainnetAPI
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.api_url", &e.APIURL, api),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, defaultExTimeout),
		intFieldDefault("exchange.burst", &e.Burst, defaultExBurst),
		intFieldDefault("exchange.breaker_threshold", &e.BreakerThreshold, defaultExBreakerN),
		intFieldDefault("exchange.breaker_cooldown_seconds", &e.BreakerCooldownSeconds, defaultExBreakerCool),
		fieldDefault{
			key:   "exchange.requests_per_second",
			need:  func() bool { return e.RequestsPerSecond <= 0 },
			apply: func() { e.RequestsPerSecond = defaultExRPS },
		},
	)
	e.APIURL = strings.TrimRight(strings.TrimSpace(e.APIURL), "/")
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("engine.dispatch_idle_ms", &e.DispatchIdleMS, defaultDispatchIdleMS),
		intFieldDefault("engine.dispatch_busy_ms", &e.DispatchBusyMS, defaultDispatchBusyMS),
		intFieldDefault("engine.error_backoff_ms", &e.ErrorBackoffMS, defaultErrorBackoffMS),
		intFieldDefault("engine.fill_interval_seconds", &e.FillIntervalSeconds, defaultFillIntervalSec),
		intFieldDefault("engine.full_rescan_minutes", &e.FullRescanMinutes, defaultFullRescanMin),
		intFieldDefault("engine.reconcile_interval_seconds", &e.ReconcileIntervalSeconds, defaultReconcileInterval),
		intFieldDefault("engine.order_id_window_days", &e.OrderIDWindowDays, defaultOrderIDWindowDays),
		intFieldDefault("engine.stale_entry_hours", &e.StaleEntryHours, defaultStaleEntryHours),
		intFieldDefault("engine.fill_lookback", &e.FillLookback, defaultFillLookback),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "defaults.risk_per_trade",
			need:  func() bool { return r.RiskPerTrade <= 0 },
			apply: func() { r.RiskPerTrade = defaultRiskPerTrade },
		},
		fieldDefault{
			key:   "defaults.max_leverage",
			need:  func() bool { return r.MaxLeverage <= 0 },
			apply: func() { r.MaxLeverage = defaultMaxLeverage },
		},
		fieldDefault{
			key:   "defaults.default_sl_dist",
			need:  func() bool { return r.DefaultSLDist <= 0 },
			apply: func() { r.DefaultSLDist = defaultSLDist },
		},
		intFieldDefault("defaults.max_concurrent_positions", &r.MaxConcurrentPositions, defaultMaxConcurrent),
		boolFieldDefault("defaults.breakeven_enabled", &r.BreakevenEnabled, defaultBreakevenOnOff),
	)
	r.AllowedDirections = normalizeDirections(r.AllowedDirections)
	if len(r.AllowedDirections) == 0 && !keys.isSet("defaults.allowed_directions") {
		r.AllowedDirections = append([]string(nil), defaultAllowedDirections...)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// normalizeDirections lowercases and maps bullish/bearish onto long/short.
func normalizeDirections(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		switch d {
		case "bullish":
			d = "long"
		case "bearish":
			d = "short"
		}
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
