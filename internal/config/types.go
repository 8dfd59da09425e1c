package config

import (
	"strings"
	"time"
)

// Config is the root configuration. It is loaded once at startup and never
// mutated afterwards.
type Config struct {
	App        AppConfig        `toml:"app"`
	Store      StoreConfig      `toml:"store"`
	Exchange   ExchangeConfig   `toml:"exchange"`
	Engine     EngineConfig     `toml:"engine"`
	Defaults   RiskConfig       `toml:"defaults"`
	Identities []IdentityConfig `toml:"identities"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // text | json
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// ExchangeConfig describes how every identity reaches the venue.
type ExchangeConfig struct {
	Mainnet                bool    `toml:"mainnet"`
	APIURL                 string  `toml:"api_url"`
	TimeoutSeconds         int     `toml:"timeout_seconds"`
	RequestsPerSecond      float64 `toml:"requests_per_second"`
	Burst                  int     `toml:"burst"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e ExchangeConfig) BreakerCooldown() time.Duration {
	return time.Duration(e.BreakerCooldownSeconds) * time.Second
}

// EngineConfig holds loop cadences shared by all identities.
type EngineConfig struct {
	DispatchIdleMS           int `toml:"dispatch_idle_ms"`
	DispatchBusyMS           int `toml:"dispatch_busy_ms"`
	ErrorBackoffMS           int `toml:"error_backoff_ms"`
	FillIntervalSeconds      int `toml:"fill_interval_seconds"`
	FullRescanMinutes        int `toml:"full_rescan_minutes"`
	ReconcileIntervalSeconds int `toml:"reconcile_interval_seconds"`
	OrderIDWindowDays        int `toml:"order_id_window_days"`
	StaleEntryHours          int `toml:"stale_entry_hours"`
	FillLookback             int `toml:"fill_lookback"`
}

func (e EngineConfig) DispatchIdle() time.Duration {
	return time.Duration(e.DispatchIdleMS) * time.Millisecond
}

func (e EngineConfig) DispatchBusy() time.Duration {
	return time.Duration(e.DispatchBusyMS) * time.Millisecond
}

func (e EngineConfig) ErrorBackoff() time.Duration {
	return time.Duration(e.ErrorBackoffMS) * time.Millisecond
}

func (e EngineConfig) FillInterval() time.Duration {
	return time.Duration(e.FillIntervalSeconds) * time.Second
}

func (e EngineConfig) FullRescan() time.Duration {
	return time.Duration(e.FullRescanMinutes) * time.Minute
}

func (e EngineConfig) ReconcileInterval() time.Duration {
	return time.Duration(e.ReconcileIntervalSeconds) * time.Second
}

func (e EngineConfig) OrderIDWindow() time.Duration {
	return time.Duration(e.OrderIDWindowDays) * 24 * time.Hour
}

func (e EngineConfig) StaleEntryAfter() time.Duration {
	return time.Duration(e.StaleEntryHours) * time.Hour
}

// RiskConfig is the fleet-wide risk profile every identity starts from.
type RiskConfig struct {
	RiskPerTrade           float64  `toml:"risk_per_trade"`
	MaxLeverage            float64  `toml:"max_leverage"`
	DefaultSLDist          float64  `toml:"default_sl_dist"`
	MaxConcurrentPositions int      `toml:"max_concurrent_positions"`
	AllowedDirections      []string `toml:"allowed_directions"`
	BreakevenEnabled       bool     `toml:"breakeven_enabled"`
}

// IdentityConfig is one bot identity. Pointer fields distinguish "explicitly
// set" from "inherit defaults".
type IdentityConfig struct {
	BotID                  string   `toml:"bot_id"`
	PrivateKeyEnv          string   `toml:"private_key_env"`
	AccountAddress         string   `toml:"account_address"`
	VaultAddress           string   `toml:"vault_address"`
	Enabled                *bool    `toml:"enabled"`
	RiskPerTrade           *float64 `toml:"risk_per_trade"`
	MaxLeverage            *float64 `toml:"max_leverage"`
	DefaultSLDist          *float64 `toml:"default_sl_dist"`
	MaxConcurrentPositions *int     `toml:"max_concurrent_positions"`
	AllowedDirections      []string `toml:"allowed_directions"`
	BreakevenEnabled       *bool    `toml:"breakeven_enabled"`
}

// ResolvedIdentity is an identity with every risk field resolved against
// Config.Defaults.
type ResolvedIdentity struct {
	BotID          string
	PrivateKeyEnv  string
	AccountAddress string
	VaultAddress   string
	Enabled        bool
	Risk           RiskConfig
}

// ResolveIdentities merges each identity over the defaults section.
func (c *Config) ResolveIdentities() []ResolvedIdentity {
	out := make([]ResolvedIdentity, 0, len(c.Identities))
	for _, id := range c.Identities {
		out = append(out, id.resolve(c.Defaults))
	}
	return out
}

func (i IdentityConfig) resolve(def RiskConfig) ResolvedIdentity {
	risk := def
	risk.AllowedDirections = append([]string(nil), def.AllowedDirections...)
	if i.RiskPerTrade != nil {
		risk.RiskPerTrade = *i.RiskPerTrade
	}
	if i.MaxLeverage != nil {
		risk.MaxLeverage = *i.MaxLeverage
	}
	if i.DefaultSLDist != nil {
		risk.DefaultSLDist = *i.DefaultSLDist
	}
	if i.MaxConcurrentPositions != nil {
		risk.MaxConcurrentPositions = *i.MaxConcurrentPositions
	}
	if len(i.AllowedDirections) > 0 {
		risk.AllowedDirections = normalizeDirections(i.AllowedDirections)
	}
	if i.BreakevenEnabled != nil {
		risk.BreakevenEnabled = *i.BreakevenEnabled
	}
	enabled := true
	if i.Enabled != nil {
		enabled = *i.Enabled
	}
	return ResolvedIdentity{
		BotID:          strings.TrimSpace(i.BotID),
		PrivateKeyEnv:  strings.TrimSpace(i.PrivateKeyEnv),
		AccountAddress: strings.TrimSpace(i.AccountAddress),
		VaultAddress:   strings.TrimSpace(i.VaultAddress),
		Enabled:        enabled,
		Risk:           risk,
	}
}

// keySet tracks config paths that were explicitly set in a file.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
