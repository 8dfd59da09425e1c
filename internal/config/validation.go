package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Defaults.validate("defaults"); err != nil {
		return err
	}
	return validateIdentities(c)
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if !strings.HasPrefix(e.APIURL, "http://") && !strings.HasPrefix(e.APIURL, "https://") {
		return fmt.Errorf("exchange.api_url must be an http(s) url, got %q", e.APIURL)
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("exchange.timeout_seconds must be > 0")
	}
	if e.RequestsPerSecond <= 0 {
		return fmt.Errorf("exchange.requests_per_second must be > 0")
	}
	if e.Burst <= 0 {
		return fmt.Errorf("exchange.burst must be > 0")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	checks := []struct {
		name string
		val  int
	}{
		{"engine.dispatch_idle_ms", e.DispatchIdleMS},
		{"engine.dispatch_busy_ms", e.DispatchBusyMS},
		{"engine.error_backoff_ms", e.ErrorBackoffMS},
		{"engine.fill_interval_seconds", e.FillIntervalSeconds},
		{"engine.full_rescan_minutes", e.FullRescanMinutes},
		{"engine.reconcile_interval_seconds", e.ReconcileIntervalSeconds},
		{"engine.order_id_window_days", e.OrderIDWindowDays},
		{"engine.stale_entry_hours", e.StaleEntryHours},
		{"engine.fill_lookback", e.FillLookback},
	}
	for _, c := range checks {
		if c.val <= 0 {
			return fmt.Errorf("%s must be > 0", c.name)
		}
	}
	return nil
}

func (r *RiskConfig) validate(prefix string) error {
	if r.RiskPerTrade <= 0 || r.RiskPerTrade > 1 {
		return fmt.Errorf("%s.risk_per_trade must be in (0,1]", prefix)
	}
	if r.MaxLeverage <= 0 {
		return fmt.Errorf("%s.max_leverage must be > 0", prefix)
	}
	if r.DefaultSLDist <= 0 || r.DefaultSLDist >= 1 {
		return fmt.Errorf("%s.default_sl_dist must be in (0,1)", prefix)
	}
	if r.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("%s.max_concurrent_positions must be > 0", prefix)
	}
	for _, d := range r.AllowedDirections {
		if d != "long" && d != "short" {
			return fmt.Errorf("%s.allowed_directions contains unknown direction %q", prefix, d)
		}
	}
	return nil
}

func validateIdentities(c *Config) error {
	if len(c.Identities) == 0 {
		return fmt.Errorf("identities requires at least one entry")
	}
	seen := make(map[string]bool, len(c.Identities))
	for i, id := range c.ResolveIdentities() {
		if id.BotID == "" {
			return fmt.Errorf("identities[%d] missing bot_id", i)
		}
		if seen[id.BotID] {
			return fmt.Errorf("identities contains duplicate bot_id %s", id.BotID)
		}
		seen[id.BotID] = true
		if id.PrivateKeyEnv == "" {
			return fmt.Errorf("identities.%s missing private_key_env", id.BotID)
		}
		if err := id.Risk.validate("identities." + id.BotID); err != nil {
			return err
		}
	}
	return nil
}
