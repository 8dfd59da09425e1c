package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. HLFLEET_EXCHANGE_MAINNET.
const EnvPrefix = "HLFLEET"

// envOverrides are the scalar keys an operator may flip per deployment
// without editing the fleet file.
var envOverrides = []string{
	"app.env",
	"app.log_level",
	"app.log_format",
	"app.log_path",
	"app.http_addr",
	"store.path",
	"exchange.mainnet",
	"exchange.api_url",
}

// Load reads path and the files it includes, applies environment overrides
// and defaults, then validates. Included files are merged first so the
// including file wins on scalar keys; identity lists from every file are
// concatenated in include order.
func Load(path string) (*Config, error) {
	files, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	var identities []any
	for _, file := range files {
		settings, err := readSettings(file)
		if err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if list, ok := settings["identities"].([]any); ok {
			identities = append(identities, list...)
		}
		delete(settings, "identities")
		delete(settings, "include")
		if err := v.MergeConfigMap(settings); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}
	if len(identities) > 0 {
		v.Set("identities", identities)
	}
	if err := bindEnvOverrides(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	keys := make(keySet)
	markKeys("", v.AllSettings(), keys)
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readSettings(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

func bindEnvOverrides(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envOverrides {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// includeChain returns path and everything it includes, depth first, with
// each file listed once and after its own includes.
func includeChain(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := includeWalker{done: make(map[string]bool), active: make(map[string]bool)}
	if err := w.visit(root); err != nil {
		return nil, err
	}
	return w.order, nil
}

type includeWalker struct {
	done   map[string]bool
	active map[string]bool
	order  []string
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	if w.active[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.done[path] {
		return nil
	}
	w.active[path] = true
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	for _, inc := range v.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	delete(w.active, path)
	w.done[path] = true
	w.order = append(w.order, path)
	return nil
}

// markKeys records every leaf path present in settings so defaults never
// overwrite an explicit zero value.
func markKeys(prefix string, node any, keys keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			name := strings.ToLower(strings.TrimSpace(k))
			if name == "" {
				continue
			}
			if prefix != "" {
				name = prefix + "." + name
			}
			markKeys(name, child, keys)
		}
	default:
		if prefix != "" {
			keys.mark(prefix)
		}
	}
}
