// Package config loads service configuration from a YAML file with
// environment variable overrides (BARTAB_ prefix, underscores as
// separators, e.g. BARTAB_SERVER_PORT=9090).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"

	"github.com/warp/bartab/billing"
)

const envPrefix = "BARTAB_"

type Config struct {
	Server struct {
		Port            int           `koanf:"port" validate:"min=1,max=65535"`
		ReadTimeout     time.Duration `koanf:"readtimeout"`
		WriteTimeout    time.Duration `koanf:"writetimeout"`
		ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
	} `koanf:"server"`

	Database struct {
		Path string `koanf:"path" validate:"required"`
	} `koanf:"database"`

	// Autolock thresholds are decimal strings so YAML floats never leak
	// binary rounding into money comparisons.
	Autolock struct {
		LockBelow   string `koanf:"lockbelow" validate:"required"`
		UnlockAbove string `koanf:"unlockabove" validate:"required"`
	} `koanf:"autolock"`

	Log struct {
		Level  string `koanf:"level" validate:"oneof=debug info warn error"`
		Pretty bool   `koanf:"pretty"`
	} `koanf:"log"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Database.Path = "./data/bartab.db"
	cfg.Autolock.LockBelow = "0"
	cfg.Autolock.UnlockAbove = "0"
	cfg.Log.Level = "info"
	cfg.Log.Pretty = true
	return cfg
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist), applies environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
		return strings.ReplaceAll(key, "_", "."), value
	}), nil); err != nil {
		return cfg, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.AutolockPolicy(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// AutolockPolicy parses the configured thresholds.
func (c Config) AutolockPolicy() (billing.AutolockPolicy, error) {
	lock, err := decimal.NewFromString(c.Autolock.LockBelow)
	if err != nil {
		return billing.AutolockPolicy{}, fmt.Errorf("invalid autolock.lockbelow %q: %w", c.Autolock.LockBelow, err)
	}
	unlock, err := decimal.NewFromString(c.Autolock.UnlockAbove)
	if err != nil {
		return billing.AutolockPolicy{}, fmt.Errorf("invalid autolock.unlockabove %q: %w", c.Autolock.UnlockAbove, err)
	}
	if unlock.LessThan(lock) {
		return billing.AutolockPolicy{}, fmt.Errorf("autolock.unlockabove %s must not be below autolock.lockbelow %s",
			unlock, lock)
	}
	return billing.AutolockPolicy{LockBelow: lock, UnlockAbove: unlock}, nil
}
