// Package config loads ledgerd configuration from an optional YAML file,
// environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_STORAGE_BACKEND.
const EnvPrefix = "LEDGER"

// Config is the full ledgerd configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Solana    SolanaConfig    `mapstructure:"solana"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Rewards   RewardsConfig   `mapstructure:"rewards"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Log       LogConfig       `mapstructure:"log"`
}

// New reads cfgFile (skipped when empty), applies environment
// overrides and validates the result.
func New(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (cfg *Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", &cfg.Server},
		{"storage", &cfg.Storage},
		{"solana", &cfg.Solana},
		{"trading", &cfg.Trading},
		{"rewards", &cfg.Rewards},
		{"analytics", &cfg.Analytics},
		{"feed", &cfg.Feed},
		{"log", &cfg.Log},
	}

	var errs []error
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read-timeout", "15s")
	v.SetDefault("server.write-timeout", "30s")
	v.SetDefault("server.shutdown-timeout", "30s")

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.postgres-dsn", "")
	v.SetDefault("storage.clickhouse-dsn", "")
	v.SetDefault("storage.migrate-on-start", false)

	v.SetDefault("solana.rpc-url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.timeout", "10s")
	v.SetDefault("solana.max-retries", 3)
	v.SetDefault("solana.asset-id", "SOL")

	v.SetDefault("trading.curve-k", "0.0001")
	v.SetDefault("trading.price-floor", "0.000001")
	v.SetDefault("trading.decrement-holding-on-sell", true)
	v.SetDefault("trading.conflict-attempts", 5)

	v.SetDefault("rewards.enabled", true)
	v.SetDefault("rewards.interval", "5m")
	v.SetDefault("rewards.slack", "30s")
	v.SetDefault("rewards.run-on-start", false)

	v.SetDefault("analytics.batch-size", 500)
	v.SetDefault("analytics.flush-interval", "1s")
	v.SetDefault("analytics.queue-size", 10000)

	v.SetDefault("feed.enabled", true)
	v.SetDefault("feed.ping-interval", "30s")
	v.SetDefault("feed.write-timeout", "10s")
	v.SetDefault("feed.send-buffer", 256)
	v.SetDefault("feed.allowed-origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
