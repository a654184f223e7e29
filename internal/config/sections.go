package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"launchpad-ledger/internal/pricing"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
}

func (cfg *ServerConfig) Validate() error {
	if cfg.Addr == "" {
		return errors.New("addr is required")
	}
	if cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		return errors.New("read-timeout and write-timeout must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("shutdown-timeout must be positive")
	}
	return nil
}

// StorageConfig selects the ledger store. The ClickHouse mirror is enabled
// whenever ClickHouseDSN is set.
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	PostgresDSN    string `mapstructure:"postgres-dsn"`
	ClickHouseDSN  string `mapstructure:"clickhouse-dsn"`
	MigrateOnStart bool   `mapstructure:"migrate-on-start"`
}

func (cfg *StorageConfig) Validate() error {
	switch cfg.Backend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return errors.New("postgres-dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return nil
}

type SolanaConfig struct {
	RPCURL     string        `mapstructure:"rpc-url"`
	Commitment string        `mapstructure:"commitment"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint          `mapstructure:"max-retries"`
	// AssetID is SOL or an SPL mint address.
	AssetID string `mapstructure:"asset-id"`
}

func (cfg *SolanaConfig) Validate() error {
	if cfg.RPCURL == "" {
		return errors.New("rpc-url is required")
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("invalid commitment %q", cfg.Commitment)
	}
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if cfg.AssetID == "" {
		return errors.New("asset-id is required")
	}
	return nil
}

type TradingConfig struct {
	CurveK                 string `mapstructure:"curve-k"`
	PriceFloor             string `mapstructure:"price-floor"`
	DecrementHoldingOnSell bool   `mapstructure:"decrement-holding-on-sell"`
	ConflictAttempts       uint   `mapstructure:"conflict-attempts"`
}

// Curve parses the configured curve parameters.
func (cfg *TradingConfig) Curve() (pricing.Curve, error) {
	k, err := decimal.NewFromString(cfg.CurveK)
	if err != nil {
		return pricing.Curve{}, fmt.Errorf("curve-k: %w", err)
	}
	floor, err := decimal.NewFromString(cfg.PriceFloor)
	if err != nil {
		return pricing.Curve{}, fmt.Errorf("price-floor: %w", err)
	}
	return pricing.NewCurve(k, floor)
}

func (cfg *TradingConfig) Validate() error {
	if _, err := cfg.Curve(); err != nil {
		return err
	}
	if cfg.ConflictAttempts == 0 {
		return errors.New("conflict-attempts must be positive")
	}
	return nil
}

type RewardsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	Slack      time.Duration `mapstructure:"slack"`
	RunOnStart bool          `mapstructure:"run-on-start"`
}

func (cfg *RewardsConfig) Validate() error {
	if cfg.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if cfg.Slack < 0 || cfg.Slack >= cfg.Interval {
		return errors.New("slack must be non-negative and below interval")
	}
	return nil
}

type AnalyticsConfig struct {
	BatchSize     int           `mapstructure:"batch-size"`
	FlushInterval time.Duration `mapstructure:"flush-interval"`
	QueueSize     int           `mapstructure:"queue-size"`
}

func (cfg *AnalyticsConfig) Validate() error {
	if cfg.BatchSize <= 0 || cfg.QueueSize <= 0 {
		return errors.New("batch-size and queue-size must be positive")
	}
	if cfg.FlushInterval <= 0 {
		return errors.New("flush-interval must be positive")
	}
	return nil
}

type FeedConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PingInterval   time.Duration `mapstructure:"ping-interval"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout"`
	SendBuffer     int           `mapstructure:"send-buffer"`
	AllowedOrigins []string      `mapstructure:"allowed-origins"`
}

func (cfg *FeedConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.PingInterval <= 0 || cfg.WriteTimeout <= 0 {
		return errors.New("ping-interval and write-timeout must be positive")
	}
	if cfg.SendBuffer <= 0 {
		return errors.New("send-buffer must be positive")
	}
	return nil
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ZerologLevel parses Level.
func (cfg *LogConfig) ZerologLevel() (zerolog.Level, error) {
	return zerolog.ParseLevel(cfg.Level)
}

func (cfg *LogConfig) Validate() error {
	if _, err := cfg.ZerologLevel(); err != nil {
		return err
	}
	if cfg.Format != "json" && cfg.Format != "console" {
		return fmt.Errorf("format must be json or console, got %q", cfg.Format)
	}
	return nil
}
