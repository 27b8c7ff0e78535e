package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig       `mapstructure:"server"`
	Auth       AuthConfig         `mapstructure:"auth"`
	Database   DatabaseConfig     `mapstructure:"database"`
	Redis      RedisConfig        `mapstructure:"redis"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
	Vault      VaultConfig        `mapstructure:"vault"`
	Breaker    BreakerConfig      `mapstructure:"breaker"`
	Rights     RightsConfig       `mapstructure:"rights"`
	Settlement SettlementConfig   `mapstructure:"settlement"`
	Oracle     OracleConfig       `mapstructure:"oracle"`
	Tiers      []model.TierConfig `mapstructure:"tiers"`
	Executors  []ExecutorConfig   `mapstructure:"executors"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	AdminKey      string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	DSN                  string `mapstructure:"dsn"`
	HistoryRetentionDays int    `mapstructure:"history_retention_days"`
	AuditRetentionDays   int    `mapstructure:"audit_retention_days"`
}

type RedisConfig struct {
	Addr                  string `mapstructure:"addr"`
	Password              string `mapstructure:"password"`
	DB                    int    `mapstructure:"db"`
	IdempotencyTTLSeconds int    `mapstructure:"idempotency_ttl_seconds"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type VaultConfig struct {
	// InitialAssets seeds the pool ledger at startup (base units).
	InitialAssets     int64 `mapstructure:"initial_assets"`
	MaxUtilizationBps int64 `mapstructure:"max_utilization_bps"`
	MaxSingleAssetBps int64 `mapstructure:"max_single_asset_bps"`
}

type BreakerConfig struct {
	MaxDailyLossBps int64 `mapstructure:"max_daily_loss_bps"`
}

type RightsConfig struct {
	MinDurationSeconds   int64 `mapstructure:"min_duration_seconds"`
	MaxDurationSeconds   int64 `mapstructure:"max_duration_seconds"`
	SweepIntervalSeconds int64 `mapstructure:"sweep_interval_seconds"`
}

type SettlementConfig struct {
	InsuranceFeeBps  int64 `mapstructure:"insurance_fee_bps"`
	LossToleranceBps int64 `mapstructure:"loss_tolerance_bps"`
}

type OracleConfig struct {
	URL    string   `mapstructure:"url"`
	Assets []string `mapstructure:"assets"`
}

// ExecutorConfig registers an executor at startup: identity, API key and
// optional rate limits. Tier bootstrap is admin-equivalent, so it lives
// in config rather than an open endpoint.
type ExecutorConfig struct {
	Address   string  `mapstructure:"address"`
	APIKey    string  `mapstructure:"api_key"`
	Tier      int     `mapstructure:"tier"`
	RateQPS   float64 `mapstructure:"rate_qps"`
	RateBurst int     `mapstructure:"rate_burst"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support, e.g. ERTVAULT_SERVER_PORT
	viper.SetEnvPrefix("ertvault")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("auth.admin_key", "")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("redis.idempotency_ttl_seconds", 86400)
	viper.SetDefault("database.history_retention_days", 365)
	viper.SetDefault("database.audit_retention_days", 30)

	viper.SetDefault("vault.max_utilization_bps", 7000)
	viper.SetDefault("vault.max_single_asset_bps", 3000)
	viper.SetDefault("breaker.max_daily_loss_bps", 500)
	viper.SetDefault("rights.min_duration_seconds", 86400)        // 1 day
	viper.SetDefault("rights.max_duration_seconds", 90*86400)     // 90 days
	viper.SetDefault("rights.sweep_interval_seconds", 60)
	viper.SetDefault("settlement.insurance_fee_bps", 100)
	viper.SetDefault("settlement.loss_tolerance_bps", 0)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if len(cfg.Tiers) == 0 {
		cfg.Tiers = model.DefaultTierTable()
	}
	if err := ValidateTiers(cfg.Tiers); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateTiers enforces the LP-protection invariant on every tier:
// required stake must strictly exceed the permitted drawdown, otherwise a
// max-drawdown loss would leave the pool under-collateralized.
func ValidateTiers(tiers []model.TierConfig) error {
	if len(tiers) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	for i, tc := range tiers {
		if tc.MaxCapital <= 0 {
			return fmt.Errorf("tier %d: max_capital must be positive", i)
		}
		if tc.StakeRequiredBps <= 0 || tc.StakeRequiredBps > 10000 {
			return fmt.Errorf("tier %d: stake_required_bps %d out of range", i, tc.StakeRequiredBps)
		}
		if tc.StakeRequiredBps <= tc.MaxDrawdownBps {
			return fmt.Errorf("tier %d: stake_required_bps %d must exceed max_drawdown_bps %d",
				i, tc.StakeRequiredBps, tc.MaxDrawdownBps)
		}
		if tc.RiskLevelCeiling < 1 {
			return fmt.Errorf("tier %d: risk_level_ceiling must be >= 1", i)
		}
	}
	return nil
}
