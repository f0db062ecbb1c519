// Package config defines the top-level configuration for the execution engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by STRATEXEC_* environment variables.
type Config struct {
	Broker     BrokerConfig     `toml:"broker"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Engine     EngineConfig     `toml:"engine"`
	Risk       RiskConfig       `toml:"risk"`
	Strategies []StrategyConfig `toml:"strategies"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// BrokerConfig holds broker gateway credentials and call policies.
type BrokerConfig struct {
	Provider        string   `toml:"provider"` // "alpaca" or "paper"
	ApiKey          string   `toml:"api_key"`
	ApiSecret       string   `toml:"api_secret"`
	BaseURL         string   `toml:"base_url"`
	CallTimeout     Duration `toml:"call_timeout"`
	OrdersPerSecond int      `toml:"orders_per_second"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver        string `toml:"driver"` // "postgres" or "sqlite"
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	Path          string `toml:"path"` // sqlite file path
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds cycle and housekeeping cadences shared by all strategies.
type EngineConfig struct {
	TrackEveryTicks int      `toml:"track_every_ticks"` // lifecycle poll every N cycle ticks
	OrderWindow     Duration `toml:"order_window"`      // bulk reconciliation lookback
	LedgerRetention Duration `toml:"ledger_retention"`
	PruneInterval   Duration `toml:"prune_interval"`
	TradeRetention  Duration `toml:"trade_retention"` // completed trades kept hot before archival
	SubmitLockTTL   Duration `toml:"submit_lock_ttl"`
}

// LimitConfig is a risk parameter with an independent enabled flag. A
// disabled limit means unconstrained, never zero.
type LimitConfig struct {
	Value   float64 `toml:"value"`
	Enabled bool    `toml:"enabled"`
}

// RiskLimitsConfig is one resolvable set of risk parameters.
type RiskLimitsConfig struct {
	StrategyAllocationPct LimitConfig `toml:"strategy_allocation_pct"`
	PositionSizePct       LimitConfig `toml:"position_size_pct"`
	MaxShares             LimitConfig `toml:"max_shares"`
	MaxPositions          LimitConfig `toml:"max_positions"`
	DailyLossLimit        LimitConfig `toml:"daily_loss_limit"`
	MaxAccountRiskPct     LimitConfig `toml:"max_account_risk_pct"`
	EquityBuffer          LimitConfig `toml:"equity_buffer"`
	MaxSignalAge          Duration    `toml:"max_signal_age"`
}

// RiskConfig holds account-level defaults plus per-strategy overrides.
type RiskConfig struct {
	Defaults RiskLimitsConfig            `toml:"defaults"`
	Strategy map[string]RiskLimitsConfig `toml:"strategy"`
}

// StrategyConfig describes one execution cycle: its cadence and the bar
// arithmetic its signals are deduplicated against.
type StrategyConfig struct {
	ID                  string   `toml:"id"`
	Interval            Duration `toml:"interval"`
	BarMinutes          int      `toml:"bar_minutes"`
	SessionOpen         string   `toml:"session_open"` // "HH:MM" in Timezone
	Timezone            string   `toml:"timezone"`
	PriceBucket         float64  `toml:"price_bucket"`
	ScaleInTolerancePct float64  `toml:"scale_in_tolerance_pct"`
	RequireAutoApprove  bool     `toml:"require_auto_approve"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse Duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			Provider:        "paper",
			BaseURL:         "https://paper-api.alpaca.markets",
			CallTimeout:     Duration{30 * time.Second},
			OrdersPerSecond: 10,
		},
		Database: DatabaseConfig{
			Driver:        "sqlite",
			Path:          "stratexec.db",
			Host:          "localhost",
			Port:          5432,
			Database:      "stratexec",
			User:          "stratexec",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "stratexec-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			TrackEveryTicks: 2,
			OrderWindow:     Duration{24 * time.Hour},
			LedgerRetention: Duration{72 * time.Hour},
			PruneInterval:   Duration{time.Hour},
			TradeRetention:  Duration{7 * 24 * time.Hour},
			SubmitLockTTL:   Duration{15 * time.Second},
		},
		Risk: RiskConfig{
			Defaults: RiskLimitsConfig{
				StrategyAllocationPct: LimitConfig{Value: 0.20, Enabled: true},
				PositionSizePct:       LimitConfig{Value: 0.15, Enabled: true},
				MaxShares:             LimitConfig{Value: 1000, Enabled: true},
				MaxPositions:          LimitConfig{Value: 5, Enabled: true},
				DailyLossLimit:        LimitConfig{Value: 1000, Enabled: true},
				MaxAccountRiskPct:     LimitConfig{Value: 0.02, Enabled: true},
				EquityBuffer:          LimitConfig{Value: 500, Enabled: false},
				MaxSignalAge:          Duration{10 * time.Minute},
			},
			Strategy: map[string]RiskLimitsConfig{},
		},
		Strategies: []StrategyConfig{
			{
				ID:                  "default",
				Interval:            Duration{30 * time.Second},
				BarMinutes:          5,
				SessionOpen:         "09:30",
				Timezone:            "America/New_York",
				PriceBucket:         0.10,
				ScaleInTolerancePct: 0.0002,
				RequireAutoApprove:  true,
			},
		},
		Notify: NotifyConfig{
			Events: []string{"partial_failure", "order_rejected", "daily_loss_halt", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker — credentials required for live trading.
	if strings.ToLower(c.Mode) == "live" {
		if c.Broker.Provider != "alpaca" {
			errs = append(errs, fmt.Sprintf("broker: provider %q cannot be used in live mode", c.Broker.Provider))
		}
		if c.Broker.ApiKey == "" || c.Broker.ApiSecret == "" {
			errs = append(errs, "broker: api_key and api_secret are required in live mode")
		}
	}
	if c.Broker.CallTimeout.Duration <= 0 {
		errs = append(errs, "broker: call_timeout must be positive")
	}
	if c.Broker.OrdersPerSecond < 1 {
		errs = append(errs, "broker: orders_per_second must be >= 1")
	}

	// Database
	switch c.Database.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database: path must not be empty for sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: postgres, sqlite)", c.Database.Driver))
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Engine
	if c.Engine.TrackEveryTicks < 1 {
		errs = append(errs, "engine: track_every_ticks must be >= 1")
	}
	if c.Engine.OrderWindow.Duration <= 0 {
		errs = append(errs, "engine: order_window must be positive")
	}
	if c.Engine.LedgerRetention.Duration <= 0 {
		errs = append(errs, "engine: ledger_retention must be positive")
	}

	// Strategies
	if len(c.Strategies) == 0 {
		errs = append(errs, "strategies: at least one strategy must be configured")
	}
	seen := map[string]bool{}
	for i, s := range c.Strategies {
		if s.ID == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: id must not be empty", i))
			continue
		}
		if strings.ContainsAny(s.ID, ". ") {
			errs = append(errs, fmt.Sprintf("strategies[%d]: id %q must not contain dots or spaces", i, s.ID))
		}
		if seen[s.ID] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
		if s.Interval.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("strategies[%d]: interval must be positive", i))
		}
		if s.BarMinutes <= 0 {
			errs = append(errs, fmt.Sprintf("strategies[%d]: bar_minutes must be positive", i))
		}
		if err := validateSessionOpen(s.SessionOpen); err != nil {
			errs = append(errs, fmt.Sprintf("strategies[%d]: %v", i, err))
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				errs = append(errs, fmt.Sprintf("strategies[%d]: unknown timezone %q", i, s.Timezone))
			}
		}
	}

	// Risk — percentages must be sane fractions when enabled.
	checkLimits := func(scope string, rl RiskLimitsConfig) {
		for name, lc := range map[string]LimitConfig{
			"strategy_allocation_pct": rl.StrategyAllocationPct,
			"position_size_pct":       rl.PositionSizePct,
			"max_account_risk_pct":    rl.MaxAccountRiskPct,
		} {
			if lc.Enabled && (lc.Value <= 0 || lc.Value > 1) {
				errs = append(errs, fmt.Sprintf("risk.%s: %s must be in (0,1] when enabled, got %v", scope, name, lc.Value))
			}
		}
		for name, lc := range map[string]LimitConfig{
			"max_shares":       rl.MaxShares,
			"max_positions":    rl.MaxPositions,
			"daily_loss_limit": rl.DailyLossLimit,
		} {
			if lc.Enabled && lc.Value < 1 {
				errs = append(errs, fmt.Sprintf("risk.%s: %s must be >= 1 when enabled, got %v", scope, name, lc.Value))
			}
		}
	}
	checkLimits("defaults", c.Risk.Defaults)
	for id, rl := range c.Risk.Strategy {
		checkLimits("strategy."+id, rl)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateSessionOpen checks the "HH:MM" session-open format.
func validateSessionOpen(s string) error {
	if s == "" {
		return nil // falls back to 09:30
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return fmt.Errorf("session_open %q must be HH:MM", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("session_open %q out of range", s)
	}
	return nil
}

// ParseSessionOpen returns the hour and minute of the configured session
// open, defaulting to 09:30 when unset.
func (s StrategyConfig) ParseSessionOpen() (hour, minute int) {
	hour, minute = 9, 30
	if s.SessionOpen != "" {
		fmt.Sscanf(s.SessionOpen, "%d:%d", &hour, &minute)
	}
	return hour, minute
}
