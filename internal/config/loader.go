package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STRATEXEC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STRATEXEC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setStr(&cfg.Broker.Provider, "STRATEXEC_BROKER_PROVIDER")
	setStr(&cfg.Broker.ApiKey, "STRATEXEC_BROKER_API_KEY")
	setStr(&cfg.Broker.ApiSecret, "STRATEXEC_BROKER_API_SECRET")
	setStr(&cfg.Broker.BaseURL, "STRATEXEC_BROKER_BASE_URL")
	setDuration(&cfg.Broker.CallTimeout, "STRATEXEC_BROKER_CALL_TIMEOUT")
	setInt(&cfg.Broker.OrdersPerSecond, "STRATEXEC_BROKER_ORDERS_PER_SECOND")

	// ── Database ──
	setStr(&cfg.Database.Driver, "STRATEXEC_DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "STRATEXEC_DATABASE_DSN")
	setStr(&cfg.Database.Host, "STRATEXEC_DATABASE_HOST")
	setInt(&cfg.Database.Port, "STRATEXEC_DATABASE_PORT")
	setStr(&cfg.Database.Database, "STRATEXEC_DATABASE_NAME")
	setStr(&cfg.Database.User, "STRATEXEC_DATABASE_USER")
	setStr(&cfg.Database.Password, "STRATEXEC_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "STRATEXEC_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "STRATEXEC_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "STRATEXEC_DATABASE_POOL_MIN_CONNS")
	setStr(&cfg.Database.Path, "STRATEXEC_DATABASE_PATH")
	setBool(&cfg.Database.RunMigrations, "STRATEXEC_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STRATEXEC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STRATEXEC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STRATEXEC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STRATEXEC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STRATEXEC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "STRATEXEC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "STRATEXEC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "STRATEXEC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "STRATEXEC_S3_REGION")
	setStr(&cfg.S3.Bucket, "STRATEXEC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "STRATEXEC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "STRATEXEC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "STRATEXEC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "STRATEXEC_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setInt(&cfg.Engine.TrackEveryTicks, "STRATEXEC_ENGINE_TRACK_EVERY_TICKS")
	setDuration(&cfg.Engine.OrderWindow, "STRATEXEC_ENGINE_ORDER_WINDOW")
	setDuration(&cfg.Engine.LedgerRetention, "STRATEXEC_ENGINE_LEDGER_RETENTION")
	setDuration(&cfg.Engine.PruneInterval, "STRATEXEC_ENGINE_PRUNE_INTERVAL")
	setDuration(&cfg.Engine.TradeRetention, "STRATEXEC_ENGINE_TRADE_RETENTION")
	setDuration(&cfg.Engine.SubmitLockTTL, "STRATEXEC_ENGINE_SUBMIT_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "STRATEXEC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "STRATEXEC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "STRATEXEC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "STRATEXEC_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "STRATEXEC_MODE")
	setStr(&cfg.LogLevel, "STRATEXEC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
