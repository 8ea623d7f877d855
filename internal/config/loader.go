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
// built-in defaults, applies AGENTMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AGENTMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "AGENTMARKET_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AGENTMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "AGENTMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AGENTMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AGENTMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AGENTMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AGENTMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AGENTMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AGENTMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AGENTMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AGENTMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "AGENTMARKET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "AGENTMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AGENTMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AGENTMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AGENTMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AGENTMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AGENTMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "AGENTMARKET_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "AGENTMARKET_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "AGENTMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AGENTMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "AGENTMARKET_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "AGENTMARKET_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "AGENTMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AGENTMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AGENTMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AGENTMARKET_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setDuration(&cfg.Ledger.LockTTL, "AGENTMARKET_LEDGER_LOCK_TTL")
	setDuration(&cfg.Ledger.LockWait, "AGENTMARKET_LEDGER_LOCK_WAIT")
	setInt(&cfg.Ledger.PayoutBatchSize, "AGENTMARKET_LEDGER_PAYOUT_BATCH_SIZE")
	setFloat64(&cfg.Ledger.DefaultLiquidity, "AGENTMARKET_LEDGER_DEFAULT_LIQUIDITY")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AGENTMARKET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "AGENTMARKET_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AGENTMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AGENTMARKET_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias for PaaS hosts
	setStringSlice(&cfg.Server.CORSOrigins, "AGENTMARKET_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "AGENTMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "AGENTMARKET_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.TrustProxy, "AGENTMARKET_SERVER_TRUST_PROXY")

	// ── Auth ──
	setStr(&cfg.Auth.APIKeyPepper, "AGENTMARKET_AUTH_API_KEY_PEPPER")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "AGENTMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "AGENTMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "AGENTMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AGENTMARKET_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "AGENTMARKET_NOTIFY_COOLDOWN")

	// ── Top-level ──
	setStr(&cfg.Mode, "AGENTMARKET_MODE")
	setStr(&cfg.LogLevel, "AGENTMARKET_LOG_LEVEL")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

func setDuration(dst *duration, key string) {
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
