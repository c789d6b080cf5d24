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
// built-in defaults, applies FIBHEDGE_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FIBHEDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setBool(&cfg.Server.Enabled, "FIBHEDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FIBHEDGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FIBHEDGE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FIBHEDGE_SERVER_API_KEY")

	// ── Database ──
	setStr(&cfg.Database.DSN, "FIBHEDGE_DATABASE_DSN")
	setStr(&cfg.Database.Host, "FIBHEDGE_DATABASE_HOST")
	setInt(&cfg.Database.Port, "FIBHEDGE_DATABASE_PORT")
	setStr(&cfg.Database.Database, "FIBHEDGE_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "FIBHEDGE_DATABASE_USER")
	setStr(&cfg.Database.Password, "FIBHEDGE_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "FIBHEDGE_DATABASE_SSLMODE")
	setStr(&cfg.Database.SSLMode, "FIBHEDGE_DATABASE_SSL_MODE") // compatibility alias
	setInt(&cfg.Database.PoolMaxConns, "FIBHEDGE_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "FIBHEDGE_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "FIBHEDGE_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FIBHEDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FIBHEDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FIBHEDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FIBHEDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FIBHEDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FIBHEDGE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FIBHEDGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FIBHEDGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "FIBHEDGE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FIBHEDGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FIBHEDGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FIBHEDGE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FIBHEDGE_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "FIBHEDGE_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Coins, "FIBHEDGE_FEED_COINS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FIBHEDGE_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "FIBHEDGE_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "FIBHEDGE_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FIBHEDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FIBHEDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FIBHEDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FIBHEDGE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FIBHEDGE_MODE")
	setStr(&cfg.LogLevel, "FIBHEDGE_LOG_LEVEL")
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
