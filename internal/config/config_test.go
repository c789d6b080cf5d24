package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "dance"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "dance"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
	assert.Contains(t, err.Error(), "server: port must be 1-65535")
}

func TestValidateRequiresS3ForArchive(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")

	// Same config is fine when nothing archives.
	cfg.Mode = "serve"
	cfg.Archive.Enabled = false
	require.NoError(t, cfg.Validate())
}

func TestValidateTelegramCredentialsSetTogether(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "token"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram_token and telegram_chat_id must be set together")

	cfg.Notify.TelegramChatID = "42"
	require.NoError(t, cfg.Validate())
}

func TestValidateFeedCoinsRequiredWithWsURL(t *testing.T) {
	cfg := Defaults()
	cfg.Feed.WsURL = "wss://stream.example.com/ws"
	cfg.Feed.Coins = nil

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed: coins must not be empty")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIBHEDGE_MODE", "track")
	t.Setenv("FIBHEDGE_DATABASE_PASSWORD", "hunter2")
	t.Setenv("FIBHEDGE_SERVER_PORT", "9001")
	t.Setenv("FIBHEDGE_ARCHIVE_ENABLED", "true")
	t.Setenv("FIBHEDGE_ARCHIVE_INTERVAL", "6h")
	t.Setenv("FIBHEDGE_FEED_COINS", "BTC, ETH ,SOL")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "track", cfg.Mode)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 6*time.Hour, cfg.Archive.Interval.Duration)
	assert.Equal(t, []string{"BTC", "ETH", "SOL"}, cfg.Feed.Coins)
}

func TestEnvOverridesIgnoreEmptyAndMalformed(t *testing.T) {
	t.Setenv("FIBHEDGE_SERVER_PORT", "not-a-number")
	t.Setenv("FIBHEDGE_REDIS_ADDR", "")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "secret"
	cfg.Server.APIKey = "key"
	cfg.S3.SecretKey = "s3secret"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)

	assert.Equal(t, "***", out.Database.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	// Original untouched.
	assert.Equal(t, "secret", cfg.Database.Password)

	out.Notify.Events[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Notify.Events[0])
}
