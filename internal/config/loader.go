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
// built-in defaults, applies LINEDROP_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LINEDROP_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── ESPN ──
	setStr(&cfg.ESPN.BaseURL, "LINEDROP_ESPN_BASE_URL")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "LINEDROP_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "LINEDROP_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "LINEDROP_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "LINEDROP_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "LINEDROP_POLYMARKET_SIGNATURE_TYPE")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LINEDROP_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LINEDROP_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LINEDROP_WALLET_KEY_PASSWORD")

	// ── API credentials ──
	setStr(&cfg.API.Key, "LINEDROP_API_KEY")
	setStr(&cfg.API.Secret, "LINEDROP_API_SECRET")
	setStr(&cfg.API.Passphrase, "LINEDROP_API_PASSPHRASE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LINEDROP_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LINEDROP_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LINEDROP_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LINEDROP_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LINEDROP_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LINEDROP_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LINEDROP_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LINEDROP_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LINEDROP_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LINEDROP_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LINEDROP_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LINEDROP_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LINEDROP_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LINEDROP_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LINEDROP_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LINEDROP_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LINEDROP_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LINEDROP_S3_REGION")
	setStr(&cfg.S3.Bucket, "LINEDROP_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LINEDROP_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LINEDROP_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "LINEDROP_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setBool(&cfg.Trading.Enabled, "LINEDROP_TRADING_ENABLED")
	setInt(&cfg.Trading.MaxTotalPositions, "LINEDROP_TRADING_MAX_TOTAL_POSITIONS")
	setFloat64(&cfg.Trading.DailyLossCap, "LINEDROP_TRADING_DAILY_LOSS_CAP")
	setFloat64(&cfg.Trading.TotalExposureCap, "LINEDROP_TRADING_TOTAL_EXPOSURE_CAP")
	setDuration(&cfg.Trading.PollInterval, "LINEDROP_TRADING_POLL_INTERVAL")
	setDuration(&cfg.Trading.CatalogInterval, "LINEDROP_TRADING_CATALOG_INTERVAL")
	setFloat64(&cfg.Trading.MatchConfidence, "LINEDROP_TRADING_MATCH_CONFIDENCE")
	setInt(&cfg.Trading.MinKeywordMatches, "LINEDROP_TRADING_MIN_KEYWORD_MATCHES")

	// ── Resilience ──
	setInt(&cfg.Resilience.MaxAttempts, "LINEDROP_RESILIENCE_MAX_ATTEMPTS")
	setDuration(&cfg.Resilience.BaseDelay, "LINEDROP_RESILIENCE_BASE_DELAY")
	setDuration(&cfg.Resilience.MaxDelay, "LINEDROP_RESILIENCE_MAX_DELAY")
	setInt(&cfg.Resilience.FailureThreshold, "LINEDROP_RESILIENCE_FAILURE_THRESHOLD")
	setDuration(&cfg.Resilience.RecoveryTimeout, "LINEDROP_RESILIENCE_RECOVERY_TIMEOUT")

	// ── Stream ──
	setDuration(&cfg.Stream.KeepAliveInterval, "LINEDROP_STREAM_KEEP_ALIVE_INTERVAL")
	setDuration(&cfg.Stream.StaleTimeout, "LINEDROP_STREAM_STALE_TIMEOUT")
	setDuration(&cfg.Stream.ReconnectBaseDelay, "LINEDROP_STREAM_RECONNECT_BASE_DELAY")
	setDuration(&cfg.Stream.ReconnectMaxDelay, "LINEDROP_STREAM_RECONNECT_MAX_DELAY")
	setInt(&cfg.Stream.MaxReconnectAttempts, "LINEDROP_STREAM_MAX_RECONNECT_ATTEMPTS")

	// ── Broadcast ──
	setBool(&cfg.Broadcast.Enabled, "LINEDROP_BROADCAST_ENABLED")
	setInt(&cfg.Broadcast.Port, "LINEDROP_BROADCAST_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LINEDROP_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LINEDROP_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LINEDROP_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LINEDROP_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LINEDROP_MODE")
	setStr(&cfg.LogLevel, "LINEDROP_LOG_LEVEL")
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
