// Package config defines the top-level configuration for the linedrop bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LINEDROP_* environment
// variables.
type Config struct {
	ESPN       ESPNConfig       `toml:"espn"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Wallet     WalletConfig     `toml:"wallet"`
	API        APIConfig        `toml:"api"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Trading    TradingConfig    `toml:"trading"`
	Resilience ResilienceConfig `toml:"resilience"`
	Stream     StreamConfig     `toml:"stream"`
	Broadcast  BroadcastConfig  `toml:"broadcast"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ESPNConfig holds the game-state provider endpoint and the leagues to poll.
type ESPNConfig struct {
	BaseURL string         `toml:"base_url"`
	Leagues []LeagueConfig `toml:"leagues"`
}

// LeagueConfig names one sport/league scoreboard to poll.
type LeagueConfig struct {
	Sport  string `toml:"sport"`  // e.g. "basketball"
	League string `toml:"league"` // e.g. "nba"
}

// PolymarketConfig holds venue API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// WalletConfig holds the trading wallet credential sources. Exactly one of
// PrivateKey or EncryptedKeyPath must be set for trading modes.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword     string `toml:"key_password"`
}

// APIConfig holds venue API key credentials for the authenticated surfaces.
type APIConfig struct {
	Key        string `toml:"key"`
	Secret     string `toml:"secret"`
	Passphrase string `toml:"passphrase"`
}

// PostgresConfig holds the settings/persistence collaborator connection.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
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

// S3Config holds S3-compatible cold-storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveAfter is how long closed positions stay in the primary store
	// before being archived.
	ArchiveAfter duration `toml:"archive_after"`
	// ArchiveInterval is how often the archiver runs.
	ArchiveInterval duration `toml:"archive_interval"`
}

// SportConfig holds the built-in per-sport trading defaults. The settings
// collaborator may override these at runtime.
type SportConfig struct {
	Sport               string   `toml:"sport"`
	EntryDropPct        float64  `toml:"entry_drop_pct"`
	EntryAbsolute       float64  `toml:"entry_absolute"`
	TakeProfitPct       float64  `toml:"take_profit_pct"`
	StopLossPct         float64  `toml:"stop_loss_pct"`
	PositionSize        float64  `toml:"position_size"`
	MaxPositionsPerGame int      `toml:"max_positions_per_game"`
	MinSecondsRemaining float64  `toml:"min_seconds_remaining"`
	AllowedSegments     []string `toml:"allowed_segments"`
	RestrictedSegments  []string `toml:"restricted_segments"`
}

// TradingConfig holds global risk limits and the per-sport defaults.
type TradingConfig struct {
	Enabled          bool          `toml:"enabled"`
	MaxTotalPositions int          `toml:"max_total_positions"`
	DailyLossCap      float64      `toml:"daily_loss_cap"`
	TotalExposureCap  float64      `toml:"total_exposure_cap"`
	PollInterval      duration     `toml:"poll_interval"`
	CatalogInterval   duration     `toml:"catalog_interval"`
	MatchConfidence   float64      `toml:"match_confidence"`
	MinKeywordMatches int          `toml:"min_keyword_matches"`
	EventRetention    duration     `toml:"event_retention"`
	OrderRateLimit    int          `toml:"order_rate_limit"`
	OrderRateWindow   duration     `toml:"order_rate_window"`
	Sports            []SportConfig `toml:"sports"`
}

// ResilienceConfig tunes the retry loop and circuit breakers shared by all
// outbound calls.
type ResilienceConfig struct {
	MaxAttempts      int      `toml:"max_attempts"`
	BaseDelay        duration `toml:"base_delay"`
	MaxDelay         duration `toml:"max_delay"`
	FailureThreshold int      `toml:"failure_threshold"`
	RecoveryTimeout  duration `toml:"recovery_timeout"`
}

// StreamConfig tunes the supervised venue stream connections.
type StreamConfig struct {
	KeepAliveInterval    duration `toml:"keep_alive_interval"`
	StaleTimeout         duration `toml:"stale_timeout"`
	ReconnectBaseDelay   duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
}

// BroadcastConfig holds the observer push server parameters.
type BroadcastConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	HeartbeatInterval duration `toml:"heartbeat_interval"`
}

// NotifyConfig holds operator notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		ESPN: ESPNConfig{
			BaseURL: "https://site.api.espn.com/apis/site/v2/sports",
			Leagues: []LeagueConfig{
				{Sport: "basketball", League: "nba"},
			},
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "linedrop",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "linedrop-archive",
			ForcePathStyle:  true,
			ArchiveAfter:    duration{30 * 24 * time.Hour},
			ArchiveInterval: duration{24 * time.Hour},
		},
		Trading: TradingConfig{
			Enabled:           true,
			MaxTotalPositions: 5,
			DailyLossCap:      200.0,
			TotalExposureCap:  1000.0,
			PollInterval:      duration{15 * time.Second},
			CatalogInterval:   duration{5 * time.Minute},
			MatchConfidence:   0.7,
			MinKeywordMatches: 2,
			EventRetention:    duration{2 * time.Hour},
			OrderRateLimit:    20,
			OrderRateWindow:   duration{time.Minute},
			Sports: []SportConfig{
				{
					Sport:               "basketball",
					EntryDropPct:        0.10,
					EntryAbsolute:       0.35,
					TakeProfitPct:       0.30,
					StopLossPct:         0.20,
					PositionSize:        10.0,
					MaxPositionsPerGame: 1,
					MinSecondsRemaining: 180,
					AllowedSegments:     []string{"q1", "q2", "q3"},
					RestrictedSegments:  []string{"q4"},
				},
			},
		},
		Resilience: ResilienceConfig{
			MaxAttempts:      3,
			BaseDelay:        duration{500 * time.Millisecond},
			MaxDelay:         duration{30 * time.Second},
			FailureThreshold: 5,
			RecoveryTimeout:  duration{30 * time.Second},
		},
		Stream: StreamConfig{
			KeepAliveInterval:    duration{10 * time.Second},
			StaleTimeout:         duration{45 * time.Second},
			ReconnectBaseDelay:   duration{2 * time.Second},
			ReconnectMaxDelay:    duration{60 * time.Second},
			MaxReconnectAttempts: 10,
		},
		Broadcast: BroadcastConfig{
			Enabled:           true,
			Port:              8765,
			HeartbeatInterval: duration{15 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"risk_alert", "position_opened", "position_closed", "error"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"match":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, match)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet credentials are fatal-only for the trading mode: the loop must
	// halt rather than spin without them.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode trade")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.ESPN.BaseURL == "" {
		errs = append(errs, "espn: base_url must not be empty")
	}
	if len(c.ESPN.Leagues) == 0 {
		errs = append(errs, "espn: at least one league must be configured")
	}
	for i, l := range c.ESPN.Leagues {
		if l.Sport == "" || l.League == "" {
			errs = append(errs, fmt.Sprintf("espn: leagues[%d] must set both sport and league", i))
		}
	}

	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Trading.MatchConfidence <= 0 || c.Trading.MatchConfidence > 1 {
		errs = append(errs, fmt.Sprintf("trading: match_confidence must be in (0,1], got %g", c.Trading.MatchConfidence))
	}
	if c.Trading.MinKeywordMatches < 1 {
		errs = append(errs, "trading: min_keyword_matches must be >= 1")
	}
	if c.Trading.MaxTotalPositions < 1 {
		errs = append(errs, "trading: max_total_positions must be >= 1")
	}
	if c.Trading.DailyLossCap <= 0 {
		errs = append(errs, "trading: daily_loss_cap must be > 0")
	}
	if c.Trading.PollInterval.Duration <= 0 {
		errs = append(errs, "trading: poll_interval must be > 0")
	}
	for i, s := range c.Trading.Sports {
		if s.Sport == "" {
			errs = append(errs, fmt.Sprintf("trading: sports[%d] must set sport", i))
		}
		if s.PositionSize <= 0 {
			errs = append(errs, fmt.Sprintf("trading: sports[%d] position_size must be > 0", i))
		}
		if s.EntryDropPct <= 0 && s.EntryAbsolute <= 0 {
			errs = append(errs, fmt.Sprintf("trading: sports[%d] needs entry_drop_pct or entry_absolute", i))
		}
	}

	if c.Resilience.MaxAttempts < 1 {
		errs = append(errs, "resilience: max_attempts must be >= 1")
	}
	if c.Resilience.FailureThreshold < 1 {
		errs = append(errs, "resilience: failure_threshold must be >= 1")
	}

	if c.Stream.KeepAliveInterval.Duration <= 0 {
		errs = append(errs, "stream: keep_alive_interval must be > 0")
	}
	if c.Stream.StaleTimeout.Duration <= c.Stream.KeepAliveInterval.Duration {
		errs = append(errs, "stream: stale_timeout must exceed keep_alive_interval")
	}
	if c.Stream.MaxReconnectAttempts < 1 {
		errs = append(errs, "stream: max_reconnect_attempts must be >= 1")
	}

	if c.Broadcast.Enabled {
		if c.Broadcast.Port <= 0 || c.Broadcast.Port > 65535 {
			errs = append(errs, fmt.Sprintf("broadcast: port must be 1-65535, got %d", c.Broadcast.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
