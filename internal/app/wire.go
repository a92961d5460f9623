package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/courtsidelabs/linedrop/internal/blob/s3"
	"github.com/courtsidelabs/linedrop/internal/cache/redis"
	"github.com/courtsidelabs/linedrop/internal/config"
	"github.com/courtsidelabs/linedrop/internal/crypto"
	"github.com/courtsidelabs/linedrop/internal/domain"
	"github.com/courtsidelabs/linedrop/internal/notify"
	"github.com/courtsidelabs/linedrop/internal/platform/espn"
	"github.com/courtsidelabs/linedrop/internal/platform/polymarket"
	"github.com/courtsidelabs/linedrop/internal/resilience"
	"github.com/courtsidelabs/linedrop/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Resilient *resilience.Client

	// Platform clients
	ESPN  *espn.Client
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient

	// Stores (nil outside trade and monitor modes)
	PositionStore domain.PositionStore
	OrderStore    domain.OrderStore
	Settings      domain.SettingsProvider

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Cold storage (nil unless s3 is enabled)
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres reports whether the mode persists positions and reads the
// settings collaborator.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "monitor":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependencies for the configured mode and
// returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	deps.Resilient = resilience.NewClient(
		resilience.RetryConfig{
			MaxAttempts: cfg.Resilience.MaxAttempts,
			BaseDelay:   cfg.Resilience.BaseDelay.Duration,
			MaxDelay:    cfg.Resilience.MaxDelay.Duration,
		},
		resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			RecoveryTimeout:  cfg.Resilience.RecoveryTimeout.Duration,
		},
		logger,
	)

	deps.ESPN = espn.NewClient(cfg.ESPN.BaseURL, deps.Resilient)
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, deps.Resilient)

	// The CLOB client signs orders only in trade mode; elsewhere it serves
	// the public price surfaces.
	var signer *crypto.Signer
	hmacAuth := &crypto.HMACAuth{
		Key:        cfg.API.Key,
		Secret:     cfg.API.Secret,
		Passphrase: cfg.API.Passphrase,
	}
	if mode == "trade" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(key, cfg.Polymarket.ChainID, cfg.Polymarket.SignatureType)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
	}
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, deps.Resilient, signer, hmacAuth)

	// Trade mode needs L2 API credentials for the user stream and order
	// endpoints; derive them from the wallet when not configured.
	if mode == "trade" && !hmacAuth.Configured() {
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
	}

	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.Settings = postgres.NewSettingsStore(pool)
	} else {
		deps.Settings = config.NewStaticSettings(cfg.Trading)
	}

	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, deps.SignalBus, logger)

	return deps, cleanup, nil
}
