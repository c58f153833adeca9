package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/marketengine/internal/blob/s3"
	"github.com/alanyoungcy/marketengine/internal/cache/redis"
	"github.com/alanyoungcy/marketengine/internal/config"
	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/notify"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/server/middleware"
	"github.com/alanyoungcy/marketengine/internal/service"
	"github.com/alanyoungcy/marketengine/internal/store/postgres"
)

// Dependencies bundles the engine and the infrastructure the modes share. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine   *service.Engine
	Operator common.Address

	// Optional infrastructure. A nil field means the backend is disabled.
	Stores      service.Stores
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Archiver    *s3blob.Archiver

	Notifier     *notify.Notifier
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs every enabled adapter, boots the engine on top of them and
// returns a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	operator, err := resolveOperator(cfg.Engine)
	if err != nil {
		return fail(fmt.Errorf("wire: operator: %w", err))
	}
	deps.Operator = operator

	// --- PostgreSQL ---
	var events *postgres.EventStore
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		stores := pgClient.Stores()
		events = stores.Events
		deps.Stores = service.Stores{
			Markets:     stores.Markets,
			Resolutions: stores.Resolutions,
			Fees:        stores.Fees,
			Events:      stores.Events,
			Transfers:   stores.Transfers,
			State:       stores.State,
		}
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- S3 event archive ---
	if cfg.S3.Enabled && events != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), events, logger)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	engineCfg, err := engineConfig(cfg.Engine, operator)
	if err != nil {
		return fail(fmt.Errorf("wire: engine config: %w", err))
	}
	// Persistent stores may be shared with other processes (a standalone
	// keeper, more API replicas), so the engine reloads before it acts.
	engineCfg.Shared = cfg.Postgres.Enabled
	if engineCfg.Shared && deps.LockManager == nil && !strings.EqualFold(cfg.Mode, "full") {
		logger.Warn("postgres without redis: concurrent engine processes are not serialized")
	}
	engine, err := service.New(engineCfg, service.Deps{
		Stores:  deps.Stores,
		Cache:   deps.MarketCache,
		Locks:   deps.LockManager,
		Bus:     deps.SignalBus,
		Alerter: deps.Notifier,
		Logger:  logger,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	if err := engine.Load(ctx); err != nil {
		return fail(fmt.Errorf("wire: engine load: %w", err))
	}
	deps.Engine = engine

	return deps, cleanup, nil
}

// resolveOperator returns the operator principal. A configured key wins over
// the plain address.
func resolveOperator(cfg config.EngineConfig) (common.Address, error) {
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.OperatorKey,
		EncryptedKeyPath: cfg.OperatorKeyPath,
		KeyPassword:      cfg.OperatorKeyPassword,
	}
	if keyCfg.Configured() {
		key, err := crypto.LoadKey(keyCfg)
		if err != nil {
			return common.Address{}, err
		}
		return crypto.NewSigner(key).Address(), nil
	}
	if cfg.Operator == "" {
		return common.Address{}, nil
	}
	return common.HexToAddress(cfg.Operator), nil
}

func engineConfig(cfg config.EngineConfig, operator common.Address) (service.Config, error) {
	out := service.Config{
		Deployer:     common.HexToAddress(cfg.Deployer),
		Operator:     operator,
		DefaultCurve: domain.PricingKind(strings.ToLower(cfg.DefaultCurve)),
		Overrides:    make(map[string]decimal.Decimal, len(cfg.Overrides)),
		LockTTL:      cfg.LockTTL.Duration,
	}
	for _, r := range cfg.Resolvers {
		out.Resolvers = append(out.Resolvers, common.HexToAddress(r))
	}
	for k, v := range cfg.Overrides {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return service.Config{}, fmt.Errorf("override %s: %w", k, err)
		}
		out.Overrides[k] = d
	}
	return out, nil
}
