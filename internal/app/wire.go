package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/bitpesa/bitpesa/internal/blob/s3"
	cachememory "github.com/bitpesa/bitpesa/internal/cache/memory"
	"github.com/bitpesa/bitpesa/internal/cache/redis"
	"github.com/bitpesa/bitpesa/internal/config"
	"github.com/bitpesa/bitpesa/internal/crypto"
	"github.com/bitpesa/bitpesa/internal/domain"
	"github.com/bitpesa/bitpesa/internal/engine"
	"github.com/bitpesa/bitpesa/internal/metrics"
	"github.com/bitpesa/bitpesa/internal/notify"
	"github.com/bitpesa/bitpesa/internal/pricefeed"
	"github.com/bitpesa/bitpesa/internal/relay"
	"github.com/bitpesa/bitpesa/internal/server/handler"
	"github.com/bitpesa/bitpesa/internal/service"
	"github.com/bitpesa/bitpesa/internal/store/memory"
	"github.com/bitpesa/bitpesa/internal/store/postgres"
)

const writerLeaseTTL = 15 * time.Second

func writerLeaseKey(home domain.ChainSelector) string {
	return "writer:" + home.String()
}

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function.
type Dependencies struct {
	Engine       *engine.Engine
	EngineConfig engine.Config
	Poller       *pricefeed.Poller
	Metrics      *metrics.Metrics

	// Stores
	Stores service.Stores
	Audit  domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// WriterLease closes when this instance stops being the only writer for
	// its home chain.
	WriterLease <-chan struct{}

	// Services
	Vault  *service.VaultService
	Loans  *service.LoanService
	Wills  *service.WillService
	Bridge *service.BridgeService
	Chains *service.ChainService

	// Relay identity; nil when the relay is disabled.
	Signer    *crypto.Signer
	Verifier  *crypto.Verifier
	Publisher *relay.Publisher

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier

	// Probes back the health endpoint.
	Probes []handler.Probe
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
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

	deps := &Dependencies{Metrics: metrics.New()}

	engCfg, err := cfg.Engine.Build()
	if err != nil {
		return fail(fmt.Errorf("wire: engine config: %w", err))
	}
	deps.EngineConfig = engCfg

	// --- Persistence ---
	var state domain.StateWriter
	switch cfg.Database.Driver {
	case "memory":
		logger.WarnContext(ctx, "using the in-memory store; state is lost on exit")
		mem := memory.New()
		state = mem
		deps.Audit = mem.Audit()
		deps.Stores = service.Stores{
			Accounts:  mem.Accounts(),
			Positions: mem.Positions(),
			Wills:     mem.Wills(),
			Bridge:    mem.Bridge(),
			Chains:    mem.Chains(),
		}
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.Probes = append(deps.Probes, handler.Probe{Name: "postgres", Check: pgClient.Ping})

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		state = pgClient
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Stores = service.Stores{
			Accounts:  postgres.NewAccountStore(pool),
			Positions: postgres.NewPositionStore(pool),
			Wills:     postgres.NewWillStore(pool),
			Bridge:    postgres.NewBridgeStore(pool),
			Chains:    postgres.NewChainStore(pool),
		}
	}

	// --- Redis, or in-process fallbacks for a single instance ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Probes = append(deps.Probes, handler.Probe{Name: "redis", Check: redisClient.Ping})

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Price.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		logger.WarnContext(ctx, "redis disabled; bus, locks and rate limits are process-local")
		deps.PriceCache = cachememory.NewPriceCache()
		deps.RateLimiter = cachememory.NewRateLimiter()
		deps.LockManager = cachememory.NewLocks()
		deps.SignalBus = cachememory.NewBus()
	}

	// --- Single writer per chain, taken before the engine loads state ---
	lost, release, err := deps.LockManager.Lease(ctx, writerLeaseKey(engCfg.HomeChain), writerLeaseTTL)
	if err != nil {
		return fail(fmt.Errorf("wire: writer lease for chain %s: %w", engCfg.HomeChain, err))
	}
	closers = append(closers, func() {
		release()
		<-lost
	})
	deps.WriterLease = lost

	// --- Price feed ---
	poller, closePrice, err := wirePriceFeed(ctx, cfg, engCfg.CollateralAsset, deps.PriceCache, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closePrice)
	poller.SetMetrics(deps.Metrics)
	if err := poller.Refresh(ctx); err != nil {
		logger.WarnContext(ctx, "initial price refresh failed; loans stay blocked until the feed recovers",
			slog.String("error", err.Error()),
		)
	}
	deps.Poller = poller

	// --- Engine ---
	eng, err := engine.New(engCfg, poller, engine.WithTrigger(cfg.Engine.Trigger()))
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	if err := service.Bootstrap(ctx, eng, deps.Stores, logger); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Engine = eng

	// --- Relay identity ---
	var dispatcher service.Dispatcher
	if cfg.Relay.Enabled {
		pk, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Relay.PrivateKey,
			EncryptedKeyPath: cfg.Relay.EncryptedKeyPath,
			KeyPassword:      cfg.Relay.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: relay key: %w", err))
		}
		deps.Signer = crypto.NewSignerFromKey(pk)

		trusted := []domain.Address{deps.Signer.Address()}
		for _, s := range cfg.Relay.TrustedRelayers {
			addr, err := domain.ParseAddress(strings.TrimSpace(s))
			if err != nil {
				return fail(fmt.Errorf("wire: trusted relayer %q: %w", s, err))
			}
			trusted = append(trusted, addr)
		}
		deps.Verifier = crypto.NewVerifier(trusted...)
		deps.Publisher = relay.NewPublisher(deps.SignalBus, deps.Signer, cfg.Relay.ResendAfter.Duration, deps.Metrics, logger)
		dispatcher = deps.Publisher
		logger.InfoContext(ctx, "relay identity loaded",
			slog.String("relayer", deps.Signer.Address().Hex()),
			slog.Int("trusted", len(trusted)),
		)
	}

	// --- Services ---
	sd := service.Deps{
		Engine:  eng,
		State:   state,
		Audit:   deps.Audit,
		Locks:   deps.LockManager,
		Bus:     deps.SignalBus,
		Metrics: deps.Metrics,
		Logger:  logger,
	}
	if deps.Vault, err = service.NewVaultService(sd); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if deps.Loans, err = service.NewLoanService(sd); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if deps.Wills, err = service.NewWillService(sd); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if deps.Bridge, err = service.NewBridgeService(sd, dispatcher); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	if deps.Chains, err = service.NewChainService(sd); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- S3 archive (only when enabled) ---
	if cfg.Archive.Enabled {
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
		deps.Probes = append(deps.Probes, handler.Probe{Name: "s3", Check: s3Client.Ping})

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Stores.Positions,
			deps.Stores.Wills,
			deps.Stores.Bridge,
			deps.Audit,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// wirePriceFeed builds the configured price source behind a Poller. The
// returned close function is never nil.
func wirePriceFeed(ctx context.Context, cfg *config.Config, asset string, cache domain.PriceCache, logger *slog.Logger) (*pricefeed.Poller, func(), error) {
	var (
		source pricefeed.Source
		closer = func() {}
	)
	switch cfg.Price.Source {
	case "chainlink":
		cl, closeRPC, err := pricefeed.DialChainlink(ctx, cfg.Price.RPCURL, cfg.Price.Aggregator)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: chainlink: %w", err)
		}
		source, closer = cl, closeRPC
	case "static":
		price, err := domain.ParseUSD(cfg.Price.StaticUSD)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: static price: %w", err)
		}
		source = pricefeed.NewStatic(price, domain.USDDecimals)
	case "cache":
		source = pricefeed.NewCacheSource(cache)
		// Another instance owns the cache entry.
		cache = nil
	default:
		return nil, nil, fmt.Errorf("wire: unknown price source %q", cfg.Price.Source)
	}

	interval := cfg.Price.PollInterval.Duration
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return pricefeed.NewPoller(source, cache, asset, interval, logger), closer, nil
}
