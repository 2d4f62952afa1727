package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/cryptoledger/internal/adapter/http"
	"github.com/iho/cryptoledger/internal/adapter/http/handler"
	"github.com/iho/cryptoledger/internal/adapter/http/middleware"
	"github.com/iho/cryptoledger/internal/adapter/messaging"
	"github.com/iho/cryptoledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/cryptoledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/cryptoledger/internal/adapter/repository/redis"
	"github.com/iho/cryptoledger/internal/infrastructure/auth"
	"github.com/iho/cryptoledger/internal/infrastructure/config"
	"github.com/iho/cryptoledger/internal/infrastructure/eventpublisher"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
	"github.com/iho/cryptoledger/internal/infrastructure/postgres"
	"github.com/iho/cryptoledger/internal/infrastructure/redis"
	"github.com/iho/cryptoledger/internal/usecase"
)

const limiterIdle = time.Hour

// storage is the backing store selected by STORAGE_DRIVER.
type storage struct {
	txManager usecase.TransactionManager
	balances  usecase.BalanceRepository
	entries   usecase.EntryRepository
	ledger    usecase.LedgerRepository
	outbox    usecase.OutboxRepository
	pool      *pgxpool.Pool
}

func newStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		return &storage{
			txManager: store.TxManager(),
			balances:  store.Balances(),
			entries:   store.Entries(),
			ledger:    store.Ledger(),
			outbox:    store.Outbox(),
		}, nil
	}

	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir, log); err != nil {
			return nil, err
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	log.Info().Msg("connected to postgres")

	return &storage{
		txManager: postgresRepo.NewTxManager(pool),
		balances:  postgresRepo.NewBalanceRepository(pool),
		entries:   postgresRepo.NewEntryRepository(pool),
		ledger:    postgresRepo.NewLedgerRepository(pool),
		outbox:    postgresRepo.NewOutboxRepository(pool),
		pool:      pool,
	}, nil
}

// app is the wired server with its background workers.
type app struct {
	server      *http.Server
	relay       *eventpublisher.EventPublisher
	consumer    *messaging.ConfirmationConsumer
	rateLimiter *middleware.RateLimiter
	logger      zerolog.Logger

	wg      sync.WaitGroup
	closers []func()
}

func buildApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{logger: log}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	m := metrics.NewWithRegisterer(reg)

	currencies, err := config.LoadCurrencies(cfg.CurrencyConfigPath)
	if err != nil {
		return nil, err
	}

	store, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if store.pool != nil {
		a.closers = append(a.closers, store.pool.Close)
	}

	var (
		cache       usecase.Cache
		idempotency *middleware.IdempotencyMiddleware
		redisClient *goredis.Client
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { redisClient.Close() })
		log.Info().Msg("connected to redis")

		cache = redisRepo.NewCache(redisClient)
		idempotency = middleware.NewIdempotencyMiddleware(
			redisRepo.NewIdempotencyStore(redisClient),
			redisRepo.IsPending,
			cfg.IdempotencyTTL,
			log,
		)
	}

	retrier := postgresRepo.NewRetrier(cfg.LedgerMaxAttempts, log)
	idGen := postgresRepo.NewULIDGenerator()

	ledger := usecase.NewLedgerService(
		store.txManager, store.balances, store.entries, store.outbox,
		idGen, retrier, currencies, cache, m, log,
	)
	query := usecase.NewBalanceQuery(store.balances, store.entries, currencies, cache, m, log)
	reconciler := usecase.NewConfirmationReconciler(ledger, store.entries, m, log)
	checker := usecase.NewConsistencyChecker(store.ledger, log)

	var publisher eventpublisher.Publisher = eventpublisher.NewLogPublisher(log)
	if cfg.KafkaEnabled() {
		events := messaging.NewEventPublisher(messaging.NewWriter(cfg.KafkaBrokers, cfg.KafkaEventsTopic))
		a.closers = append(a.closers, func() { events.Close() })
		publisher = events

		if err := a.buildConsumer(cfg, reconciler, m); err != nil {
			return nil, err
		}
	}

	a.relay = eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: store.outbox,
		Publisher:  publisher,
		Metrics:    m,
		Logger:     log,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxInterval,
		Retention:  cfg.OutboxRetention,
	})

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		verifier = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	}

	a.rateLimiter = middleware.NewRateLimiter(middleware.Limits{
		httpAdapter.OperationDeposit:  cfg.RateLimitDeposit,
		httpAdapter.OperationWithdraw: cfg.RateLimitWithdraw,
		httpAdapter.OperationTransfer: cfg.RateLimitTransfer,
	}, cfg.RateLimitDefault, m)

	deps := map[string]handler.Pinger{}
	if store.pool != nil {
		deps["postgres"] = store.pool
	}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	metricsHandler := promhttp.Handler()
	if gatherer, ok := reg.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		BalanceHandler:     handler.NewBalanceHandler(query),
		TransactionHandler: handler.NewTransactionHandler(query),
		OperationHandler:   handler.NewOperationHandler(ledger),
		LedgerHandler:      handler.NewLedgerHandler(checker),
		WebhookHandler:     handler.NewWebhookHandler(reconciler, cfg.WebhookSecret, log),
		HealthHandler:      handler.NewHealthHandler(deps),
		Authenticator:      middleware.NewAuthenticator(verifier, m),
		RateLimiter:        a.rateLimiter,
		Idempotency:        idempotency,
		Metrics:            m,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             log,
	})

	a.server = &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	built = true
	return a, nil
}

func (a *app) buildConsumer(cfg *config.Config, reconciler *usecase.ConfirmationReconciler, m *metrics.Metrics) error {
	pool, err := ants.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	a.closers = append(a.closers, pool.Release)

	dlqWriter := messaging.NewWriter(cfg.KafkaBrokers, cfg.KafkaDLQTopic)
	dlq := messaging.NewDLQProducer(dlqWriter, cfg.KafkaDLQTopic, m, a.logger)
	a.closers = append(a.closers, func() { dlq.Close() })

	reader := messaging.NewReader(messaging.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaConfirmationTopic,
		GroupID: cfg.KafkaConsumerGroup,
		MaxWait: cfg.KafkaMaxWait,
	})

	a.consumer = messaging.NewConfirmationConsumer(reader, reconciler, dlq, pool, messaging.ConsumerConfig{}, a.logger)
	a.closers = append(a.closers, func() { a.consumer.Close() })

	return nil
}

// startWorkers runs the outbox relay, the Kafka consumer and limiter
// cleanup until ctx is cancelled.
func (a *app) startWorkers(ctx context.Context) {
	a.goWorker(func() { a.relay.Start(ctx) })

	if a.consumer != nil {
		a.goWorker(func() { a.consumer.Run(ctx) })
	}

	a.goWorker(func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.rateLimiter.CleanupLimiters(limiterIdle); n > 0 {
					a.logger.Debug().Int("removed", n).Msg("cleaned up idle rate limiters")
				}
			}
		}
	})
}

func (a *app) goWorker(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// wait blocks until every worker returned.
func (a *app) wait() {
	a.wg.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
