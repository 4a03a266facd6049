package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"custodial-ledger/config"
	httpHandler "custodial-ledger/internal/adapter/http/handler"
	"custodial-ledger/internal/adapter/messaging/kafka"
	memStorage "custodial-ledger/internal/adapter/storage/memory"
	pgStorage "custodial-ledger/internal/adapter/storage/postgres"
	redisStorage "custodial-ledger/internal/adapter/storage/redis"
	"custodial-ledger/internal/core/ports"
	"custodial-ledger/internal/eventbus"
	"custodial-ledger/internal/service"
	"custodial-ledger/pkg/logger"

	"github.com/rs/zerolog"
)

// storage is the set of ports provided by the configured database driver.
type storage struct {
	wallets      ports.WalletRepository
	balances     ports.BalanceRepository
	transactions ports.TransactionRepository
	orders       ports.RampOrderRepository
	markers      ports.ProcessedNotificationRepository
	transactor   ports.DBTransactor
	health       ports.HealthChecker
	close        func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("driver", cfg.Database.Driver).
		Msg("Starting custodial ledger")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	healthCheckers := []ports.HealthChecker{store.health}

	// Redis is an optional fast path in front of the processed-notification markers.
	var cache ports.IdempotencyCache
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		cache = redisStorage.NewNotificationCache(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	bus := eventbus.New(log, cfg.EventBus.HistorySize)

	uow := service.NewUnitOfWork(store.transactor, cfg.UoW, log)
	ledger := service.NewBalanceLedger(store.wallets, store.balances, uow, log)
	transferSvc := service.NewTransferService(store.wallets, store.transactions, ledger, uow, bus, log)
	reconSvc := service.NewReconciliationService(
		store.wallets,
		store.orders,
		store.markers,
		cache,
		cfg.Redis.IdempotencyTTL,
		ledger,
		uow,
		bus,
		log,
	)

	var workers sync.WaitGroup
	if cfg.Kafka.Enabled {
		relay := kafka.NewEventRelay(kafka.NewWriter(cfg.Kafka, log), log)
		defer relay.Close()
		bus.SubscribeAll(relay.Handle)

		consumer := kafka.NewNotificationConsumer(kafka.NewReader(cfg.Kafka, log), reconSvc, log)
		defer consumer.Close()

		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Notification consumer stopped")
			}
		}()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka transports started")
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Balances:       ledger,
		Transfers:      transferSvc,
		Events:         bus,
		HealthCheckers: healthCheckers,
		Logger:         log,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	workers.Wait()

	log.Info().Msg("Ledger exited")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("Using in-memory storage; state is lost on exit")
		mem := memStorage.NewStore()
		return &storage{
			wallets:      memStorage.NewWalletRepo(mem),
			balances:     memStorage.NewBalanceRepo(mem),
			transactions: memStorage.NewTransactionRepo(mem),
			orders:       memStorage.NewRampOrderRepo(mem),
			markers:      memStorage.NewNotificationRepo(mem),
			transactor:   memStorage.NewTransactor(mem),
			health:       mem,
			close:        func() {},
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(cfg.Database, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	return &storage{
		wallets:      pgStorage.NewWalletRepo(pool),
		balances:     pgStorage.NewBalanceRepo(pool),
		transactions: pgStorage.NewTransactionRepo(pool),
		orders:       pgStorage.NewRampOrderRepo(pool),
		markers:      pgStorage.NewNotificationRepo(pool),
		transactor:   pgStorage.NewTransactor(pool),
		health:       pgStorage.NewHealthCheck(pool),
		close:        pool.Close,
	}, nil
}
