package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httptransport "github.com/lyanjo/fila-service/internal/api/http"
	"github.com/lyanjo/fila-service/internal/api/http/handlers"
	"github.com/lyanjo/fila-service/internal/auth"
	"github.com/lyanjo/fila-service/internal/config"
	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/events"
	"github.com/lyanjo/fila-service/internal/observability"
	"github.com/lyanjo/fila-service/internal/persistence"
	"github.com/lyanjo/fila-service/internal/reconcile"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/scheduler"
	"github.com/lyanjo/fila-service/internal/service"
	"github.com/lyanjo/fila-service/internal/store"
	"github.com/lyanjo/fila-service/internal/worker"
)

func main() {
	envFile := pflag.String("env-file", "", "path to a .env file loaded before the environment")
	departmentsFile := pflag.String("departments", "", "YAML department registry (overrides DEPARTMENTS_FILE)")
	storePath := pflag.String("store", "", "local state file (overrides STORE_PATH)")
	skipMigrations := pflag.Bool("skip-migrations", false, "do not apply ledger migrations at startup")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *departmentsFile != "" {
		cfg.Departments.File = *departmentsFile
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if *skipMigrations {
		cfg.Postgres.RunMigrations = false
	}

	logger, err := observability.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	location, err := cfg.App.Location()
	if err != nil {
		logger.Fatal("invalid timezone", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := domain.DefaultRegistry()
	if cfg.Departments.File != "" {
		registry, err = domain.LoadRegistry(cfg.Departments.File)
		if err != nil {
			logger.Fatal("failed to load departments", zap.Error(err))
		}
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to configure postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations && pg.Ping(ctx) == nil {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	blob, err := persistence.OpenBolt(cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open local state", zap.String("path", cfg.Store.Path), zap.Error(err))
	}
	defer blob.Close() //nolint:errcheck

	st, err := store.Open(blob, store.Options{HistoryLimit: cfg.Store.HistoryLimit, Logger: logger})
	if err != nil {
		logger.Fatal("failed to load local state", zap.Error(err))
	}

	pool := pg.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	citizenRepo := repository.NewCitizenRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	metrics := observability.NewMetrics()
	monitor := worker.NewConnectivityMonitor(pg.Ping, 2*time.Second, logger, metrics)

	dispatcher := events.NewInMemoryDispatcher(logger)
	var publisher service.Publisher
	if redis.Enabled() {
		publisher = redis
	}
	display := service.NewDisplayService(dispatcher, publisher, cfg.Redis.KeyPrefix+"display", logger)

	var counter service.Counter
	if redis.Enabled() {
		counter = repository.NewRedisCounter(redis.Client, cfg.Redis.KeyPrefix, cfg.Redis.CounterTTL(), logger)
	}
	sequencer := service.NewSequencer(service.SequencerDependencies{
		Registry: registry,
		Counter:  counter,
		Tickets:  ticketRepo,
		Store:    st,
		Location: location,
		Logger:   logger,
	})
	queues := service.NewQueueService(service.QueueDependencies{
		Registry:     registry,
		Store:        st,
		Tickets:      ticketRepo,
		Sequencer:    sequencer,
		Dispatcher:   service.NewPriorityDispatcher(),
		Events:       dispatcher,
		Connectivity: monitor,
		Location:     location,
		CloseRetries: cfg.Sync.CloseRetries,
		CloseBackoff: cfg.Sync.CloseRetryBackoff(),
		Logger:       logger,
	})
	journalSvc := service.NewJournalService(service.JournalDependencies{
		Store:    st,
		Tickets:  ticketRepo,
		Citizens: citizenRepo,
		Users:    userRepo,
		Logger:   logger,
	})
	citizens := service.NewCitizenService(citizenRepo, st, nil, logger)
	users := service.NewUserService(service.UserDependencies{
		Users:      userRepo,
		Store:      st,
		Registry:   registry,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	authService := service.NewAuthService(service.AuthDependencies{
		Users:    userRepo,
		Store:    st,
		Accounts: users,
		Tokens:   tokens,
		Logger:   logger,
	})
	if _, err := users.EnsureAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPass); err != nil {
		logger.Warn("bootstrap admin skipped", zap.Error(err))
	}

	applier := reconcile.NewApplier(st, citizenRepo, nil, logger)
	poller := reconcile.NewPoller(reconcile.PollerDependencies{
		Tickets:  ticketRepo,
		Users:    userRepo,
		Applier:  applier,
		Store:    st,
		Location: location,
		Logger:   logger,
	})
	var runner *reconcile.Runner
	var feed *reconcile.Feed
	if cfg.Sync.FeedEnabled && pool != nil {
		feed = reconcile.NewFeed(reconcile.NewPgListener(pool), applier, reconcile.FeedOptions{
			Channel: cfg.Sync.FeedChannel,
			OnConnect: func(ctx context.Context) {
				runner.Resync(ctx)
			},
			Logger: logger,
		})
	}
	runner = reconcile.NewRunner(feed, poller, reconcile.RunnerOptions{
		FallbackInterval: cfg.Sync.FallbackPollInterval(),
		SafetyInterval:   cfg.Sync.SafetyPollInterval(),
		Logger:           logger,
	})

	sched := scheduler.New(ctx, logger)
	defer sched.StopAll()
	polls := reconcile.NewDeptPoller(sched, poller, cfg.Sync.DepartmentPollInterval(), logger)
	syncWorker := worker.StartSyncWorker(ctx, worker.SyncDependencies{
		Scheduler:            sched,
		Monitor:              monitor,
		Journal:              journalSvc,
		Runner:               runner,
		Display:              display,
		Metrics:              metrics,
		ConnectivityInterval: cfg.Sync.ConnectivityInterval(),
		DrainInterval:        cfg.Sync.DrainInterval(),
		Logger:               logger,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, blob),
		Auth:           handlers.NewAuthHandler(authService),
		Tickets:        handlers.NewTicketsHandler(queues),
		Queues:         handlers.NewQueuesHandler(queues, registry, polls),
		Citizens:       handlers.NewCitizensHandler(citizens),
		Users:          handlers.NewUsersHandler(users),
		Sync:           handlers.NewSyncHandler(syncWorker, monitor, queues, metrics, runner.Mode),
		Display:        handlers.NewDisplayHandler(queues, display),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), st),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	syncWorker.Stop()
	_ = app.ShutdownWithTimeout(5 * time.Second)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
