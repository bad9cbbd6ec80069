package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hailing/internal/app"
	"hailing/internal/auth"
	"hailing/internal/broker"
	"hailing/internal/config"
	"hailing/internal/handler"
	"hailing/internal/realtime"
	internalRedis "hailing/internal/redis"
	"hailing/internal/repository"
	"hailing/internal/repository/memory"
	"hailing/internal/repository/postgres"
	"hailing/internal/service"
)

func main() {
	cfg := config.Load()

	logger, syncLogger, err := app.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer syncLogger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// New Relic goes first so the database and Redis clients get instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
			defer nrApp.Shutdown(5 * time.Second)
		}
	}

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	store, closeStore, err := openStore(startupCtx, cfg, nrApp)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = app.NewRedisClient(startupCtx, cfg.Redis, nrApp)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	authenticator, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	rates := service.DefaultRateTable()
	if cfg.Fare.RatesFile != "" {
		rates, err = service.LoadRateTable(cfg.Fare.RatesFile)
		if err != nil {
			return err
		}
	}
	fares, err := service.NewFareCalculator(rates, cfg.Fare.CommissionBps)
	if err != nil {
		return err
	}

	// Presence, claim locks, throttling and the cross-instance relay live in
	// Redis; without it each concern falls back to this process only.
	hub := realtime.NewHub()
	var (
		locationStore internalRedis.LocationStoreInterface
		lockStore     internalRedis.LockStoreInterface
		throttle      service.Throttle = service.NewLocalThrottle()
		transports    []service.Transport
		relay         *internalRedis.PubSub
	)
	if redisClient != nil {
		locationStore = internalRedis.NewLocationStore(redisClient)
		lockStore = internalRedis.NewLockStore(redisClient)
		throttle = internalRedis.NewThrottle(redisClient)
		relay = internalRedis.NewPubSub(redisClient)
		// The local hub is fed by the relay so every instance sees every event once.
		transports = append(transports, relay)
	} else {
		transports = append(transports, hub)
	}
	if cfg.Broker.Enabled {
		publisher, err := broker.NewPublisher(cfg.Broker.URL, cfg.Broker.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		transports = append(transports, publisher)
		logger.Info("amqp event sink enabled", zap.String("exchange", cfg.Broker.Exchange))
	}

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		QueueSize:        cfg.Dispatch.QueueSize,
		Workers:          cfg.Dispatch.Workers,
		LocationInterval: cfg.Dispatch.LocationInterval,
		DeliveryTimeout:  cfg.Dispatch.DeliveryTimeout,
	}, throttle, transports...)
	dispatcher.Start()
	defer dispatcher.Close()

	notifications := service.NewNotificationService(dispatcher)
	ledger := service.NewLedger(store, fares, notifications)
	stateMachine := service.NewTripStateMachine(store, ledger)
	coordinator := service.NewAssignmentCoordinator(store, lockStore, cfg.Dispatch.ClaimLockTTL)

	var surge *service.SurgeService
	if cfg.Fare.SurgeEnabled && locationStore != nil {
		surgeCfg := service.DefaultSurgeConfig()
		surgeCfg.RadiusKm = cfg.Fare.SurgeRadiusKm
		surge = service.NewSurgeService(locationStore, store, surgeCfg)
	}

	tripService := service.NewTripService(service.TripServiceDeps{
		Store:           store,
		StateMachine:    stateMachine,
		Coordinator:     coordinator,
		Ledger:          ledger,
		Fares:           fares,
		Surge:           surge,
		LocationStore:   locationStore,
		Notifications:   notifications,
		AverageSpeedKmh: cfg.Fare.AverageSpeedKmh,
	})
	driverService := service.NewDriverService(store, locationStore)
	receiptService := service.NewReceiptService(store, fares, cfg.Fare.Currency)
	sweeper := service.NewExpirySweeper(store, tripService, cfg.Expiry.TTL, cfg.Expiry.Interval, cfg.Expiry.Batch)

	router := app.NewRouter(app.RouterDeps{
		TripHandler:    handler.NewTripHandler(tripService, receiptService),
		DriverHandler:  handler.NewDriverHandler(driverService, tripService),
		WalletHandler:  handler.NewWalletHandler(ledger, cfg.Fare.Currency),
		AdminHandler:   handler.NewAdminHandler(ledger, tripService),
		WSHandler:      handler.NewWSHandler(hub, tripService, cfg.Server.AllowedOrigins),
		Authenticator:  authenticator,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	if relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			internalRedis.KeepListening(ctx, relay, hub, 500*time.Millisecond, 30*time.Second)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	hub.Close()
	err = server.Shutdown(shutdownCtx)
	wg.Wait()

	stats := dispatcher.Stats()
	logger.Info("dispatcher totals",
		zap.Int64("published", stats.Published),
		zap.Int64("delivered", stats.Delivered),
		zap.Int64("dropped", stats.Dropped),
		zap.Int64("throttled", stats.Throttled),
		zap.Int64("failed", stats.Failed),
	)
	return err
}

// openStore returns the configured repository.Store and its closer.
func openStore(ctx context.Context, cfg *config.Config, nrApp *newrelic.Application) (repository.Store, func(), error) {
	if cfg.Database.Backend == "memory" {
		zap.L().Warn("using in-memory store; state is lost on exit")
		return memory.NewStore(), func() {}, nil
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		return nil, nil, err
	}
	if err := app.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	zap.L().Info("connected to postgres", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))
	return postgres.NewStore(db), func() { db.Close() }, nil
}
