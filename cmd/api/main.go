package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/campusmart-backend/api/routes"
	"github.com/angelmondragon/campusmart-backend/internal/catalog"
	"github.com/angelmondragon/campusmart-backend/internal/coordinator"
	"github.com/angelmondragon/campusmart-backend/internal/events"
	"github.com/angelmondragon/campusmart-backend/internal/locks"
	"github.com/angelmondragon/campusmart-backend/internal/notifications"
	"github.com/angelmondragon/campusmart-backend/internal/orders"
	"github.com/angelmondragon/campusmart-backend/internal/query"
	"github.com/angelmondragon/campusmart-backend/internal/wallet"
	"github.com/angelmondragon/campusmart-backend/pkg/auth/session"
	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/migrate"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	orderMetrics := metrics.NewOrderMetrics(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	distributor := events.NewDistributor(events.Params{
		InboxSize:        cfg.Eventing.InboxSize,
		SubscriberBuffer: cfg.Eventing.SubscriberBuffer,
		MaxMisses:        cfg.Eventing.MaxMisses,
		Logger:           logg,
		Metrics:          metrics.NewDistributorMetrics(registry),
	})
	distributor.Start(ctx)
	defer distributor.Stop()

	lockTable := locks.NewTable()
	catalogRepo := catalog.NewRepository(dbClient.DB())
	ordersRepo := orders.NewRepository(dbClient.DB())

	walletService, err := wallet.NewService(wallet.ServiceParams{
		Repo:    wallet.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Locks:   lockTable,
		Logger:  logg,
		Metrics: orderMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	tokens, err := orders.NewTokenGenerator(cfg.Orders.PickupTokenLength)
	if err != nil {
		logg.Error(context.Background(), "failed to create pickup token generator", err)
		os.Exit(1)
	}

	coordinatorService, err := coordinator.NewService(coordinator.ServiceParams{
		Orders:        ordersRepo,
		Wallet:        walletService,
		Menu:          catalogRepo,
		Tx:            dbClient,
		Outbox:        outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Events:        distributor,
		Locks:         lockTable,
		Tokens:        tokens,
		TokenAttempts: cfg.Orders.PickupTokenMaxAttempts,
		Logger:        logg,
		Metrics:       orderMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order coordinator", err)
		os.Exit(1)
	}

	queryService, err := query.NewService(query.ServiceParams{
		Orders: ordersRepo,
		Shops:  catalogRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order query service", err)
		os.Exit(1)
	}

	notificationService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	revocations, err := session.NewRevocations(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create token revocation list", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:            dbClient,
			Store:         redisClient,
			Revocations:   revocations,
			Coordinator:   coordinatorService,
			Query:         queryService,
			Wallet:        walletService,
			Notifications: notificationService,
			Events:        distributor,
			Gatherer:      registry,
			HTTPMetrics:   metrics.NewHTTPMetrics(registry),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received")
		distributor.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}

	logg.Info(ctx, "api server stopped")
}
