package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/drops-backend/internal/config"
	"github.com/blackmichael/drops-backend/internal/domain"
	"github.com/blackmichael/drops-backend/internal/httpserver"
	"github.com/blackmichael/drops-backend/internal/metrics"
	"github.com/blackmichael/drops-backend/internal/notify"
	"github.com/blackmichael/drops-backend/internal/push"
	"github.com/blackmichael/drops-backend/internal/realtime"
	"github.com/blackmichael/drops-backend/internal/sqlstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	if err := sqlstore.Migrate(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("connected to database", "driver", cfg.DatabaseDriver)

	m := metrics.New()
	hub := realtime.NewHub(logger, m)

	// Without an endpoint pushes are only logged.
	var gateway notify.Gateway = push.NewLogGateway(logger)
	if cfg.PushEndpoint != "" {
		gateway = push.NewClient(cfg.PushEndpoint, cfg.PushAccessToken)
	}
	templates, err := notify.DefaultTemplates()
	if err != nil {
		return fmt.Errorf("load notification templates: %w", err)
	}
	dispatcher := notify.NewDispatcher(store, gateway, templates, notify.Config{
		Workers:     cfg.NotifyWorkers,
		QueueSize:   cfg.NotifyQueueSize,
		PushTimeout: cfg.PushTimeout,
	}, logger, m)
	dispatcher.Start()
	defer dispatcher.Close()

	dropService, err := domain.NewDropService(domain.DropDeps{
		Drops:     store,
		Shares:    store,
		Users:     store,
		Friends:   store,
		Publisher: hub,
		Notifier:  dispatcher,
		Logger:    logger,
	}, domain.WithNearbyRadius(cfg.NearbyDefaultRadiusKm))
	if err != nil {
		return fmt.Errorf("create drop service: %w", err)
	}
	accountService := domain.NewAccountService(store, store, store, hub, dispatcher, logger)
	chatService := domain.NewChatService(store, store, hub, dispatcher, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start background device cleanup
	go accountService.StartCleanupJob(ctx, time.Hour, cfg.DeviceRetention)

	server := httpserver.NewServer(cfg, httpserver.Services{
		Drops:    dropService,
		Accounts: accountService,
		Chat:     chatService,
		Realtime: realtime.NewHandler(hub, chatService.CanJoin, logger, m),
		DB:       store,
	}, logger, m)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited with error", "error", err)
			sigCh <- syscall.SIGTERM
		}
	}()

	logger.Info("server started", "port", cfg.Port)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}
