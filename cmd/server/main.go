package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"merchantbridge"
	"merchantbridge/internal/auth"
	"merchantbridge/internal/config"
	"merchantbridge/internal/db"
	"merchantbridge/internal/events"
	"merchantbridge/internal/merchant"
	"merchantbridge/internal/observability"
	"merchantbridge/internal/orders"
	"merchantbridge/internal/proxy"
	"merchantbridge/internal/server"
	"merchantbridge/internal/server/routes"
	"merchantbridge/internal/upstream"
)

func run() error {
	baseHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	log := slog.New(observability.WrapSlogHandler(baseHandler))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("Failed to close database", "error", err)
		}
	}()

	credStore := auth.NewCredentialStore(database, auth.Credentials{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		MerchantID:   cfg.Auth.MerchantID,
		MerchantUUID: cfg.Auth.MerchantUUID,
	})

	tokenManager := auth.NewManager(auth.ManagerOptions{
		Store:        database,
		Credentials:  credStore,
		AuthBaseURL:  cfg.Upstream.APIBaseURL + cfg.Upstream.AuthPathPrefix,
		Grant:        cfg.Auth.Grant,
		ExpiryBuffer: cfg.Auth.ExpiryBuffer,
		Logger:       log,
	})

	client := upstream.NewClient(cfg.Upstream.APIBaseURL, tokenManager, log)
	orderService := orders.NewService(client, database, log)
	merchantService := merchant.NewService(client, credStore)

	poller := events.New(events.Options{
		Client: client,
		Store:  database,
		MerchantID: func(ctx context.Context) string {
			return credStore.Load(ctx).MerchantID
		},
		Handler:    orderService.HandleEvent,
		BatchSize:  cfg.Polling.AckBatchSize,
		SeenLogCap: cfg.Polling.SeenLogCap,
		Logger:     log,
	})
	if cfg.Polling.Enabled {
		poller.Start(cfg.Polling.Interval)
		defer poller.Stop()
	}

	srv := server.New(log, merchantbridge.PublicFS)
	srv.RegisterRouter(proxy.NewHandler(cfg.Upstream.APIBaseURL, cfg.Upstream.AuthPathPrefix, log))
	srv.RegisterRouter(routes.NewSettingsRoutes(credStore))
	srv.RegisterRouter(routes.NewAuthRoutes(tokenManager, log))
	srv.RegisterRouter(routes.NewEventRoutes(poller, cfg.Polling.Interval))
	srv.RegisterRouter(routes.NewMerchantRoutes(merchantService))
	srv.RegisterRouter(routes.NewOrderRoutes(orderService))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	slog.Info("Starting server", "port", cfg.Server.Port, "grant", cfg.Auth.Grant, "polling", cfg.Polling.Enabled)
	return srv.Start(addr)
}

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
