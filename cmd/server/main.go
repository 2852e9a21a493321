package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zerr0-C00L/DebridArr/internal/api"
	"github.com/Zerr0-C00L/DebridArr/internal/config"
	"github.com/Zerr0-C00L/DebridArr/internal/database"
	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/debrid/auth"
	"github.com/Zerr0-C00L/DebridArr/internal/resolver"
	"github.com/Zerr0-C00L/DebridArr/internal/secrets"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database connection established")

	settingsStore := database.NewSettingsStore(db)
	historyStore := database.NewHistoryStore(db)

	secretStore, err := secrets.NewFileStore(cfg.SecretsPath, cfg.SecretsPassphrase)
	if err != nil {
		logger.Error("secret store init failed", "error", err)
		os.Exit(1)
	}

	onLogout := func(provider string) {
		logger.Warn("provider logged out", "provider", provider)
	}

	rdAuth := auth.NewDeviceCodeController(secretStore, onLogout, logger)
	adAuth := auth.NewPinController(secretStore, onLogout, logger)
	pmAuth := auth.NewImplicitController(secretStore, onLogout, logger)

	providers := map[string]api.Provider{
		"realdebrid": {Client: debrid.NewRealDebrid(rdAuth, logger), Auth: rdAuth},
		"alldebrid":  {Client: debrid.NewAllDebrid(adAuth, logger), Auth: adAuth},
		"premiumize": {Client: debrid.NewPremiumize(pmAuth, logger), Auth: pmAuth},
	}
	for name, p := range providers {
		logger.Info("provider registered", "provider", name, "authorized", p.Auth.IsAuthorized())
	}

	availability := resolver.NewAvailabilityResolver(cfg.AvailabilityConcurrency, logger)
	downloads := resolver.NewDownloadResolver(availability, historyStore, logger)

	handler := api.NewHandler(providers, availability, downloads, settingsStore, historyStore, logger)
	router := api.SetupRoutes(handler, cfg.APIJWTSecret)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("server stopped")
}
