package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kixikila/backend/internal/auth"
	"github.com/kixikila/backend/internal/config"
	"github.com/kixikila/backend/internal/group"
	"github.com/kixikila/backend/internal/ledger"
	"github.com/kixikila/backend/internal/logging"
	"github.com/kixikila/backend/internal/notify"
	"github.com/kixikila/backend/internal/payments"
	"github.com/kixikila/backend/internal/retry"
	"github.com/kixikila/backend/internal/security"
	"github.com/kixikila/backend/internal/security/localstore"
	"github.com/kixikila/backend/internal/server"
	"github.com/kixikila/backend/internal/store"
	"github.com/kixikila/backend/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	st, err := connectStore(ctx, logger, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	kv, err := openLocalStore(cfg.Local)
	if err != nil {
		logger.Error("failed to open local store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Warn("closing local store failed", "error", err)
		}
	}()

	limiter := security.NewLimiter(kv, security.LimiterConfig{
		MaxAttempts: 10,
		Window:      time.Minute,
	})
	cache, err := security.NewCache(kv, limiter)
	if err != nil {
		logger.Error("failed to open secure cache", "error", err)
		os.Exit(1)
	}
	pinLimiter := security.NewLimiter(kv, security.LimiterConfig{
		MaxAttempts: 5,
		Window:      5 * time.Minute,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTTTL)

	ledgerService := ledger.New(st, logger)
	withdrawalService := ledger.NewWithdrawalService(st, ledgerService, logger)
	groupService := group.New(st, ledgerService, logger)

	hub := notify.NewHub()
	notifyService := notify.New(st, hub,
		&notify.LogDispatcher{Channel: "push", Logger: logger},
		&notify.LogDispatcher{Channel: "email", Logger: logger},
		&notify.LogDispatcher{Channel: "sms", Logger: logger},
		logger,
	)

	bridge := payments.New(st, ledgerService, notifyService, logger, cfg.Payments.WebhookSecret)
	monitor := security.NewMonitor(st)

	apiHandlers := server.NewAPIHandlers(
		tokens,
		st,
		ledgerService,
		withdrawalService,
		groupService,
		notifyService,
		bridge,
		monitor,
		cache,
		security.NewPINVerifier(pinLimiter),
		logger,
	)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.StoreHealthService{Store: st},
		API:              apiHandlers,
		AllowedOrigins:   parseAllowedOrigins(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// connectStore dials Postgres with exponential backoff; the database often
// comes up after the app in containerized deployments.
func connectStore(ctx context.Context, logger *slog.Logger, cfg config.DatabaseConfig) (store.Store, error) {
	var st store.Store
	policy := retry.Policy{
		MaxAttempts: cfg.ConnectAttempts,
		Backoff:     retry.ExponentialBackoff(time.Second, 15*time.Second),
	}
	err := policy.Do(ctx, func(ctx context.Context) error {
		s, err := postgres.New(ctx, cfg.URL)
		if err != nil {
			logger.Warn("database connection failed, retrying", "error", err)
			return err
		}
		st = s
		return nil
	})
	return st, err
}

func openLocalStore(cfg config.LocalConfig) (localstore.KV, error) {
	if cfg.StorePath == "" {
		return localstore.NewMemory(), nil
	}
	return localstore.NewSQLite(cfg.StorePath)
}

func parseAllowedOrigins(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	var origins []string
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		origins = append(origins, origin)
	}
	return origins
}
