// Package main is the entry point for the pharmacy ledger API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmaledger/db"
	"pharmaledger/internal/core/period"
	"pharmaledger/internal/core/tx"
	"pharmaledger/internal/domain/ledger"
	v1 "pharmaledger/internal/infrastructure/http/v1"
	"pharmaledger/internal/infrastructure/http/v1/handlers"
	"pharmaledger/internal/infrastructure/storage/memory"
	"pharmaledger/internal/infrastructure/storage/postgres"
	"pharmaledger/internal/infrastructure/storage/postgres/ledger_repo"
	"pharmaledger/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
		Service:     "pharmaledger-server",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)

	cfg := ledger.DefaultConfig()
	if cfg.MonthMode, err = period.ParseMode(getEnv("LEDGER_MONTH_MODE", "calendar")); err != nil {
		log.Fatalw("invalid LEDGER_MONTH_MODE", "error", err)
	}
	cfg.AllocationRetries = getEnvInt("LEDGER_ALLOCATION_RETRIES", cfg.AllocationRetries)

	var (
		repos     ledger.Repositories
		txManager tx.Manager
		pinger    handlers.Pinger
		storage   = "memory"
	)

	// --- Storage ---
	if dsn := getEnv("DATABASE_URL", ""); dsn != "" {
		poolCfg := postgres.DefaultPoolConfig(dsn)
		poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(poolCfg.MaxConns)))

		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			log.Fatalw("failed to connect to database", "error", err)
		}
		defer pool.Close()

		pgTx := postgres.NewTxManager(pool)
		if getEnv("LEDGER_MIGRATE", "true") == "true" {
			if err := postgres.Migrate(ctx, pool.Pool, db.Migrations); err != nil {
				log.Fatalw("failed to apply migrations", "error", err)
			}
		}

		if repos, err = ledger_repo.NewRepositories(pgTx); err != nil {
			log.Fatalw("failed to build repositories", "error", err)
		}
		txManager, pinger, storage = pgTx, pool, "postgres"
	} else {
		log.Warn("DATABASE_URL not set, ledger state is kept in memory and lost on restart")
		store := memory.NewStore()
		repos, txManager = store.Repositories(), store
	}

	service := ledger.NewService(repos, txManager, cfg)

	log.Infow("ledger initialized",
		"storage", storage,
		"month_mode", cfg.MonthMode,
		"allocation_retries", cfg.AllocationRetries,
		"current_month", service.CurrentMonth().Key(),
	)

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Logger: log,
		Ledger: service,
		DB:     pinger,
		Debug:  getEnv("APP_ENV", "development") == "development",
	})

	// --- HTTP Server ---
	port := getEnv("APP_PORT", "8080")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
