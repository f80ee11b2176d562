// Package main is the entry point for the ledger background worker.
// It relays outbox events and opens each new month's snapshots ahead of the first sale.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pharmaledger/internal/core/period"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
	"pharmaledger/internal/infrastructure/storage/postgres/ledger_repo"
	"pharmaledger/pkg/logger"
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
		Service:     "pharmaledger-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting ledger worker")

	poolCfg := postgres.DefaultPoolConfig(mustEnv("DATABASE_URL"))
	poolCfg.ApplicationName = "pharmaledger-worker"
	poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 5))
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)
	repos, err := ledger_repo.NewRepositories(txManager)
	if err != nil {
		log.Fatalw("failed to build repositories", "error", err)
	}

	cfg := ledger.DefaultConfig()
	if cfg.MonthMode, err = period.ParseMode(getEnv("LEDGER_MONTH_MODE", "calendar")); err != nil {
		log.Fatalw("invalid LEDGER_MONTH_MODE", "error", err)
	}

	worker := &Worker{
		pool:    pool,
		service: ledger.NewService(repos, txManager, cfg),
		relay: postgres.NewOutboxRelay(txManager, getEnvInt("OUTBOX_BATCH_SIZE", 100),
			postgres.OutboxHandlerFunc(logEvent)),
		outboxInterval:  getEnvDuration("OUTBOX_INTERVAL", 500*time.Millisecond),
		rollInterval:    getEnvDuration("WORKER_INTERVAL", time.Hour),
		metricsInterval: getEnvDuration("POOL_STATS_INTERVAL", 5*time.Minute),
		log:             log.WithComponent("worker"),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker runs the periodic ledger jobs.
type Worker struct {
	pool    *postgres.Pool
	service *ledger.Service
	relay   *postgres.OutboxRelay

	outboxInterval  time.Duration
	rollInterval    time.Duration
	metricsInterval time.Duration

	log *logger.Logger
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	outboxTicker := time.NewTicker(w.outboxInterval)
	defer outboxTicker.Stop()
	rollTicker := time.NewTicker(w.rollInterval)
	defer rollTicker.Stop()
	metricsTicker := time.NewTicker(w.metricsInterval)
	defer metricsTicker.Stop()

	w.rollForward(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-outboxTicker.C:
			w.processOutbox(ctx)
		case <-rollTicker.C:
			w.rollForward(ctx)
		case <-metricsTicker.C:
			postgres.LogPoolStats(ctx, w.pool)
		}
	}
}

func (w *Worker) processOutbox(ctx context.Context) {
	// Drain while full batches keep coming back.
	for {
		n, err := w.relay.ProcessBatch(ctx)
		if err != nil {
			w.log.Errorw("outbox batch failed", "error", err)
			return
		}
		if n > 0 {
			w.log.Debugw("processed outbox batch", "count", n)
		}
		if n < w.relay.BatchSize() || ctx.Err() != nil {
			return
		}
	}
}

func (w *Worker) rollForward(ctx context.Context) {
	month := w.service.CurrentMonth()
	created, err := w.service.RollForward(ctx, month)
	if err != nil {
		w.log.Errorw("roll-forward failed", "month", month.Key(), "error", err)
		return
	}
	if created > 0 {
		w.log.Infow("opened month snapshots", "month", month.Key(), "created", created)
	}
}

// logEvent is the delivery target until a downstream consumer exists.
func logEvent(ctx context.Context, msg *postgres.OutboxMessage) error {
	logger.Info(ctx, "ledger event",
		"event_id", msg.ID,
		"event_type", msg.EventType,
		"aggregate_type", msg.AggregateType,
		"aggregate_id", msg.AggregateID,
		"payload", string(msg.Payload),
	)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func mustEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		fmt.Printf("required environment variable %s not set\n", key)
		os.Exit(1)
	}
	return value
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
