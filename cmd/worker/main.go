package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vazana/studio/internal/app"
	"github.com/vazana/studio/internal/invoicing"
	"github.com/vazana/studio/internal/observability"
	"github.com/vazana/studio/internal/platform/db"
	"github.com/vazana/studio/internal/shared"
	"github.com/vazana/studio/jobs"
)

const idempotencyRetention = 72 * time.Hour

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	taxRate := cfg.TaxRate()
	invoiceService := invoicing.NewService(invoicing.NewRepository(pool), invoicing.ServiceConfig{
		TaxRate:  &taxRate,
		Logger:   logger,
		Recorder: metrics,
	})
	invoiceJobs := &jobs.InvoiceJobs{
		Invoices: invoiceService,
		Keys:     shared.NewIdempotencyStore(pool),
		Logger:   logger,
		Metrics:  metrics.Jobs(),
	}

	sweepTask, err := jobs.NewOverdueSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build overdue sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(idempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers:  invoiceJobs.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: jobs.OverdueSweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: jobs.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
