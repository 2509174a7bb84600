package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/vazana/studio/internal/app"
	"github.com/vazana/studio/internal/auth"
	"github.com/vazana/studio/internal/invoicing"
	"github.com/vazana/studio/internal/observability"
	"github.com/vazana/studio/internal/platform/cache"
	"github.com/vazana/studio/internal/platform/db"
	"github.com/vazana/studio/internal/preferences"
	"github.com/vazana/studio/internal/shared"
	"github.com/vazana/studio/jobs"
	"github.com/vazana/studio/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "vazana_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	prefsStore := preferences.NewStore(redisClient)

	authService := auth.NewService(auth.NewRepository(dbpool))
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	numbers, err := invoicing.NewSnowflakeNumbers(cfg.InvoiceNodeID)
	if err != nil {
		return err
	}
	formatter, err := invoicing.NewFormatter(cfg.Locale, cfg.Currency)
	if err != nil {
		return err
	}
	reportClient := report.NewClient(cfg.GotenbergURL)
	renderer, err := invoicing.NewRenderer(reportClient, logger)
	if err != nil {
		return err
	}
	taxRate := cfg.TaxRate()
	invoiceService := invoicing.NewService(invoicing.NewRepository(dbpool), invoicing.ServiceConfig{
		TaxRate:  &taxRate,
		Numbers:  numbers,
		Logger:   logger,
		Recorder: metrics,
	})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	invoiceService.SetRetryScheduler(jobClient)

	invoiceHandler := invoicing.NewHandler(logger, invoiceService, formatter, renderer, idempotencyStore,
		func(ctx context.Context, userID int64) invoicing.RenderOptions {
			prefs, err := prefsStore.Load(ctx, userID)
			if err != nil {
				logger.Warn("load preferences for document", slog.Int64("user_id", userID), slog.Any("error", err))
				prefs = preferences.Defaults()
			}
			return invoicing.RenderOptions{Language: prefs.Language, Direction: prefs.Direction(), Accent: prefs.AccentColor}
		})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		AuthHandler:        authHandler,
		InvoiceHandler:     invoiceHandler,
		PreferencesHandler: preferences.NewHandler(logger, prefsStore),
		ReportHandler:      report.NewHandler(reportClient, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
