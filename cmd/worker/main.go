package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/openshelf/openshelf/internal/app"
	"github.com/openshelf/openshelf/internal/identity"
	"github.com/openshelf/openshelf/internal/platform/cache"
	"github.com/openshelf/openshelf/internal/platform/db"
	"github.com/openshelf/openshelf/internal/spaces"
	"github.com/openshelf/openshelf/jobs"
)

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

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	mailer := &jobs.Mailer{
		Addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		From: cfg.SMTPFrom,
	}

	spacesRepo := spaces.NewRepository(pool)
	spacesService := spaces.NewService(spacesRepo, nil, logger)
	identityRepo := identity.NewRepository(pool)

	confirmJob := jobs.NewBookingConfirmJob(spacesRepo, identityRepo, mailer, logger, nil)
	expireJob := jobs.NewBookingExpireJob(spacesService, logger, nil)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: jobs.NewSendEmailHandler(mailer)},
			{Type: jobs.TaskTypeBookingConfirm, Handler: confirmJob.Handle},
			{Type: jobs.TaskTypeBookingExpire, Handler: expireJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: jobs.NewBookingExpireTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
