package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/foreman-pm/foreman/internal/app"
	"github.com/foreman-pm/foreman/internal/backend"
	jobmetrics "github.com/foreman-pm/foreman/internal/jobs"
	"github.com/foreman-pm/foreman/internal/platform/db"
	"github.com/foreman-pm/foreman/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	mailClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := mailClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	digestJob := jobs.NewUnreadDigestJob(
		jobs.BackendDigestSource{Client: backend.New(pool)},
		mailClient,
		logger,
		jobmetrics.NewMetrics(nil),
	)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		Redis:           redisOpts,
		Logger:          logger,
		Digest:          digestJob,
		DigestCron:      cfg.DigestCron,
		DigestMinUnread: 1,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
