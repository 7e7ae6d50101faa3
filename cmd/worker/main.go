package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-vat/internal/app"
	"github.com/odyssey-erp/odyssey-vat/internal/documents"
	jobmetrics "github.com/odyssey-erp/odyssey-vat/internal/jobs"
	"github.com/odyssey-erp/odyssey-vat/internal/platform/db"
	"github.com/odyssey-erp/odyssey-vat/internal/vat"
	"github.com/odyssey-erp/odyssey-vat/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: int32(cfg.WorkerConcurrency) + 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cfg.AsynqRedis()
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	repo := documents.NewRepository(pool)
	service := vat.NewService(documents.NewSource(repo), nil, cfg.ServiceConfig())

	declarationJob := vat.NewJob(vat.JobConfig{
		Service: service,
		Sink:    vat.FileSink{Dir: cfg.VATExportDir},
		Logger:  logger,
		Metrics: metrics,
	})
	scheduleJob := jobs.NewScheduleJob(repo, client, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.WorkerSchedule != "" {
		scheduleTask, err := jobs.NewScheduleTask("all", "previous", cfg.VATSchemaVersion)
		if err != nil {
			logger.Error("build schedule task", slog.Any("error", err))
			os.Exit(1)
		}
		spec := cfg.WorkerSchedule
		if spec == "monthly" {
			spec = jobs.MonthlyScheduleSpec
		}
		cron = append(cron, jobs.CronRegistration{Spec: spec, Task: scheduleTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskVATDeclarationGenerate, Handler: declarationJob.Handle},
			{Type: jobs.TaskVATDeclarationSchedule, Handler: scheduleJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency), slog.Int("cron", len(cron)))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
