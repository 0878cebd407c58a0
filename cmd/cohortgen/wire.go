package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Nabil-E-projet/MediNLP/internal/api"
	"github.com/Nabil-E-projet/MediNLP/internal/cohort"
	"github.com/Nabil-E-projet/MediNLP/internal/config"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/export"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/logging"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/metrics"
	"github.com/Nabil-E-projet/MediNLP/internal/platform/telegram"
	"github.com/Nabil-E-projet/MediNLP/internal/report"
	"github.com/Nabil-E-projet/MediNLP/internal/storage"
)

type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Recorder
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &app{
		cfg:     cfg,
		logger:  logging.New(cfg.Env, cfg.LogLevel),
		metrics: metrics.NewRecorder(),
	}, nil
}

func (a *app) storageOptions() storage.Options {
	return storage.Options{
		Driver:      a.cfg.StoreDriver,
		DatabaseURL: a.cfg.DatabaseURL,
		SQLitePath:  a.cfg.SQLitePath,
		Migrate:     a.cfg.MigrationsEnabled,
	}
}

func (a *app) sink(ctx context.Context) (export.Sink, error) {
	if a.cfg.ExportDriver == export.DriverS3 {
		return export.NewS3Sink(ctx, export.S3Config{
			Bucket:    a.cfg.S3Bucket,
			Region:    a.cfg.S3Region,
			Endpoint:  a.cfg.S3Endpoint,
			PathStyle: a.cfg.S3PathStyle,
		})
	}
	return export.NewFSSink(a.cfg.ExportDir)
}

func (a *app) reportService() *report.Service {
	var sender report.Sender
	if a.cfg.TelegramEnabled() {
		sender = telegram.NewClient(a.cfg.TelegramBotToken)
	} else {
		a.logger.Debug().Msg("telegram delivery disabled")
	}
	return report.NewService(a.cfg.FontPath, sender, a.cfg.ReportChatID, a.logger)
}

// service wires the run workflow. The store and sink are only opened when
// the caller needs them; the returned function releases the store.
func (a *app) service(ctx context.Context, workers int, withStore, withSink bool) (api.Service, func() error, error) {
	gen, err := cohort.New(cohort.DefaultTables(),
		cohort.WithWorkers(workers),
		cohort.WithLogger(a.logger),
		cohort.WithMaxRecordCount(a.cfg.MaxRecordCount),
	)
	if err != nil {
		return nil, nil, err
	}

	deps := api.Deps{
		Generator:    gen,
		Metrics:      a.metrics,
		Reports:      a.reportService(),
		Logger:       a.logger,
		DefaultCount: a.cfg.RecordCount,
		MaxCount:     a.cfg.MaxRecordCount,
		NotifyRuns:   a.cfg.TelegramEnabled(),
	}
	closeFn := func() error { return nil }
	if withStore {
		repo, closeRepo, err := storage.Open(ctx, a.storageOptions(), a.logger)
		if err != nil {
			return nil, nil, err
		}
		deps.Repo, closeFn = repo, closeRepo
	}
	if withSink {
		sink, err := a.sink(ctx)
		if err != nil {
			_ = closeFn()
			return nil, nil, err
		}
		deps.Sink = sink
	}
	return api.NewService(deps), closeFn, nil
}
