// Package app holds the long-lived services shared by both pipeline passes:
// configuration, the run-scoped logger, the metrics recorder and the exporter.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/config"
	"github.com/JakeFAU/job-listing-crawler/internal/export"
	"github.com/JakeFAU/job-listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/job-listing-crawler/internal/logging"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
)

// pushTimeout bounds the final Pushgateway call.
const pushTimeout = 10 * time.Second

// App is created once per process and passed to the pass being run.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	RunID    string
	Pass     string
	Metrics  *metrics.Recorder
	Exporter *export.Exporter

	closeExport func()
}

// New loads .env and configuration from the environment and builds an App for
// the named pass.
func New(ctx context.Context, pass string) (*App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg, pass)
}

// NewWithConfig builds an App from an already loaded configuration.
func NewWithConfig(ctx context.Context, cfg config.Config, pass string) (*App, error) {
	runID := uuid.NewGenerator().MustRunID()
	logger, err := logging.New(cfg.Debug, logging.ForRun(runID, pass)...)
	if err != nil {
		return nil, err
	}

	exporter, closeExport, err := export.Open(ctx, cfg.Export, logger.Named("export"))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	logger.Info("pass starting", zap.Int("sites", len(cfg.Sites)), zap.Bool("debug", cfg.Debug))
	return &App{
		Config:      cfg,
		Logger:      logger,
		RunID:       runID,
		Pass:        pass,
		Metrics:     metrics.New(),
		Exporter:    exporter,
		closeExport: closeExport,
	}, nil
}

// Finish exports the pass output and pushes metrics. Failures here are logged
// and do not change the outcome of the pass.
func (a *App) Finish(ctx context.Context, outputPath string, count int) {
	if _, err := a.Exporter.Export(ctx, a.RunID, a.Pass, outputPath, count); err != nil {
		a.Logger.Error("export failed", zap.String("path", outputPath), zap.Error(err))
	}
	a.PushMetrics()
}

// PushMetrics sends the recorder to the configured Pushgateway, if any.
func (a *App) PushMetrics() {
	url := a.Config.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := a.Metrics.Push(ctx, url, a.Config.Metrics.Job, a.RunID); err != nil {
		a.Logger.Warn("metrics push failed", zap.String("url", url), zap.Error(err))
	}
}

// Close releases export clients and flushes the logger.
func (a *App) Close() {
	if a.closeExport != nil {
		a.closeExport()
	}
	_ = a.Logger.Sync()
}
