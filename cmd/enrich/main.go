// Package main runs the detail pass: it reads the listings file, fetches each
// posting's description in concurrent batches and writes the file back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/app"
	"github.com/JakeFAU/job-listing-crawler/internal/browser"
	"github.com/JakeFAU/job-listing-crawler/internal/enricher"
	"github.com/JakeFAU/job-listing-crawler/internal/reqfilter"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, enricher.PassName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer a.Close()
	cfg := a.Config
	logger := a.Logger

	pw, err := browser.LaunchPlaywright(browser.PlaywrightConfig{
		ExecutablePath:    cfg.Enricher.ChromiumPath,
		UserAgent:         cfg.Enricher.UserAgent,
		Headless:          cfg.Enricher.Headless,
		NavigationTimeout: cfg.Enricher.NavigationTimeout,
	}, reqfilter.Default(), logger.Named("playwright"))
	if err != nil {
		logger.Error("browser launch failed", zap.Error(err))
		a.PushMetrics()
		return 1
	}
	defer func() {
		if err := pw.Close(); err != nil {
			logger.Warn("browser close failed", zap.Error(err))
		}
	}()

	sessions := enricher.OpenerFunc(func(ctx context.Context) (enricher.Session, error) {
		s, err := pw.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	e := enricher.New(enricher.Config{
		InputPath:          cfg.Enricher.InputPath,
		BatchSize:          cfg.Enricher.BatchSize,
		DescriptionTimeout: cfg.Enricher.DescriptionTimeout,
		DomainQPS:          cfg.Enricher.DomainQPS,
	}, cfg.Registry(), sessions, a.Metrics, logger.Named("enricher"))

	result, err := e.Run(ctx)
	if err != nil {
		logger.Error("enrichment pass failed", zap.Error(err))
		a.PushMetrics()
		return 1
	}

	a.Finish(ctx, cfg.Enricher.InputPath, len(result.Listings))
	return 0
}
