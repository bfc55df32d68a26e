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
	"github.com/JakeFAU/job-listing-crawler/internal/clock"
	"github.com/JakeFAU/job-listing-crawler/internal/interact"
	"github.com/JakeFAU/job-listing-crawler/internal/orchestrator"
	"github.com/JakeFAU/job-listing-crawler/internal/reqfilter"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, orchestrator.PassName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer a.Close()
	cfg := a.Config
	logger := a.Logger

	chrome, err := browser.LaunchChrome(browser.ChromeConfig{
		ExecPath:          cfg.Browser.ChromePath,
		UserAgent:         cfg.Browser.UserAgent,
		Headless:          cfg.Browser.Headless,
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ActionTimeout:     cfg.Browser.ActionTimeout,
	}, reqfilter.Default(), logger.Named("chrome"))
	if err != nil {
		logger.Error("browser launch failed", zap.Error(err))
		a.PushMetrics()
		return 1
	}
	defer chrome.Close()

	tabs := orchestrator.BrowserFunc(func(ctx context.Context) (orchestrator.Tab, error) {
		tab, err := chrome.OpenTab(ctx)
		if err != nil {
			return nil, err
		}
		return tab, nil
	})

	orch := orchestrator.New(orchestrator.Config{
		OutputPath:     cfg.Orchestrator.OutputPath,
		WriteSiteFiles: cfg.Orchestrator.WriteSiteFiles,
		SiteDelay:      cfg.Orchestrator.SiteDelay,
		ListingTimeout: cfg.Orchestrator.ListingTimeout,
		Retry:          orchestrator.NewRetryPolicy(cfg.Orchestrator.MaxRetries, cfg.Orchestrator.RetryDelay),
		Interact: interact.Options{
			SettleInterval:     cfg.Orchestrator.SettleInterval,
			ButtonTimeout:      cfg.Orchestrator.ButtonTimeout,
			NetworkIdleTimeout: cfg.Orchestrator.NetworkIdleTimeout,
			Logger:             logger.Named("interact"),
		},
	}, cfg.Registry(), tabs, clock.System{}, a.Metrics, logger.Named("orchestrator"))

	result, err := orch.Run(ctx)
	if err != nil {
		logger.Error("listing pass failed", zap.Error(err))
		a.PushMetrics()
		return 1
	}

	a.Finish(ctx, cfg.Orchestrator.OutputPath, len(result.Listings))
	return 0
}
