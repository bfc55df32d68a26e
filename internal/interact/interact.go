// Package interact implements the page-interaction strategies that bring
// lazily loaded listings into the DOM before extraction.
package interact

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/sites"
)

// MaxScrollIterations bounds the full-scroll loop.
const MaxScrollIterations = 10

// Page is the live page handle a strategy drives.
type Page interface {
	DocumentHeight(ctx context.Context) (float64, error)
	ScrollTo(ctx context.Context, y float64) error
	ScrollToBottom(ctx context.Context) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
}

// Options carries the per-site and per-run knobs a strategy needs.
type Options struct {
	ListingSelector    string
	ButtonSelector     string
	MaxAttempts        int
	MaxScrolls         int
	SettleInterval     time.Duration
	ButtonTimeout      time.Duration
	NetworkIdleTimeout time.Duration
	Logger             *zap.Logger
	// Pause waits between steps; nil uses a context-aware timer.
	Pause func(ctx context.Context, d time.Duration)
}

// OptionsFor fills the site-specific fields of base from site.
func OptionsFor(site sites.Config, base Options) Options {
	base.ListingSelector = site.ListingSelector
	base.ButtonSelector = site.ButtonSelector
	base.MaxAttempts = site.Attempts()
	return base
}

// Strategy drives one page until its listings have converged.
type Strategy func(ctx context.Context, page Page, opts Options) error

var strategies = map[sites.LoadStrategy]Strategy{
	sites.LoadNone:          None,
	sites.LoadFullScroll:    FullScroll,
	sites.LoadPartialScroll: PartialScroll,
	sites.LoadMore:          LoadMore,
}

// For returns the strategy registered for kind.
func For(kind sites.LoadStrategy) (Strategy, error) {
	if kind == "" {
		kind = sites.LoadNone
	}
	strategy, ok := strategies[kind]
	if !ok {
		return nil, fmt.Errorf("unknown load strategy %q", kind)
	}
	return strategy, nil
}

// Run resolves and executes the strategy configured for kind.
func Run(ctx context.Context, kind sites.LoadStrategy, page Page, opts Options) error {
	strategy, err := For(kind)
	if err != nil {
		return err
	}
	return strategy(ctx, page, opts)
}

// None leaves the page untouched.
func None(context.Context, Page, Options) error {
	return nil
}

// FullScroll scrolls to the bottom until the document height stops changing or
// the iteration bound is reached.
func FullScroll(ctx context.Context, page Page, opts Options) error {
	maxScrolls := opts.MaxScrolls
	if maxScrolls <= 0 || maxScrolls > MaxScrollIterations {
		maxScrolls = MaxScrollIterations
	}
	previous := -1.0
	for i := 0; i < maxScrolls; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("full scroll canceled: %w", err)
		}
		if err := page.ScrollToBottom(ctx); err != nil {
			return fmt.Errorf("scroll to bottom: %w", err)
		}
		opts.pause(ctx, opts.SettleInterval)
		height, err := page.DocumentHeight(ctx)
		if err != nil {
			return fmt.Errorf("measure document height: %w", err)
		}
		if height == previous {
			opts.logger().Debug("full scroll converged", zap.Int("iterations", i+1), zap.Float64("height", height))
			return nil
		}
		previous = height
	}
	opts.logger().Debug("full scroll reached iteration bound", zap.Int("iterations", maxScrolls))
	return nil
}

// PartialScroll scrolls once to a quarter of the document height.
func PartialScroll(ctx context.Context, page Page, opts Options) error {
	height, err := page.DocumentHeight(ctx)
	if err != nil {
		return fmt.Errorf("measure document height: %w", err)
	}
	if err := page.ScrollTo(ctx, height/4); err != nil {
		return fmt.Errorf("partial scroll: %w", err)
	}
	opts.pause(ctx, opts.SettleInterval)
	return nil
}

// LoadMore clicks the load-more control until the listing count stops
// growing or MaxAttempts is reached. A missing or unclickable control uses up
// an attempt and is never an error.
func LoadMore(ctx context.Context, page Page, opts Options) error {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = sites.DefaultMaxAttempts
	}
	log := opts.logger()

	previous, err := page.Count(ctx, opts.ListingSelector)
	if err != nil {
		return fmt.Errorf("count listings: %w", err)
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("load more canceled: %w", err)
		}
		if err := page.WaitVisible(ctx, opts.ButtonSelector, opts.ButtonTimeout); err != nil {
			log.Debug("load-more control not found",
				zap.Int("attempt", attempt), zap.String("selector", opts.ButtonSelector), zap.Error(err))
			continue
		}
		if err := page.Click(ctx, opts.ButtonSelector); err != nil {
			log.Debug("load-more click failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if err := page.WaitNetworkIdle(ctx, opts.NetworkIdleTimeout); err != nil {
			log.Debug("network did not settle after load-more", zap.Int("attempt", attempt), zap.Error(err))
		}
		if err := FullScroll(ctx, page, opts); err != nil {
			log.Debug("scroll after load-more failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		current, err := page.Count(ctx, opts.ListingSelector)
		if err != nil {
			return fmt.Errorf("count listings: %w", err)
		}
		if current == previous {
			log.Debug("load-more converged", zap.Int("attempt", attempt), zap.Int("listings", current))
			return nil
		}
		log.Debug("load-more added listings",
			zap.Int("attempt", attempt), zap.Int("before", previous), zap.Int("after", current))
		previous = current
	}
	return nil
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) pause(ctx context.Context, d time.Duration) {
	if o.Pause != nil {
		o.Pause(ctx, d)
		return
	}
	Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
