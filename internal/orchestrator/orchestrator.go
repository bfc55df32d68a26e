// Package orchestrator runs the listing pass: it visits every configured site
// in order on a single browser, brings lazily loaded listings into view,
// extracts and normalizes them, and writes the combined result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/clock"
	"github.com/JakeFAU/job-listing-crawler/internal/extract"
	"github.com/JakeFAU/job-listing-crawler/internal/interact"
	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
	"github.com/JakeFAU/job-listing-crawler/internal/sites"
	"github.com/JakeFAU/job-listing-crawler/internal/textutil"
)

// PassName labels the listing pass in metrics and exports.
const PassName = "listings"

// ErrPanic wraps a panic recovered while visiting a site.
var ErrPanic = errors.New("site visit panicked")

// Tab is one open browser tab.
type Tab interface {
	interact.Page
	Navigate(ctx context.Context, rawURL string) error
	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// Browser opens tabs on a shared browser process.
type Browser interface {
	OpenTab(ctx context.Context) (Tab, error)
}

// BrowserFunc adapts a function to Browser.
type BrowserFunc func(ctx context.Context) (Tab, error)

// OpenTab calls f.
func (f BrowserFunc) OpenTab(ctx context.Context) (Tab, error) {
	return f(ctx)
}

// Config controls a listing run.
type Config struct {
	OutputPath     string
	WriteSiteFiles bool
	SiteDelay      time.Duration
	ListingTimeout time.Duration
	Retry          RetryPolicy
	Interact       interact.Options
	// Pause waits between sites and between retry attempts. Defaults to
	// interact.Sleep.
	Pause func(ctx context.Context, d time.Duration)
}

// Stats aggregates one run. It is created by Run and returned with the result.
type Stats struct {
	Attempts      int            `json:"attempts"`
	Successes     int            `json:"successes"`
	Failures      int            `json:"failures"`
	TotalListings int            `json:"totalListings"`
	ValidURLs     int            `json:"validUrls"`
	PerSource     map[string]int `json:"perSource"`
}

// Result is the outcome of Run.
type Result struct {
	Listings []listing.Listing
	Stats    Stats
}

// Orchestrator drives the listing pass.
type Orchestrator struct {
	cfg      Config
	registry sites.Registry
	browser  Browser
	clock    clock.Clock
	metrics  *metrics.Recorder
	logger   *zap.Logger
}

// New constructs an Orchestrator. recorder may be nil.
func New(
	cfg Config,
	registry sites.Registry,
	browser Browser,
	clk clock.Clock,
	recorder *metrics.Recorder,
	logger *zap.Logger,
) *Orchestrator {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pause == nil {
		cfg.Pause = interact.Sleep
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		browser:  browser,
		clock:    clk,
		metrics:  recorder,
		logger:   logger,
	}
}

// Run visits every site and writes the combined listings to the output path.
// Individual site failures never abort the run; only cancellation and a
// failed final write are returned as errors.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	stats := Stats{PerSource: make(map[string]int, len(o.registry))}
	var combined []listing.Listing

	for i, site := range o.registry {
		if err := ctx.Err(); err != nil {
			return Result{Listings: combined, Stats: stats}, fmt.Errorf("listing run canceled: %w", err)
		}
		if i > 0 && o.cfg.SiteDelay > 0 {
			o.cfg.Pause(ctx, o.cfg.SiteDelay)
		}
		records := o.runSite(ctx, site, &stats)
		combined = append(combined, records...)
		if o.cfg.WriteSiteFiles && site.OutputFile != "" {
			if err := listing.WriteFile(site.OutputFile, records); err != nil {
				o.logger.Warn("failed to write site output", zap.String("site", site.Name), zap.Error(err))
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{Listings: combined, Stats: stats}, fmt.Errorf("listing run canceled: %w", err)
	}

	stats.TotalListings = len(combined)
	for _, l := range combined {
		if l.IsValidURL {
			stats.ValidURLs++
		}
	}
	result := Result{Listings: combined, Stats: stats}

	if err := listing.WriteFile(o.cfg.OutputPath, combined); err != nil {
		o.metrics.ObservePass(PassName, time.Since(started), o.clock.Now(), false)
		return result, fmt.Errorf("write combined listings: %w", err)
	}
	o.metrics.ObservePass(PassName, time.Since(started), o.clock.Now(), true)
	o.logStats(stats)
	return result, nil
}

// runSite visits site with bounded retries. Exhausted retries yield nil.
func (o *Orchestrator) runSite(ctx context.Context, site sites.Config, stats *Stats) []listing.Listing {
	log := o.logger.With(zap.String("site", site.Name), zap.String("url", site.URL))
	if _, ok := stats.PerSource[site.Name]; !ok {
		stats.PerSource[site.Name] = 0
	}
	for attempt := 1; ; attempt++ {
		stats.Attempts++
		o.metrics.ObserveSiteAttempt(site.Name)

		records, err := o.visit(ctx, site, log.With(zap.Int("attempt", attempt)))
		if err == nil {
			stats.Successes++
			stats.PerSource[site.Name] += len(records)
			o.metrics.ObserveSite(site.Name, metrics.ResultSuccess, len(records))
			log.Info("site scraped", zap.Int("attempt", attempt), zap.Int("listings", len(records)))
			return records
		}
		if ctx.Err() != nil || !o.cfg.Retry.ShouldRetry(err, attempt) {
			stats.Failures++
			o.metrics.ObserveSite(site.Name, metrics.ResultFailure, 0)
			log.Error("site failed, continuing with next site", zap.Int("attempts", attempt), zap.Error(err))
			return nil
		}
		delay := o.cfg.Retry.Backoff(attempt)
		log.Warn("site attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		o.cfg.Pause(ctx, delay)
	}
}

// visit performs one attempt against site. The tab is closed on every path,
// including a recovered panic.
func (o *Orchestrator) visit(ctx context.Context, site sites.Config, log *zap.Logger) (out []listing.Listing, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	tab, err := o.browser.OpenTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	defer func() {
		if cerr := tab.Close(); cerr != nil {
			log.Debug("tab close failed", zap.Error(cerr))
		}
	}()

	if err := tab.Navigate(ctx, site.URL); err != nil {
		return nil, err
	}
	if err := tab.WaitVisible(ctx, site.ListingSelector, o.cfg.ListingTimeout); err != nil {
		log.Warn("listing container not visible, extracting what is present",
			zap.String("selector", site.ListingSelector), zap.Error(err))
	}

	opts := interact.OptionsFor(site, o.cfg.Interact)
	opts.Logger = log
	if err := interact.Run(ctx, site.Strategy(), tab, opts); err != nil {
		return nil, fmt.Errorf("%s interaction: %w", site.Strategy(), err)
	}

	html, err := tab.HTML(ctx)
	if err != nil {
		return nil, err
	}
	pageURL, err := tab.URL(ctx)
	if err != nil || pageURL == "" {
		pageURL = site.URL
	}
	raw, err := extract.Page(strings.NewReader(html), pageURL, site)
	if err != nil {
		return nil, fmt.Errorf("extract listings: %w", err)
	}
	return o.finalize(site, raw), nil
}

// finalize normalizes raw records into listings: sanitized text, site
// constants, "N/A" for missing values, and provenance tags.
func (o *Orchestrator) finalize(site sites.Config, raw []extract.Record) []listing.Listing {
	scrapedAt := o.clock.Now()
	out := make([]listing.Listing, 0, len(raw))
	for _, rec := range raw {
		value := func(field sites.Field) string {
			if constant := site.Constant(field); constant != "" {
				return textutil.OrNotAvailable(constant)
			}
			return textutil.OrNotAvailable(rec[field])
		}
		link := textutil.Sanitize(rec[sites.FieldLink])
		out = append(out, listing.Listing{
			Link:                link,
			Position:            value(sites.FieldPosition),
			CompanyName:         value(sites.FieldCompanyName),
			CompanyLogo:         value(sites.FieldCompanyLogo),
			Location:            value(sites.FieldLocation),
			JobType:             value(sites.FieldJobType),
			DatePosted:          value(sites.FieldDatePosted),
			ApplicationDeadline: value(sites.FieldDeadline),
			Source:              site.Name,
			ScrapedAt:           scrapedAt,
			IsValidURL:          textutil.IsValidURL(link),
		})
	}
	return out
}

func (o *Orchestrator) logStats(stats Stats) {
	fields := []zap.Field{
		zap.Int("attempts", stats.Attempts),
		zap.Int("successes", stats.Successes),
		zap.Int("failures", stats.Failures),
		zap.Int("total_listings", stats.TotalListings),
		zap.Int("valid_urls", stats.ValidURLs),
		zap.String("output", o.cfg.OutputPath),
	}
	for _, site := range o.registry {
		fields = append(fields, zap.Int("listings."+site.Name, stats.PerSource[site.Name]))
	}
	o.logger.Info("listing run complete", fields...)
}
