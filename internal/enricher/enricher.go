// Package enricher runs the detail pass: it visits every listing's posting
// page in fixed-width concurrent batches, each job in its own isolated
// browser context, and records the full description.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
	"github.com/JakeFAU/job-listing-crawler/internal/sites"
	"github.com/JakeFAU/job-listing-crawler/internal/textutil"
)

// PassName labels the enrichment pass in metrics and exports.
const PassName = "enrich"

// Defaults for Config.
const (
	DefaultBatchSize          = 20
	DefaultDescriptionTimeout = 5 * time.Second
)

// ErrInvalidLink is recorded for listings whose link cannot be visited.
var ErrInvalidLink = errors.New("listing link is not an absolute http(s) URL")

// Session is one isolated browsing context.
type Session interface {
	Visit(ctx context.Context, rawURL string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	Close() error
}

// Opener creates sessions on a shared browser.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Config controls an enrichment run.
type Config struct {
	InputPath          string
	BatchSize          int
	DescriptionTimeout time.Duration
	// DomainQPS caps requests per host; zero disables the limiter.
	DomainQPS float64
}

// Stats counts job outcomes for a run.
type Stats struct {
	Jobs      int `json:"jobs"`
	Batches   int `json:"batches"`
	Described int `json:"described"`
	ImageOnly int `json:"imageOnly"`
	NotFound  int `json:"notFound"`
	Failed    int `json:"failed"`
}

func (s *Stats) add(k Kind) {
	s.Jobs++
	switch k {
	case KindText:
		s.Described++
	case KindImages:
		s.ImageOnly++
	case KindNotFound:
		s.NotFound++
	default:
		s.Failed++
	}
}

// Result is the outcome of Run.
type Result struct {
	Listings []listing.Listing
	Stats    Stats
}

// Enricher drives the detail pass.
type Enricher struct {
	cfg      Config
	registry sites.Registry
	opener   Opener
	metrics  *metrics.Recorder
	logger   *zap.Logger

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// New constructs an Enricher. recorder may be nil.
func New(cfg Config, registry sites.Registry, opener Opener, recorder *metrics.Recorder, logger *zap.Logger) *Enricher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DescriptionTimeout <= 0 {
		cfg.DescriptionTimeout = DefaultDescriptionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		cfg:      cfg,
		registry: registry,
		opener:   opener,
		metrics:  recorder,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Run reads the input file, enriches every listing and writes the result back
// to the same path.
func (e *Enricher) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	in, err := listing.ReadFile(e.cfg.InputPath)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("enrichment started",
		zap.String("input", e.cfg.InputPath), zap.Int("jobs", len(in)), zap.Int("batch_size", e.cfg.BatchSize))

	out, stats := e.Enrich(ctx, in)
	result := Result{Listings: out, Stats: stats}
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("enrichment canceled: %w", err)
	}
	if err := listing.WriteFile(e.cfg.InputPath, out); err != nil {
		e.metrics.ObservePass(PassName, time.Since(started), time.Now(), false)
		return result, fmt.Errorf("write enriched listings: %w", err)
	}
	e.metrics.ObservePass(PassName, time.Since(started), time.Now(), true)
	e.logger.Info("enrichment complete",
		zap.Int("jobs", stats.Jobs),
		zap.Int("batches", stats.Batches),
		zap.Int("described", stats.Described),
		zap.Int("image_only", stats.ImageOnly),
		zap.Int("not_found", stats.NotFound),
		zap.Int("failed", stats.Failed),
	)
	return result, nil
}

// Enrich returns a copy of in with descriptions filled. Jobs run in batches of
// Config.BatchSize; a batch starts only once the previous one has fully
// resolved, so no more than BatchSize sessions are ever open.
func (e *Enricher) Enrich(ctx context.Context, in []listing.Listing) ([]listing.Listing, Stats) {
	out := make([]listing.Listing, len(in))
	for i, job := range in {
		out[i] = normalize(job)
	}
	var stats Stats

	for start := 0; start < len(out); start += e.cfg.BatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(start+e.cfg.BatchSize, len(out))
		kinds := make([]Kind, end-start)

		var g errgroup.Group
		g.SetLimit(e.cfg.BatchSize)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				kinds[i-start] = e.enrichOne(ctx, &out[i])
				return nil
			})
		}
		// enrichOne records failures on the job itself and never returns one.
		if err := g.Wait(); err != nil {
			e.logger.Error("batch returned an error", zap.Error(err))
		}

		for _, k := range kinds {
			stats.add(k)
		}
		stats.Batches++
		e.metrics.ObserveBatch()
		e.logger.Debug("batch complete",
			zap.Int("batch", stats.Batches), zap.Int("from", start), zap.Int("to", end), zap.Int("failed", stats.Failed))
	}
	return out, stats
}

// enrichOne fills job in place. Every error, including a panic, degrades to
// the failure sentinel; the session is closed on every path.
// normalize fills "N/A" for missing optional fields and recomputes the link
// flag, so files written by other tools come out in the listing pass's shape.
func normalize(job listing.Listing) listing.Listing {
	job.Position = textutil.OrNotAvailable(job.Position)
	job.CompanyName = textutil.OrNotAvailable(job.CompanyName)
	job.CompanyLogo = textutil.OrNotAvailable(job.CompanyLogo)
	job.Location = textutil.OrNotAvailable(job.Location)
	job.JobType = textutil.OrNotAvailable(job.JobType)
	job.DatePosted = textutil.OrNotAvailable(job.DatePosted)
	job.ApplicationDeadline = textutil.OrNotAvailable(job.ApplicationDeadline)
	job.IsValidURL = textutil.IsValidURL(job.Link)
	return job
}

func (e *Enricher) enrichOne(ctx context.Context, job *listing.Listing) (kind Kind) {
	log := e.logger.With(zap.String("source", job.Source), zap.String("link", job.Link))
	defer func() {
		if r := recover(); r != nil {
			log.Error("enrichment panicked", zap.Any("panic", r))
			job.JobDescription = listing.DescriptionFailed
			kind = KindFailed
		}
		e.metrics.ObserveJob(job.Source, kind.String())
	}()

	kind, err := e.enrich(ctx, job, log)
	if err != nil {
		log.Warn("failed to fetch description", zap.Error(err))
		job.JobDescription = listing.DescriptionFailed
		return KindFailed
	}
	return kind
}

func (e *Enricher) enrich(ctx context.Context, job *listing.Listing, log *zap.Logger) (Kind, error) {
	if !textutil.IsValidURL(job.Link) {
		return KindFailed, ErrInvalidLink
	}
	if err := e.waitForHost(ctx, job.Link); err != nil {
		return KindFailed, err
	}

	session, err := e.opener.Open(ctx)
	if err != nil {
		return KindFailed, fmt.Errorf("open session: %w", err)
	}
	e.metrics.IncActiveSessions()
	defer func() {
		e.metrics.DecActiveSessions()
		if cerr := session.Close(); cerr != nil {
			log.Debug("session close failed", zap.Error(cerr))
		}
	}()

	if err := session.Visit(ctx, job.Link); err != nil {
		return KindFailed, err
	}
	selector := e.registry.DescriptionSelector(job.Source)
	if err := session.WaitFor(ctx, selector, e.cfg.DescriptionTimeout); err != nil {
		log.Warn("description container not found", zap.String("selector", selector), zap.Error(err))
	}
	page, err := session.HTML(ctx)
	if err != nil {
		return KindFailed, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return KindFailed, fmt.Errorf("parse detail page: %w", err)
	}
	base, err := url.Parse(job.Link)
	if err != nil {
		return KindFailed, fmt.Errorf("parse link: %w", err)
	}

	description, kind := Description(doc, selector, base)
	if site, ok := e.registry.Lookup(job.Source); ok && site.ExtractVariant() == sites.VariantMetadata {
		applyDetails(doc, site, job)
	}
	job.JobDescription = description
	return kind, nil
}

// waitForHost blocks until the per-host budget allows a request to rawURL.
func (e *Enricher) waitForHost(ctx context.Context, rawURL string) error {
	if e.cfg.DomainQPS <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse link: %w", err)
	}
	host := strings.ToLower(u.Hostname())

	e.limitersMu.Lock()
	limiter, ok := e.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.DomainQPS), 1)
		e.limiters[host] = limiter
	}
	e.limitersMu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for host budget %s: %w", host, err)
	}
	return nil
}
