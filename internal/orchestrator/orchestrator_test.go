package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/clock"
	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
	"github.com/JakeFAU/job-listing-crawler/internal/sites"
	"github.com/JakeFAU/job-listing-crawler/internal/textutil"
)

var scrapedAt = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// script describes how a fake page behaves for one URL. navErrs is consumed
// one entry per navigation; panicOn makes the given attempt panic.
type script struct {
	html    string
	navErrs []error
	panicOn int
}

type fakeBrowser struct {
	mu          sync.Mutex
	scripts     map[string]*script
	navigations map[string]int
	opened      int
	closed      int
	openErr     error
}

func newFakeBrowser(scripts map[string]*script) *fakeBrowser {
	return &fakeBrowser{scripts: scripts, navigations: make(map[string]int)}
}

func (b *fakeBrowser) OpenTab(context.Context) (Tab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened++
	return &fakeTab{browser: b}, nil
}

type fakeTab struct {
	browser *fakeBrowser
	url     string
	attempt int
}

func (t *fakeTab) script() *script {
	t.browser.mu.Lock()
	defer t.browser.mu.Unlock()
	return t.browser.scripts[t.url]
}

func (t *fakeTab) Navigate(_ context.Context, rawURL string) error {
	t.browser.mu.Lock()
	t.browser.navigations[rawURL]++
	t.attempt = t.browser.navigations[rawURL]
	t.browser.mu.Unlock()
	t.url = rawURL

	s := t.script()
	if s == nil {
		return errors.New("no route to host")
	}
	if idx := t.attempt - 1; idx < len(s.navErrs) && s.navErrs[idx] != nil {
		return s.navErrs[idx]
	}
	return nil
}

func (t *fakeTab) HTML(context.Context) (string, error) {
	s := t.script()
	if s.panicOn == t.attempt {
		panic("renderer crashed")
	}
	return s.html, nil
}

func (t *fakeTab) URL(context.Context) (string, error) { return t.url, nil }

func (t *fakeTab) Close() error {
	t.browser.mu.Lock()
	t.browser.closed++
	t.browser.mu.Unlock()
	return nil
}

func (t *fakeTab) DocumentHeight(context.Context) (float64, error)             { return 1000, nil }
func (t *fakeTab) ScrollTo(context.Context, float64) error                     { return nil }
func (t *fakeTab) ScrollToBottom(context.Context) error                        { return nil }
func (t *fakeTab) WaitVisible(context.Context, string, time.Duration) error    { return nil }
func (t *fakeTab) Click(context.Context, string) error                         { return nil }
func (t *fakeTab) WaitNetworkIdle(context.Context, time.Duration) error        { return nil }
func (t *fakeTab) Count(context.Context, string) (int, error)                  { return 0, nil }

func genericSite(name, url string) sites.Config {
	return sites.Config{
		Name:            name,
		URL:             url,
		ListingSelector: "li.job",
		LoadStrategy:    sites.LoadFullScroll,
		Variant:         sites.VariantGeneric,
		FieldSelectors: map[sites.Field]string{
			sites.FieldLink:        "a.title",
			sites.FieldPosition:    "a.title",
			sites.FieldCompanyName: ".company",
			sites.FieldCompanyLogo: "img.logo",
			sites.FieldLocation:    ".location",
			sites.FieldJobType:     ".type",
			sites.FieldDatePosted:  "time",
		},
	}
}

const genericHTML = `<html><body><ul>
  <li class="job">
    <a class="title" href="/job/1">Backend Engineer</a>
    <span class="company">Acme</span>
    <time datetime="2024-03-01T08:30:00Z">4 days ago</time>
  </li>
  <li class="job"><a class="title" href="/job/2">Go</a></li>
</ul></body></html>`

func newOrchestrator(t *testing.T, registry sites.Registry, b Browser, output string) *Orchestrator {
	t.Helper()
	cfg := Config{
		OutputPath:     output,
		WriteSiteFiles: true,
		Retry:          NewRetryPolicy(2, 0),
	}
	return New(cfg, registry, b, clock.Fixed(scrapedAt), metrics.New(), zap.NewNop())
}

func TestRunGenericSiteEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	site := genericSite("board", "https://x.test/jobs")
	site.OutputFile = filepath.Join(dir, "sites", "board.json")
	b := newFakeBrowser(map[string]*script{site.URL: {html: genericHTML}})
	output := filepath.Join(dir, "out", "listings.json")

	result, err := newOrchestrator(t, sites.Registry{site}, b, output).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Listings, 1)

	got := result.Listings[0]
	assert.Equal(t, "https://x.test/job/1", got.Link)
	assert.Equal(t, "Backend Engineer", got.Position)
	assert.Equal(t, "2024-03-01", got.DatePosted)
	assert.True(t, got.IsValidURL)
	assert.Equal(t, "Acme", got.CompanyName)
	assert.Equal(t, textutil.NotAvailable, got.CompanyLogo)
	assert.Equal(t, textutil.NotAvailable, got.ApplicationDeadline)
	assert.Equal(t, "board", got.Source)
	assert.True(t, got.ScrapedAt.Equal(scrapedAt))
	assert.Empty(t, got.JobDescription)

	assert.Equal(t, Stats{
		Attempts: 1, Successes: 1, TotalListings: 1, ValidURLs: 1,
		PerSource: map[string]int{"board": 1},
	}, result.Stats)

	written, err := listing.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, result.Listings[0].Link, written[0].Link)

	perSite, err := listing.ReadFile(site.OutputFile)
	require.NoError(t, err)
	assert.Len(t, perSite, 1)

	assert.Equal(t, b.opened, b.closed, "every tab must be closed")
}

func TestRunRetriesExhaustedDoesNotAbort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	broken := genericSite("broken", "https://down.test/")
	healthy := genericSite("healthy", "https://x.test/jobs")
	navErr := errors.New("net::ERR_TIMED_OUT")
	b := newFakeBrowser(map[string]*script{
		broken.URL:  {navErrs: []error{navErr, navErr, navErr, navErr}},
		healthy.URL: {html: genericHTML},
	})

	result, err := newOrchestrator(t, sites.Registry{broken, healthy}, b, filepath.Join(dir, "l.json")).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, b.navigations[broken.URL], "one attempt plus two retries")
	assert.Equal(t, 1, b.navigations[healthy.URL])
	assert.Equal(t, 4, result.Stats.Attempts)
	assert.Equal(t, 1, result.Stats.Successes)
	assert.Equal(t, 1, result.Stats.Failures)
	assert.Equal(t, 0, result.Stats.PerSource["broken"])
	assert.Equal(t, 1, result.Stats.PerSource["healthy"])
	require.Len(t, result.Listings, 1)
	assert.Equal(t, "healthy", result.Listings[0].Source)
	assert.Equal(t, b.opened, b.closed)
}

func TestRunRecoversOnRetry(t *testing.T) {
	t.Parallel()

	site := genericSite("flaky", "https://x.test/jobs")
	b := newFakeBrowser(map[string]*script{
		site.URL: {html: genericHTML, navErrs: []error{errors.New("status 503")}},
	})

	result, err := newOrchestrator(t, sites.Registry{site}, b, filepath.Join(t.TempDir(), "l.json")).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.Attempts)
	assert.Equal(t, 1, result.Stats.Successes)
	assert.Zero(t, result.Stats.Failures)
	assert.Len(t, result.Listings, 1)
}

func TestRunRecoversFromPanic(t *testing.T) {
	t.Parallel()

	site := genericSite("crashy", "https://x.test/jobs")
	b := newFakeBrowser(map[string]*script{site.URL: {html: genericHTML, panicOn: 1}})

	result, err := newOrchestrator(t, sites.Registry{site}, b, filepath.Join(t.TempDir(), "l.json")).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.Attempts)
	assert.Len(t, result.Listings, 1)
	assert.Equal(t, 2, b.closed, "tab closed after the panic too")
}

func TestVisitWrapsPanic(t *testing.T) {
	t.Parallel()

	site := genericSite("crashy", "https://x.test/jobs")
	b := newFakeBrowser(map[string]*script{site.URL: {html: genericHTML, panicOn: 1}})
	o := newOrchestrator(t, sites.Registry{site}, b, "")

	_, err := o.visit(context.Background(), site, zap.NewNop())
	require.ErrorIs(t, err, ErrPanic)
}

func TestRunAppliesMetadataConstants(t *testing.T) {
	t.Parallel()

	site := sites.Config{
		Name:            "org",
		URL:             "https://careers.x.test/jobopening",
		ListingSelector: "div.card",
		Variant:         sites.VariantMetadata,
		FieldSelectors: map[sites.Field]string{
			sites.FieldLink:     "a.job-title",
			sites.FieldPosition: "a.job-title",
			sites.FieldLocation: ".station",
			sites.FieldDeadline: ".deadline",
		},
		Constants: map[sites.Field]string{
			sites.FieldCompanyName: "United Nations",
			sites.FieldJobType:     "Full-time",
		},
	}
	html := `<div class="card">
	  <a class="job-title" href="/jobSearchDescription/42">Programme   Officer</a>
	  <span class="station">Nairobi</span>
	  <span class="deadline">Closes: 2024-04-01</span>
	</div>`
	b := newFakeBrowser(map[string]*script{site.URL: {html: html}})

	result, err := newOrchestrator(t, sites.Registry{site}, b, filepath.Join(t.TempDir(), "l.json")).
		Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Listings, 1)

	got := result.Listings[0]
	assert.Equal(t, "Programme Officer", got.Position)
	assert.Equal(t, "United Nations", got.CompanyName)
	assert.Equal(t, "Full-time", got.JobType)
	assert.Equal(t, "2024-04-01", got.ApplicationDeadline)
	assert.Equal(t, textutil.NotAvailable, got.CompanyLogo)
	assert.Equal(t, textutil.NotAvailable, got.DatePosted)
}

func TestRunOpenTabFailureCountsAsSiteFailure(t *testing.T) {
	t.Parallel()

	site := genericSite("board", "https://x.test/jobs")
	b := newFakeBrowser(nil)
	b.openErr = errors.New("target closed")

	result, err := newOrchestrator(t, sites.Registry{site}, b, filepath.Join(t.TempDir(), "l.json")).
		Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Stats.Attempts)
	assert.Equal(t, 1, result.Stats.Failures)
	assert.Empty(t, result.Listings)
}

func TestRunWriteFailureIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	site := genericSite("board", "https://x.test/jobs")
	b := newFakeBrowser(map[string]*script{site.URL: {html: genericHTML}})

	result, err := newOrchestrator(t, sites.Registry{site}, b, filepath.Join(blocker, "listings.json")).
		Run(context.Background())
	require.Error(t, err)
	assert.Len(t, result.Listings, 1, "listings are still returned to the caller")
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	site := genericSite("board", "https://x.test/jobs")
	b := newFakeBrowser(map[string]*script{site.URL: {html: genericHTML}})
	output := filepath.Join(t.TempDir(), "l.json")

	_, err := newOrchestrator(t, sites.Registry{site}, b, output).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "canceled run must not overwrite output")
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, time.Second)
	assert.Equal(t, 3, p.Attempts())
	assert.True(t, p.ShouldRetry(errors.New("x"), 1))
	assert.True(t, p.ShouldRetry(errors.New("x"), 2))
	assert.False(t, p.ShouldRetry(errors.New("x"), 3))
	assert.False(t, p.ShouldRetry(nil, 1))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))

	defaults := NewRetryPolicy(-1, -1)
	assert.Equal(t, DefaultMaxRetries, defaults.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, defaults.Delay)
}

func TestRunPausesBetweenSitesAndRetries(t *testing.T) {
	t.Parallel()

	broken := genericSite("broken", "https://down.test/")
	first := genericSite("first", "https://x.test/jobs")
	second := genericSite("second", "https://y.test/jobs")
	navErr := errors.New("net::ERR_CONNECTION_REFUSED")
	b := newFakeBrowser(map[string]*script{
		broken.URL: {navErrs: []error{navErr, navErr, navErr}},
		first.URL:  {html: genericHTML},
		second.URL: {html: genericHTML},
	})

	var mu sync.Mutex
	var pauses []time.Duration
	cfg := Config{
		OutputPath: filepath.Join(t.TempDir(), "l.json"),
		SiteDelay:  3 * time.Second,
		Retry:      NewRetryPolicy(2, 5*time.Second),
		Pause: func(_ context.Context, d time.Duration) {
			mu.Lock()
			pauses = append(pauses, d)
			mu.Unlock()
		},
	}
	_, err := New(cfg, sites.Registry{broken, first, second}, b, clock.Fixed(scrapedAt), nil, nil).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{
		5 * time.Second, 5 * time.Second, // retries of the first site, no politeness pause before it
		3 * time.Second, // before the second site
		3 * time.Second, // before the third site
	}, pauses)
}

func TestRunWithoutSiteDelaySkipsPoliteness(t *testing.T) {
	t.Parallel()

	a := genericSite("a", "https://x.test/jobs")
	c := genericSite("c", "https://y.test/jobs")
	b := newFakeBrowser(map[string]*script{a.URL: {html: genericHTML}, c.URL: {html: genericHTML}})

	var calls int
	cfg := Config{
		OutputPath: filepath.Join(t.TempDir(), "l.json"),
		Retry:      NewRetryPolicy(2, time.Second),
		Pause:      func(context.Context, time.Duration) { calls++ },
	}
	_, err := New(cfg, sites.Registry{a, c}, b, nil, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, calls)
}
