package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/listing"
	"github.com/JakeFAU/job-listing-crawler/internal/metrics"
	"github.com/JakeFAU/job-listing-crawler/internal/sites"
)

// page is the scripted behavior of one detail URL.
type page struct {
	html     string
	visitErr error
	panics   bool
	delay    time.Duration
}

type fakeOpener struct {
	pages map[string]page

	mu      sync.Mutex
	open    int
	maxOpen int
	opened  int
	closed  int
}

func (o *fakeOpener) Open(context.Context) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.open++
	o.opened++
	if o.open > o.maxOpen {
		o.maxOpen = o.open
	}
	return &fakeSession{opener: o}, nil
}

type fakeSession struct {
	opener *fakeOpener
	url    string
}

func (s *fakeSession) Visit(_ context.Context, rawURL string) error {
	s.url = rawURL
	p := s.opener.pages[rawURL]
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.panics {
		panic("page crashed")
	}
	return p.visitErr
}

func (s *fakeSession) WaitFor(context.Context, string, time.Duration) error { return nil }

func (s *fakeSession) HTML(context.Context) (string, error) {
	return s.opener.pages[s.url].html, nil
}

func (s *fakeSession) Close() error {
	s.opener.mu.Lock()
	defer s.opener.mu.Unlock()
	s.opener.open--
	s.opener.closed++
	return nil
}

func testRegistry() sites.Registry {
	return sites.Registry{
		{Name: "board", DescriptionSelector: "div.description"},
		{
			Name:                "org",
			Variant:             sites.VariantMetadata,
			DescriptionSelector: "div.job-description",
			DetailSelectors: map[sites.Field]string{
				sites.FieldOpenDate:     ".posted",
				sites.FieldCloseDate:    ".deadline",
				sites.FieldContractType: ".contract",
			},
		},
	}
}

func jobs(n int, source string) []listing.Listing {
	out := make([]listing.Listing, n)
	for i := range out {
		out[i] = listing.Listing{
			Link:     fmt.Sprintf("https://x.test/job/%d", i+1),
			Position: fmt.Sprintf("Engineer %d", i+1),
			Source:   source,
		}
	}
	return out
}

func textPage(n int) page {
	return page{html: fmt.Sprintf(`<html><body><div class="description"><p>Role %d</p><p>Apply   now</p></div></body></html>`, n)}
}

func TestEnrichImageFallback(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{pages: map[string]page{
		"https://x.test/job/1": {html: `<div class="description">
		  <img src="/flyers/a.png"> <img src="https://cdn.x.test/b.jpg">
		</div>`},
	}}
	e := New(Config{BatchSize: 5}, testRegistry(), opener, nil, zap.NewNop())

	out, stats := e.Enrich(context.Background(), jobs(1, "board"))
	require.Len(t, out, 1)
	assert.Equal(t, "https://x.test/flyers/a.png, https://cdn.x.test/b.jpg", out[0].JobDescription)
	assert.Equal(t, 1, stats.ImageOnly)
}

func TestEnrichFailureIsolation(t *testing.T) {
	t.Parallel()

	in := jobs(20, "board")
	pages := make(map[string]page, len(in))
	for i, job := range in {
		pages[job.Link] = textPage(i + 1)
	}
	pages["https://x.test/job/7"] = page{visitErr: errors.New("net::ERR_CONNECTION_RESET")}
	opener := &fakeOpener{pages: pages}

	out, stats := New(Config{BatchSize: 20}, testRegistry(), opener, metrics.New(), zap.NewNop()).
		Enrich(context.Background(), in)

	for i, job := range out {
		if i == 6 {
			assert.Equal(t, listing.DescriptionFailed, job.JobDescription)
			continue
		}
		assert.Equal(t, fmt.Sprintf("Role %d\nApply now", i+1), job.JobDescription, "job %d", i+1)
	}
	assert.Equal(t, Stats{Jobs: 20, Batches: 1, Described: 19, Failed: 1}, stats)
	assert.Equal(t, opener.opened, opener.closed, "every session must be closed")
}

func TestEnrichPanicIsolation(t *testing.T) {
	t.Parallel()

	in := jobs(3, "board")
	opener := &fakeOpener{pages: map[string]page{
		in[0].Link: textPage(1),
		in[1].Link: {panics: true},
		in[2].Link: textPage(3),
	}}

	out, stats := New(Config{BatchSize: 3}, testRegistry(), opener, nil, nil).Enrich(context.Background(), in)
	assert.Equal(t, listing.DescriptionFailed, out[1].JobDescription)
	assert.Equal(t, "Role 3\nApply now", out[2].JobDescription)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, opener.closed)
}

func TestEnrichBatchWidthBound(t *testing.T) {
	t.Parallel()

	const width = 4
	in := jobs(11, "board")
	pages := make(map[string]page, len(in))
	for i, job := range in {
		p := textPage(i + 1)
		p.delay = 10 * time.Millisecond
		pages[job.Link] = p
	}
	opener := &fakeOpener{pages: pages}

	_, stats := New(Config{BatchSize: width}, testRegistry(), opener, nil, nil).Enrich(context.Background(), in)
	assert.LessOrEqual(t, opener.maxOpen, width)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 11, stats.Jobs)
	assert.Zero(t, opener.open)
}

func TestEnrichIdempotent(t *testing.T) {
	t.Parallel()

	in := jobs(6, "board")
	pages := make(map[string]page, len(in))
	for i, job := range in {
		pages[job.Link] = textPage(i + 1)
	}
	e := New(Config{BatchSize: 4}, testRegistry(), &fakeOpener{pages: pages}, nil, nil)

	first, _ := e.Enrich(context.Background(), in)
	second, _ := e.Enrich(context.Background(), first)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].JobDescription, second[i].JobDescription)
	}
	assert.Empty(t, in[0].JobDescription, "input slice is not modified")
}

func TestEnrichMetadataOverrides(t *testing.T) {
	t.Parallel()

	job := listing.Listing{
		Link:                "https://careers.x.test/job/9",
		Source:              "org",
		JobType:             "Full-time",
		DatePosted:          "N/A",
		ApplicationDeadline: "2024-04-01",
	}
	opener := &fakeOpener{pages: map[string]page{job.Link: {html: `
	  <span class="posted">2024-03-01T00:00:00Z</span>
	  <span class="deadline">Apr 20, 2024</span>
	  <span class="contract">Temporary Appointment</span>
	  <div class="job-description">Coordinate field programmes.</div>`}}}

	out, _ := New(Config{}, testRegistry(), opener, nil, nil).Enrich(context.Background(), []listing.Listing{job})
	assert.Equal(t, "2024-03-01", out[0].DatePosted)
	assert.Equal(t, "2024-04-20", out[0].ApplicationDeadline)
	assert.Equal(t, "Temporary Appointment", out[0].JobType)
	assert.Equal(t, "Coordinate field programmes.", out[0].JobDescription)
}

func TestEnrichMetadataKeepsFieldsWhenAbsent(t *testing.T) {
	t.Parallel()

	job := listing.Listing{Link: "https://careers.x.test/job/3", Source: "org", JobType: "Full-time", DatePosted: "2024-01-01"}
	opener := &fakeOpener{pages: map[string]page{job.Link: {html: `<div class="job-description">Text</div>`}}}

	out, _ := New(Config{}, testRegistry(), opener, nil, nil).Enrich(context.Background(), []listing.Listing{job})
	assert.Equal(t, "Full-time", out[0].JobType)
	assert.Equal(t, "2024-01-01", out[0].DatePosted)
}

func TestEnrichInvalidLinkSkipsBrowser(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{}
	out, stats := New(Config{}, testRegistry(), opener, nil, nil).
		Enrich(context.Background(), []listing.Listing{{Link: "N/A", Source: "board"}})
	assert.Equal(t, listing.DescriptionFailed, out[0].JobDescription)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, opener.opened)
}

func TestRunRewritesFileInPlace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listings.json")
	in := jobs(2, "board")
	require.NoError(t, listing.WriteFile(path, in))
	opener := &fakeOpener{pages: map[string]page{in[0].Link: textPage(1)}}

	result, err := New(Config{InputPath: path}, testRegistry(), opener, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.Jobs)

	written, err := listing.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.Equal(t, "Role 1\nApply now", written[0].JobDescription)
	assert.Equal(t, listing.DescriptionNotFound, written[1].JobDescription)
}

func TestRunKeepsForeignKeysAndFillsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "listings.json")
	input := `[{"link":"https://x.test/job/1","position":"Engineer","source":"board","id":"abc123","tags":["go","remote"]}]`
	require.NoError(t, os.WriteFile(path, []byte(input), 0o600))
	opener := &fakeOpener{pages: map[string]page{"https://x.test/job/1": textPage(1)}}

	_, err := New(Config{InputPath: path}, testRegistry(), opener, nil, nil).Run(context.Background())
	require.NoError(t, err)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var written []map[string]any
	require.NoError(t, json.Unmarshal(raw, &written))
	require.Len(t, written, 1)

	got := written[0]
	assert.Equal(t, "abc123", got["id"])
	assert.Equal(t, []any{"go", "remote"}, got["tags"])
	assert.Equal(t, "Engineer", got["position"])
	assert.Equal(t, "N/A", got["companyName"])
	assert.Equal(t, "N/A", got["applicationDeadline"])
	assert.Equal(t, true, got["isValidUrl"])
	assert.Equal(t, "Role 1\nApply now", got["jobDescription"])
	assert.NotContains(t, got, "scrapedAt")
}

func TestRunMissingInput(t *testing.T) {
	t.Parallel()

	_, err := New(Config{InputPath: filepath.Join(t.TempDir(), "absent.json")}, testRegistry(), &fakeOpener{}, nil, nil).
		Run(context.Background())
	require.Error(t, err)
}

func TestDescriptionText(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<main>
	  <h2>About</h2>
	  <script>var x = 1;</script>
	  <style>.a{}</style>
	  <ul><li>Go</li><li>Postgres</li></ul>
	  <p>Remote&nbsp;friendly <b>team</b>.</p>
	</main>`))
	require.NoError(t, err)

	got, kind := Description(doc, sites.DefaultDescriptionSelector, nil)
	assert.Equal(t, KindText, kind)
	assert.Equal(t, "About\nGo\nPostgres\nRemote friendly team.", got)
}

func TestDescriptionMissingContainer(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div class="other">x</div>`))
	require.NoError(t, err)
	got, kind := Description(doc, "div.description", nil)
	assert.Equal(t, listing.DescriptionNotFound, got)
	assert.Equal(t, KindNotFound, kind)

	doc, err = goquery.NewDocumentFromReader(strings.NewReader(`<div class="description"> <img src="data:image/png;base64,AA"> </div>`))
	require.NoError(t, err)
	got, kind = Description(doc, "div.description", nil)
	assert.Equal(t, listing.DescriptionNotFound, got)
	assert.Equal(t, KindNotFound, kind)
}

func TestWaitForHostBudget(t *testing.T) {
	t.Parallel()

	e := New(Config{DomainQPS: 1000}, nil, &fakeOpener{}, nil, nil)
	require.NoError(t, e.waitForHost(context.Background(), "https://x.test/a"))
	require.NoError(t, e.waitForHost(context.Background(), "https://X.test/b"))
	assert.Len(t, e.limiters, 1, "hosts share a limiter case-insensitively")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := New(Config{DomainQPS: 0.001}, nil, &fakeOpener{}, nil, nil)
	require.NoError(t, slow.waitForHost(context.Background(), "https://y.test/"))
	require.Error(t, slow.waitForHost(ctx, "https://y.test/"))
}
