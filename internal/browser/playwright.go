package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/reqfilter"
)

// PlaywrightConfig controls the enrichment-pass browser.
type PlaywrightConfig struct {
	ExecutablePath    string
	UserAgent         string
	Headless          bool
	NavigationTimeout time.Duration
}

// Playwright owns one Chromium process; every Session gets its own isolated
// browser context on top of it.
type Playwright struct {
	cfg     PlaywrightConfig
	filter  *reqfilter.Filter
	logger  *zap.Logger
	pw      *playwright.Playwright
	browser playwright.Browser
}

// LaunchPlaywright starts the driver and a Chromium instance.
func LaunchPlaywright(cfg PlaywrightConfig, filter *reqfilter.Filter, logger *zap.Logger) (*Playwright, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	b, err := pw.Chromium.Launch(launchOptions(cfg))
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Playwright{cfg: cfg, filter: filter, logger: logger, pw: pw, browser: b}, nil
}

func launchOptions(cfg PlaywrightConfig) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     []string{"--disable-gpu", "--disable-dev-shm-usage"},
	}
	if cfg.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(cfg.ExecutablePath)
	}
	return opts
}

// Close shuts down the browser and the driver.
func (p *Playwright) Close() error {
	if p == nil {
		return nil
	}
	var firstErr error
	if err := p.browser.Close(); err != nil {
		firstErr = fmt.Errorf("close chromium: %w", err)
	}
	if err := p.pw.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop playwright: %w", err)
	}
	return firstErr
}

// Open creates an isolated browser context with its own cookies and storage
// and a single page inside it.
func (p *Playwright) Open(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	opts := playwright.BrowserNewContextOptions{}
	if p.cfg.UserAgent != "" {
		opts.UserAgent = playwright.String(p.cfg.UserAgent)
	}
	bctx, err := p.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	if p.filter != nil {
		if err := bctx.Route("**/*", p.route); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("install request filter: %w", err)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	s := &Session{
		bctx:    bctx,
		page:    page,
		navWait: durationOr(p.cfg.NavigationTimeout, defaultNavigationTimeout),
	}
	s.stopForward = forwardCancel(ctx, s.dispose)
	return s, nil
}

func (p *Playwright) route(route playwright.Route) {
	req := route.Request()
	target := req.URL()
	var err error
	if p.filter.BlockedRequest(target, isDocument(req.ResourceType())) {
		err = route.Abort("blockedbyclient")
	} else {
		err = route.Continue()
	}
	if err != nil {
		p.logger.Debug("route decision failed", zap.String("url", target), zap.Error(err))
	}
}

// Session is one isolated context and page.
type Session struct {
	bctx        playwright.BrowserContext
	page        playwright.Page
	navWait     time.Duration
	stopForward func()
	closeOnce   sync.Once
	closeErr    error
}

// Visit navigates to rawURL, failing on transport errors or a non-2xx document.
func (s *Session) Visit(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("visit %s: %w", rawURL, err)
	}
	resp, err := s.page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(s.navWait),
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, rawURL, err)
	}
	if resp != nil {
		if err := checkStatus(resp.Status()); err != nil {
			return fmt.Errorf("%s: %w", rawURL, err)
		}
	}
	return nil
}

// WaitFor waits until selector is attached to the DOM or timeout elapses.
func (s *Session) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: millis(durationOr(timeout, defaultActionTimeout)),
	})
	if err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("snapshot document: %w", err)
	}
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("snapshot document: %w", err)
	}
	return html, nil
}

// Close disposes of the context and everything in it. Repeated calls return
// the first result.
func (s *Session) Close() error {
	if s.stopForward != nil {
		s.stopForward()
	}
	s.dispose()
	return s.closeErr
}

func (s *Session) dispose() {
	s.closeOnce.Do(func() {
		if err := s.bctx.Close(); err != nil {
			s.closeErr = fmt.Errorf("close browser context: %w", err)
		}
	})
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
