// Package browser wraps the two headless browser backends used by the
// pipeline: a chromedp-driven Chrome for the listing pass and a playwright
// Chromium for the enrichment pass. Both abort requests rejected by a
// reqfilter.Filter before they leave the browser.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-listing-crawler/internal/reqfilter"
)

var (
	// ErrNavigation marks a failed page load.
	ErrNavigation = errors.New("navigation failed")
	// ErrBadStatus marks a document response outside the 2xx range.
	ErrBadStatus = errors.New("non-success document status")
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 10 * time.Second
	idleWindow               = 500 * time.Millisecond
	idlePoll                 = 100 * time.Millisecond
)

// ChromeConfig controls how the listing-pass browser is launched.
type ChromeConfig struct {
	ExecPath          string
	UserAgent         string
	Headless          bool
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
}

// Chrome owns one browser process shared by every tab of a run.
type Chrome struct {
	cfg           ChromeConfig
	filter        *reqfilter.Filter
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// LaunchChrome starts the browser and waits for it to accept commands.
func LaunchChrome(cfg ChromeConfig, filter *reqfilter.Filter, logger *zap.Logger) (*Chrome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Chrome{
		cfg:           cfg,
		filter:        filter,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func allocatorOptions(cfg ChromeConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1366, 900),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	return opts
}

// Close tears down the browser and its allocator.
func (c *Chrome) Close() {
	if c == nil {
		return
	}
	c.browserCancel()
	c.allocCancel()
}

// OpenTab opens a new tab with request interception installed. Cancelling ctx
// later aborts any command running in the tab.
func (c *Chrome) OpenTab(ctx context.Context) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	tab := &Tab{
		ctx:     tabCtx,
		cancel:  cancel,
		filter:  c.filter,
		logger:  c.logger,
		navWait: durationOr(c.cfg.NavigationTimeout, defaultNavigationTimeout),
		actWait: durationOr(c.cfg.ActionTimeout, defaultActionTimeout),
		net:     newNetTracker(),
	}
	tab.stopForward = forwardCancel(ctx, cancel)
	chromedp.ListenTarget(tabCtx, tab.onEvent)
	// The first Run binds the new target to the context it is given, so it
	// runs on tabCtx itself and is bounded from outside.
	err := runBounded(tab.actWait, cancel, func() error {
		return chromedp.Run(tabCtx, tab.setup())
	})
	if err != nil {
		_ = tab.Close()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return tab, nil
}

// runBounded waits up to timeout for run. On expiry it calls cancel, waits for
// run to return and reports context.DeadlineExceeded.
func runBounded(timeout time.Duration, cancel context.CancelFunc, run func() error) error {
	errc := make(chan error, 1)
	go func() { errc <- run() }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		cancel()
		<-errc
		return fmt.Errorf("timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
}

// Tab is a single chromedp target. It satisfies interact.Page.
type Tab struct {
	ctx         context.Context
	cancel      context.CancelFunc
	stopForward func()
	filter      *reqfilter.Filter
	logger      *zap.Logger
	navWait     time.Duration
	actWait     time.Duration
	net         *netTracker
	closeOnce   sync.Once
}

func (t *Tab) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if t.filter != nil {
			if err := fetch.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable request interception: %w", err)
			}
		}
		return emulation.SetDeviceMetricsOverride(1366, 900, 1, false).Do(ctx)
	})
}

func (t *Tab) onEvent(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		// Responding from the listener would deadlock the event loop.
		go t.decide(e)
	case *network.EventRequestWillBeSent:
		t.net.start(string(e.RequestID))
	case *network.EventLoadingFinished:
		t.net.finish(string(e.RequestID))
	case *network.EventLoadingFailed:
		t.net.finish(string(e.RequestID))
	}
}

func (t *Tab) decide(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(t.ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(t.ctx, c.Target)
	var err error
	if blockPaused(t.filter, ev) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
	}
	if err != nil && t.ctx.Err() == nil {
		t.logger.Debug("request interception reply failed", zap.String("url", ev.Request.URL), zap.Error(err))
	}
}

// scoped derives a bounded command context from the tab that is also
// cancelled when the caller's ctx ends.
func (t *Tab) scoped(ctx context.Context, timeout time.Duration) (context.Context, func()) {
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	stop := forwardCancel(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate loads rawURL and fails on transport errors or a non-2xx document.
func (t *Tab) Navigate(ctx context.Context, rawURL string) error {
	runCtx, done := t.scoped(ctx, t.navWait)
	defer done()
	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, rawURL, err)
	}
	if resp != nil {
		if err := checkStatus(int(resp.Status)); err != nil {
			return fmt.Errorf("%s: %w", rawURL, err)
		}
	}
	return nil
}

// WaitVisible blocks until selector is visible or timeout elapses.
func (t *Tab) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	runCtx, done := t.scoped(ctx, durationOr(timeout, t.actWait))
	defer done()
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Click clicks the first visible node matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	runCtx, done := t.scoped(ctx, t.actWait)
	defer done()
	if err := chromedp.Run(runCtx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// DocumentHeight returns the scroll height of the document body.
func (t *Tab) DocumentHeight(ctx context.Context) (float64, error) {
	var height float64
	if err := t.eval(ctx, `document.body ? document.body.scrollHeight : 0`, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// ScrollTo scrolls the window to the vertical offset y.
func (t *Tab) ScrollTo(ctx context.Context, y float64) error {
	return t.eval(ctx, fmt.Sprintf(`window.scrollTo(0, %f)`, y), nil)
}

// ScrollToBottom scrolls to the current end of the document.
func (t *Tab) ScrollToBottom(ctx context.Context) error {
	return t.eval(ctx, `window.scrollTo(0, document.body ? document.body.scrollHeight : 0)`, nil)
}

// Count returns the number of nodes matching selector.
func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := t.eval(ctx, fmt.Sprintf(`document.querySelectorAll(%q).length`, selector), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// WaitNetworkIdle waits until no request has been in flight for a short
// window, or returns an error once timeout elapses.
func (t *Tab) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return t.net.waitIdle(ctx, durationOr(timeout, t.actWait), idleWindow, idlePoll)
}

// HTML returns the outer HTML of the current document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	runCtx, done := t.scoped(ctx, t.actWait)
	defer done()
	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot document: %w", err)
	}
	return html, nil
}

// URL returns the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	runCtx, done := t.scoped(ctx, t.actWait)
	defer done()
	var location string
	if err := chromedp.Run(runCtx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return location, nil
}

// Close closes the tab. It is safe to call more than once.
func (t *Tab) Close() error {
	t.closeOnce.Do(func() {
		if t.stopForward != nil {
			t.stopForward()
		}
		t.cancel()
	})
	return nil
}

func (t *Tab) eval(ctx context.Context, expr string, res any) error {
	runCtx, done := t.scoped(ctx, t.actWait)
	defer done()
	if err := chromedp.Run(runCtx, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return nil
}

// blockPaused applies filter to an intercepted request; the document being
// loaded is never blocked.
func blockPaused(filter *reqfilter.Filter, ev *fetch.EventRequestPaused) bool {
	if ev == nil || ev.Request == nil {
		return false
	}
	return filter.BlockedRequest(ev.Request.URL, isDocument(string(ev.ResourceType)))
}

// isDocument matches both the CDP ("Document") and playwright ("document")
// spelling of the resource type.
func isDocument(resourceType string) bool {
	return strings.EqualFold(resourceType, string(network.ResourceTypeDocument))
}

func checkStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrBadStatus, status)
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// forwardCancel calls cancel when parent is done. The returned func stops
// the forwarding goroutine.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// netTracker counts in-flight requests for network-idle detection.
type netTracker struct {
	mu       sync.Mutex
	inflight map[string]struct{}
	lastSeen time.Time
	now      func() time.Time
}

func newNetTracker() *netTracker {
	return &netTracker{inflight: make(map[string]struct{}), now: time.Now, lastSeen: time.Now()}
}

func (n *netTracker) start(id string) {
	n.mu.Lock()
	n.inflight[id] = struct{}{}
	n.lastSeen = n.now()
	n.mu.Unlock()
}

func (n *netTracker) finish(id string) {
	n.mu.Lock()
	delete(n.inflight, id)
	n.lastSeen = n.now()
	n.mu.Unlock()
}

func (n *netTracker) idleFor(window time.Duration) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight) == 0 && n.now().Sub(n.lastSeen) >= window
}

func (n *netTracker) waitIdle(ctx context.Context, timeout, window, poll time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if n.idleFor(window) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-deadline.C:
			return fmt.Errorf("network not idle after %s", timeout)
		case <-ticker.C:
		}
	}
}
