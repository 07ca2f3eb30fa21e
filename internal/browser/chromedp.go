package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/device"
	"github.com/valpere/ScrapeMend/internal/collector"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/utils"
)

const metricsScript = `({
	position: window.scrollY || document.documentElement.scrollTop || 0,
	viewport: window.innerHeight || document.documentElement.clientHeight || 0,
	content: Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight)
})`

// scrollMetrics mirrors the object returned by metricsScript.
type scrollMetrics struct {
	Position float64 `json:"position"`
	Viewport float64 `json:"viewport"`
	Content  float64 `json:"content"`
}

func (m scrollMetrics) toCollector() collector.ScrollMetrics {
	return collector.ScrollMetrics{
		Position:       m.Position,
		ViewportHeight: m.Viewport,
		ContentHeight:  m.Content,
	}
}

// ChromeClient is one Chrome tab. It implements collector.Viewport.
type ChromeClient struct {
	ctx           context.Context
	tabCancel     context.CancelFunc
	timeoutCancel context.CancelFunc
	allocCancel   context.CancelFunc
	config        Config
	logger        utils.Logger

	mu        sync.Mutex
	navigated bool
	closed    bool
	stats     Stats
}

var _ collector.Viewport = (*ChromeClient)(nil)

// NewChromeClient starts a browser and opens a tab.
func NewChromeClient(config Config, logger utils.Logger) (*ChromeClient, error) {
	config = config.withDefaults()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	}
	if config.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, tabCancel := chromedp.NewContext(allocCtx)
	var timeoutCancel context.CancelFunc
	if config.Timeout > 0 {
		// The whole browser session is bounded by Timeout.
		ctx, timeoutCancel = context.WithTimeout(ctx, config.Timeout)
	}

	c := &ChromeClient{
		ctx:           ctx,
		tabCancel:     tabCancel,
		timeoutCancel: timeoutCancel,
		allocCancel:   allocCancel,
		config:        config,
		logger:        utils.OrNop(logger).WithField("component", "browser"),
	}

	if err := c.initialize(); err != nil {
		_ = c.Close()
		return nil, utils.WrapError(err, utils.ErrCodeBrowserFailed, "failed to start browser")
	}
	return c, nil
}

func (c *ChromeClient) initialize() error {
	tasks := []chromedp.Action{
		chromedp.EmulateViewport(int64(c.config.ViewportWidth), int64(c.config.ViewportHeight)),
	}
	if c.config.ViewportWidth < 768 {
		tasks = append(tasks, chromedp.Emulate(device.IPhone8))
	}
	return chromedp.Run(c.ctx, tasks...)
}

// run executes actions on the tab and aborts when either ctx or the tab's
// own context ends.
func (c *ChromeClient) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the body, the configured element and
// the configured delay.
func (c *ChromeClient) Navigate(ctx context.Context, url string) error {
	start := time.Now()
	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if c.config.WaitForElement != "" {
		tasks = append(tasks, chromedp.WaitVisible(c.config.WaitForElement))
	}
	if c.config.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(c.config.WaitDelay))
	}

	err := c.run(ctx, tasks...)
	loadTime := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.Errors++
		c.navigated = false
		return utils.WrapError(err, utils.ErrCodeBrowserFailed, "navigation failed")
	}
	c.navigated = true
	c.stats.PagesLoaded++
	if c.stats.PagesLoaded == 1 {
		c.stats.AverageLoadTime = loadTime
	} else {
		c.stats.AverageLoadTime = (c.stats.AverageLoadTime + loadTime) / 2
	}
	c.logger.WithFields(map[string]interface{}{
		"url":       url,
		"load_time": loadTime.String(),
	}).Debug("page loaded")
	return nil
}

func (c *ChromeClient) ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.navigated {
		return ErrNotNavigated
	}
	return nil
}

func (c *ChromeClient) failed() {
	c.mu.Lock()
	c.stats.Errors++
	c.mu.Unlock()
}

// HTML returns the current outer HTML of the document.
func (c *ChromeClient) HTML(ctx context.Context) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		c.failed()
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}

// Snapshot parses the current document.
func (c *ChromeClient) Snapshot(ctx context.Context) (*dom.Page, error) {
	html, err := c.HTML(ctx)
	if err != nil {
		return nil, err
	}
	page, err := dom.NewPage(html)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.stats.Snapshots++
	c.mu.Unlock()
	return page, nil
}

// Metrics reads the scroll position, viewport height and document height.
func (c *ChromeClient) Metrics(ctx context.Context) (collector.ScrollMetrics, error) {
	if err := c.ready(); err != nil {
		return collector.ScrollMetrics{}, err
	}
	var m scrollMetrics
	if err := c.run(ctx, chromedp.Evaluate(metricsScript, &m)); err != nil {
		c.failed()
		return collector.ScrollMetrics{}, fmt.Errorf("failed to read scroll metrics: %w", err)
	}
	return m.toCollector(), nil
}

// ScrollMore scrolls down by ScrollStep viewports.
func (c *ChromeClient) ScrollMore(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	script := fmt.Sprintf("window.scrollBy(0, Math.round(window.innerHeight * %g)); window.scrollY", c.config.ScrollStep)
	var position float64
	if err := c.run(ctx, chromedp.Evaluate(script, &position)); err != nil {
		c.failed()
		return fmt.Errorf("scroll failed: %w", err)
	}
	c.mu.Lock()
	c.stats.Scrolls++
	c.mu.Unlock()
	return nil
}

// Stats returns a copy of the client's counters.
func (c *ChromeClient) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes the tab and stops the browser.
func (c *ChromeClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.timeoutCancel != nil {
		c.timeoutCancel()
	}
	if c.tabCancel != nil {
		c.tabCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}
