package browser

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/valpere/ScrapeMend/internal/collector"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if !config.Headless {
		t.Error("Expected headless mode by default")
	}
	if config.ViewportWidth != 1920 || config.ViewportHeight != 1080 {
		t.Errorf("Expected 1920x1080 viewport, got %dx%d", config.ViewportWidth, config.ViewportHeight)
	}

	filled := Config{}.withDefaults()
	if filled.ScrollStep != 1 {
		t.Errorf("Expected scroll step 1, got %v", filled.ScrollStep)
	}
	if filled.ViewportHeight != 1080 {
		t.Errorf("Expected default viewport height, got %d", filled.ViewportHeight)
	}
}

func TestScrollMetrics_ToCollector(t *testing.T) {
	m := scrollMetrics{Position: 900, Viewport: 300, Content: 1200}.toCollector()
	want := collector.ScrollMetrics{Position: 900, ViewportHeight: 300, ContentHeight: 1200}
	if m != want {
		t.Errorf("Expected %+v, got %+v", want, m)
	}
	if !m.AtBottom(0) {
		t.Error("Expected metrics to be at the bottom")
	}
}

func TestChromeClient_RequiresNavigation(t *testing.T) {
	c := &ChromeClient{}
	ctx := context.Background()

	if _, err := c.Snapshot(ctx); !errors.Is(err, ErrNotNavigated) {
		t.Errorf("Expected ErrNotNavigated from Snapshot, got %v", err)
	}
	if _, err := c.Metrics(ctx); !errors.Is(err, ErrNotNavigated) {
		t.Errorf("Expected ErrNotNavigated from Metrics, got %v", err)
	}
	if err := c.ScrollMore(ctx); !errors.Is(err, ErrNotNavigated) {
		t.Errorf("Expected ErrNotNavigated from ScrollMore, got %v", err)
	}
}

func TestChromeClient_ClosedClient(t *testing.T) {
	c := &ChromeClient{navigated: true}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := c.HTML(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestChromeClient_Viewport(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping browser test in short mode")
	}
	config := DefaultConfig()
	config.Timeout = 30 * time.Second
	config.WaitDelay = 0
	config.ViewportHeight = 400

	client, err := NewChromeClient(config, nil)
	if err != nil {
		t.Skipf("Skipping browser test - Chrome may not be available: %v", err)
	}
	defer client.Close()

	var body strings.Builder
	body.WriteString("<html><body>")
	for i := 0; i < 40; i++ {
		body.WriteString(`<div class="item" style="height:100px">row</div>`)
	}
	body.WriteString("</body></html>")

	ctx := context.Background()
	if err := client.Navigate(ctx, "data:text/html,"+url.PathEscape(body.String())); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}

	page, err := client.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	items, err := page.Query(".item")
	if err != nil {
		t.Fatal(err)
	}
	if items.Length() != 40 {
		t.Errorf("Expected 40 items, got %d", items.Length())
	}

	before, err := client.Metrics(ctx)
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	if before.ContentHeight <= before.ViewportHeight {
		t.Fatalf("Expected scrollable content, got %+v", before)
	}
	if err := client.ScrollMore(ctx); err != nil {
		t.Fatalf("ScrollMore failed: %v", err)
	}
	after, err := client.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.Position <= before.Position {
		t.Errorf("Expected position to advance, before %v after %v", before.Position, after.Position)
	}

	stats := client.Stats()
	if stats.PagesLoaded != 1 || stats.Snapshots != 1 || stats.Scrolls != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}
