// pkg/api/api_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valpere/ScrapeMend/internal/collector"
	"github.com/valpere/ScrapeMend/internal/config"
	"github.com/valpere/ScrapeMend/internal/dom"
	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

func productConfig() *config.Config {
	cfg := config.Default()
	cfg.Resolver.MaxRetries = 1
	cfg.Storage = storage.Config{Driver: storage.DriverMemory}
	cfg.Template = organizer.Template{
		Name:      "product",
		Container: ".card",
		Fields: []organizer.FieldRequest{
			{Name: "title", Address: ".title"},
			{Name: "price", Address: ".price"},
		},
	}
	cfg.Collector.SettleDelay = time.Millisecond
	return cfg
}

func newClient(t *testing.T, cfg *config.Config, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(utils.NewNopLogger())}, opts...)
	c, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func parse(t *testing.T, html string) *dom.Page {
	t.Helper()
	p, err := ParseHTML(strings.NewReader(html))
	require.NoError(t, err)
	return p
}

const catalog = `<html><body>
<div class="card"><h2 class="title">Lamp</h2><span class="price">19.99</span></div>
<div class="card"><h2 class="title">Desk</h2><span class="price">120</span></div>
</body></html>`

func TestClient_ExtractHealsAndPersists(t *testing.T) {
	cfg := productConfig()
	cfg.Template = organizer.Template{
		Name:   "product",
		Fields: []organizer.FieldRequest{{Name: "title", Address: "#product-title"}},
	}
	store := storage.NewMemoryStore(0)
	c := newClient(t, cfg, WithStore(store))

	res, err := c.Extract(context.Background(), parse(t, `<html><body><h1 id="product-titles">Lamp</h1></body></html>`))
	require.NoError(t, err)
	title, ok := res.Fields.Get("title")
	require.True(t, ok)
	assert.Equal(t, "Lamp", title)

	snap := c.Memory()
	assert.Contains(t, snap.Learned, "#product-title")
	assert.Equal(t, 1, c.MemoryStats().LearnedCount)

	_, err = store.Get(context.Background(), healer.DefaultStorageKey)
	assert.NoError(t, err)

	assert.True(t, c.Forget(context.Background(), "#product-title"))
	assert.Equal(t, 0, c.MemoryStats().LearnedCount)
}

func TestClient_ExtractRows(t *testing.T) {
	c := newClient(t, productConfig())

	items, err := c.ExtractRows(context.Background(), parse(t, catalog))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Desk", items[1].Get("title"))
}

func TestClient_NoTemplate(t *testing.T) {
	cfg := productConfig()
	cfg.Template = organizer.Template{}
	c := newClient(t, cfg)

	_, err := c.Extract(context.Background(), parse(t, catalog))
	assert.ErrorIs(t, err, ErrNoTemplate)
	_, err = c.Collect(context.Background(), staticViewport{}, nil)
	assert.ErrorIs(t, err, ErrNoTemplate)
}

func TestClient_InvalidConfig(t *testing.T) {
	cfg := productConfig()
	cfg.Output.Format = "pdf"
	_, err := New(context.Background(), cfg, WithLogger(utils.NewNopLogger()))
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeInvalidConfig, utils.CodeOf(err))
}

func TestClient_Analyze(t *testing.T) {
	c := newClient(t, productConfig())
	a := c.Analyze(parse(t, catalog))
	require.NotNil(t, a)
	assert.Greater(t, a.Statistics.Elements, 0)
}

type staticViewport struct {
	page *dom.Page
}

func (v staticViewport) Snapshot(context.Context) (*dom.Page, error) { return v.page, nil }
func (v staticViewport) Metrics(context.Context) (collector.ScrollMetrics, error) {
	return collector.ScrollMetrics{Position: 0, ViewportHeight: 800, ContentHeight: 800}, nil
}
func (v staticViewport) ScrollMore(context.Context) error { return nil }

func TestClient_Collect(t *testing.T) {
	c := newClient(t, productConfig())

	var events int
	summary, err := c.Collect(context.Background(), staticViewport{page: parse(t, catalog)}, func(collector.Event) { events++ })
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, collector.StateConverged, summary.State)
	assert.Greater(t, events, 1)
	assert.Equal(t, 1, c.Telemetry().Stats(telemetry.KindCollect).Successes)
}

func TestClient_DeliverAndExport(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"ok"}`))
	}))
	defer srv.Close()

	cfg := productConfig()
	cfg.Delivery.Endpoint = srv.URL
	c := newClient(t, cfg)

	items, err := c.ExtractRows(context.Background(), parse(t, catalog))
	require.NoError(t, err)

	resp, err := c.Deliver(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.NotEmpty(t, got["id"])
	assert.Equal(t, "scrapemend", got["source"])
	assert.Equal(t, "closed", c.DeliveryState())

	var buf bytes.Buffer
	require.NoError(t, c.Export(&buf, items))
	assert.Contains(t, buf.String(), `"title": "Lamp"`)
}
