// cmd/server/server_test.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/valpere/ScrapeMend/internal/config"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/utils"
	"github.com/valpere/ScrapeMend/pkg/api"
)

const catalog = `<html><body>
<div class="card"><h2 class="title">Lamp</h2><span class="price">19.99</span></div>
<div class="card"><h2 class="title">Desk</h2><span class="price">120</span></div>
</body></html>`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Resolver.MaxRetries = 1
	cfg.Storage = storage.Config{Driver: storage.DriverMemory}
	cfg.Template = organizer.Template{
		Name: "product",
		Fields: []organizer.FieldRequest{
			{Name: "title", Address: "#product-title"},
		},
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, limiter *utils.RateLimiter, apiKey string) (*server, *httptest.Server) {
	t.Helper()
	logger := utils.NewNopLogger()
	client, err := api.New(context.Background(), cfg, api.WithLogger(logger))
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	s := newServer(client, logger, limiter, apiKey)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(func() {
		ts.Close()
		s.current().Close()
	})
	return s, ts
}

func postJSON(t *testing.T, target string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	resp, err := http.Post(target, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["status"]; got != "healthy" {
		t.Errorf("expected healthy status, got %v", got)
	}
}

func TestExtractHealsTemplateField(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")

	resp := postJSON(t, ts.URL+"/api/v1/extract", map[string]interface{}{
		"html": `<html><body><h1 id="product-titles">Lamp</h1></body></html>`,
	})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status 200, got %d. Body: %s", resp.StatusCode, body)
	}
	fields, ok := decodeBody(t, resp)["fields"].(map[string]interface{})
	if !ok {
		t.Fatal("expected fields object in response")
	}
	if fields["title"] != "Lamp" {
		t.Errorf("expected healed title 'Lamp', got %v", fields["title"])
	}

	memResp, err := http.Get(ts.URL + "/api/v1/memory")
	if err != nil {
		t.Fatalf("memory request failed: %v", err)
	}
	defer memResp.Body.Close()
	stats := decodeBody(t, memResp)["stats"].(map[string]interface{})
	if stats["learned_count"] != float64(1) {
		t.Errorf("expected one learned mapping, got %v", stats["learned_count"])
	}
}

func TestExtractRows(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")

	resp := postJSON(t, ts.URL+"/api/v1/extract", map[string]interface{}{
		"html": catalog,
		"rows": true,
		"fields": []map[string]interface{}{
			{"name": "title", "address": ".title"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	// ad hoc fields take precedence over rows
	body := decodeBody(t, resp)
	if _, ok := body["fields"]; !ok {
		t.Errorf("expected a field result, got %v", body)
	}
}

func TestExtractTemplateRows(t *testing.T) {
	cfg := testConfig()
	cfg.Template = organizer.Template{
		Name:      "product",
		Container: ".card",
		Fields:    []organizer.FieldRequest{{Name: "title", Address: ".title"}},
	}
	_, ts := newTestServer(t, cfg, nil, "")

	resp := postJSON(t, ts.URL+"/api/v1/extract", map[string]interface{}{"html": catalog})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if got := decodeBody(t, resp)["count"]; got != float64(2) {
		t.Errorf("expected 2 items, got %v", got)
	}
}

func TestExtractBadRequests(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing html", map[string]interface{}{}},
		{"invalid field", map[string]interface{}{
			"html":   catalog,
			"fields": []map[string]interface{}{{"name": "title", "address": "div[["}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/extract", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", resp.StatusCode)
			}
		})
	}

	resp, err := http.Post(ts.URL+"/api/v1/extract", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400 for malformed JSON, got %d", resp.StatusCode)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")

	resp := postJSON(t, ts.URL+"/api/v1/analyze", map[string]interface{}{"html": catalog})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if _, ok := decodeBody(t, resp)["statistics"]; !ok {
		t.Error("expected statistics in analysis")
	}
}

func TestForgetEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")
	postJSON(t, ts.URL+"/api/v1/extract", map[string]interface{}{
		"html": `<html><body><h1 id="product-titles">Lamp</h1></body></html>`,
	})

	forget := func(address string) int {
		target := ts.URL + "/api/v1/memory"
		if address != "" {
			target += "?address=" + url.QueryEscape(address)
		}
		req, _ := http.NewRequest(http.MethodDelete, target, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := forget("#product-title"); got != http.StatusNoContent {
		t.Errorf("expected 204, got %d", got)
	}
	if got := forget("#product-title"); got != http.StatusNotFound {
		t.Errorf("expected 404 for a forgotten address, got %d", got)
	}
	if got := forget(""); got != http.StatusNoContent {
		t.Errorf("expected 204 for reset, got %d", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "")
	postJSON(t, ts.URL+"/api/v1/analyze", map[string]interface{}{"html": catalog})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "scrapemend_") {
		t.Errorf("expected scrapemend metrics, got: %s", body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), nil, "valid_api_key_123")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid key", "Bearer valid_api_key_123", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/memory", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should not require auth, got %d", resp.StatusCode)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), utils.NewRateLimiter(0.001, 2), "")

	var limited bool
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/memory")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected rate limiting to trigger")
	}
}

func TestReloadSwapsClient(t *testing.T) {
	s, ts := newTestServer(t, testConfig(), nil, "")
	before := s.current()

	cfg := testConfig()
	cfg.Template = organizer.Template{
		Name:      "product",
		Container: ".card",
		Fields:    []organizer.FieldRequest{{Name: "title", Address: ".title"}},
	}
	s.reload(cfg)
	if s.current() == before {
		t.Fatal("expected a new client after reload")
	}

	resp := postJSON(t, ts.URL+"/api/v1/extract", map[string]interface{}{"html": catalog})
	if got := decodeBody(t, resp)["count"]; got != float64(2) {
		t.Errorf("expected the reloaded template to extract 2 items, got %v", got)
	}

	invalid := testConfig()
	invalid.Output.Format = "pdf"
	current := s.current()
	s.reload(invalid)
	if s.current() != current {
		t.Error("invalid configuration should not replace the client")
	}
}
