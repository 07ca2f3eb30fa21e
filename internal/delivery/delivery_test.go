package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	reterr "github.com/valpere/ScrapeMend/internal/errors"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

func testConfig(endpoint string) Config {
	return Config{
		Endpoint: endpoint,
		Timeout:  2 * time.Second,
		Retry: reterr.RetryConfig{
			MaxRetries:    2,
			BaseDelay:     time.Millisecond,
			BackoffFactor: 2,
			MaxDelay:      5 * time.Millisecond,
		},
		Breaker: reterr.CircuitBreakerConfig{MaxFailures: 10, ResetTimeout: time.Minute},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSend_Success(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "stored",
			"data":    map[string]int{"rows": 2},
		})
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.AuthToken = "secret"
	cfg.Source = "catalog"
	rec := telemetry.NewRecorder(telemetry.Config{}, nil)
	c := NewClient(cfg, rec, nil)

	started := time.Now().Add(-time.Minute)
	env := c.NewEnvelope(started, map[string]int{"fields": 2}, map[string]string{"title": "Lamp"})
	resp, err := c.Send(context.Background(), env)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "stored", resp.Message)
	assert.JSONEq(t, `{"rows":2}`, string(resp.Data))

	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, "catalog", got.Source)
	assert.Equal(t, map[string]interface{}{"title": "Lamp"}, got.Data)

	st := rec.Stats(telemetry.KindDeliver)
	assert.Equal(t, 1, st.Successes)
}

func TestSend_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil, nil)
	resp, err := c.Send(context.Background(), Envelope{Data: "x"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestSend_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Language = "fr"
	rec := telemetry.NewRecorder(telemetry.Config{}, nil)
	c := NewClient(cfg, rec, nil)

	_, err := c.Send(context.Background(), Envelope{Data: "x"})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, utils.ErrorCode("HTTP_400"), de.Code)
	assert.Equal(t, http.StatusBadRequest, de.StatusCode)
	assert.Contains(t, de.Technical, "bad payload")
	assert.Equal(t, "Le serveur a refusé les résultats (HTTP 400).", de.Localized)
	assert.False(t, de.Retryable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	st := rec.Stats(telemetry.KindDeliver)
	assert.Equal(t, 1, st.Failures)
}

func TestSend_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": "duplicate run"})
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), nil, nil).Send(context.Background(), Envelope{})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, utils.ErrCodeDeliveryFailed, de.Code)
	assert.Equal(t, "The server did not accept the results: duplicate run", de.Localized)
}

func TestSend_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.Language = "uk"
	_, err := NewClient(cfg, nil, nil).Send(context.Background(), Envelope{})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, utils.ErrCodeNetworkError, de.Code)
	assert.True(t, de.Retryable())
	assert.Equal(t, "Не вдалося надіслати результати. Перевірте з'єднання.", de.Localized)
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	cfg.Retry.MaxRetries = 0
	cfg.Language = "es"
	_, err := NewClient(cfg, nil, nil).Send(context.Background(), Envelope{})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, utils.ErrCodeTimeout, de.Code)
	assert.Equal(t, "El envío de los resultados agotó el tiempo de espera.", de.Localized)
}

func TestSend_CircuitOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.MaxRetries = 0
	cfg.Breaker = reterr.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute}
	c := NewClient(cfg, nil, nil)

	for i := 0; i < 2; i++ {
		_, err := c.Send(context.Background(), Envelope{})
		require.Error(t, err)
	}
	assert.Equal(t, reterr.CircuitOpen, c.Breaker())

	_, err := c.Send(context.Background(), Envelope{})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	assert.True(t, errors.Is(err, reterr.ErrCircuitOpen))
	assert.Equal(t, "Sending is paused after repeated failures. Try again later.", de.Localized)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSend_NoEndpoint(t *testing.T) {
	_, err := NewClient(Config{}, nil, nil).Send(context.Background(), Envelope{})
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestPrinterFor(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"", "Sending the results timed out."},
		{"en-GB", "Sending the results timed out."},
		{"fr-CA", "L'envoi des résultats a expiré."},
		{"de", "Sending the results timed out."},
		{"not a tag", "Sending the results timed out."},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			assert.Equal(t, tt.want, printerFor(tt.lang).Sprintf(msgTimeout))
		})
	}
}
