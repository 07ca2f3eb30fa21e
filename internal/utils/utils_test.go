// internal/utils/utils_test.go
package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTPS://Example.COM:443/feed/", "https://example.com/feed"},
		{"http://example.com:80", "http://example.com/"},
		{"https://example.com/a?b=2&a=1#top", "https://example.com/a?a=1&b=2"},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := NormalizeURL("http://[::1")
	assert.Error(t, err)
}

func TestIsValidURL(t *testing.T) {
	assert.True(t, IsValidURL("https://example.com/feed"))
	assert.False(t, IsValidURL("ftp://example.com"))
	assert.False(t, IsValidURL("/relative/path"))
	assert.False(t, IsValidURL("https://"))
}

func TestCleanFileName(t *testing.T) {
	assert.Equal(t, "a_b_c", CleanFileName("a/b:c"))
	assert.Equal(t, "output", CleanFileName(" ... "))
	assert.Len(t, CleanFileName(string(make([]byte, 300))), 200)
}

func TestGenerateOutputFileName(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "shop.example.com_20261018_093005.csv", GenerateOutputFileName("https://shop.example.com/list", "csv", now))
	assert.Equal(t, "catalog_20261018_093005.json", GenerateOutputFileName("catalog", "json", now))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2.0m", FormatDuration(2*time.Minute))
	assert.Equal(t, "1.5h", FormatDuration(90*time.Minute))
}

func TestStructuredError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := NewError(ErrCodeDeliveryFailed, "delivery failed").
		WithCause(cause).
		WithContext("endpoint", "https://dash.example.com").
		WithRetryable(true).
		WithStackTrace(3).
		Build()

	assert.Equal(t, "DELIVERY_FAILED: delivery failed (caused by: connection reset by peer)", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &StructuredError{Code: ErrCodeDeliveryFailed}))
	assert.Equal(t, "https://dash.example.com", err.Context["endpoint"])
	assert.NotEmpty(t, err.StackTrace)

	wrapped := fmt.Errorf("send: %w", err)
	assert.Equal(t, ErrCodeDeliveryFailed, CodeOf(wrapped))
	assert.Equal(t, ErrCodeUnknown, CodeOf(cause))
	assert.True(t, IsRetryableError(wrapped))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsRetryableError(errors.New("HTTP 503 Service Unavailable")))
	assert.False(t, IsRetryableError(errors.New("invalid selector")))
	assert.False(t, IsRetryableError(NewError(ErrCodeValidation, "bad").Build()))
}

func TestGetUserFriendlyMessage(t *testing.T) {
	assert.Equal(t, "custom", GetUserFriendlyMessage(NewError(ErrCodeTimeout, "x").WithUserMessage("custom").Build()))
	assert.Contains(t, GetUserFriendlyMessage(NewError(ErrCodeResolutionFailed, "x").Build()), "page structure")
	assert.Equal(t, "An error occurred. Please try again.", GetUserFriendlyMessage(errors.New("plain")))
	assert.Equal(t, ErrorCode("HTTP_502"), HTTPErrorCode(502))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, ErrorLevel, ParseLogLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLogLevel("verbose"))
}

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	logger.WithField("address", "#title").Infof("healed %d fields", 2)
	logger.WithFields(map[string]interface{}{"strategy": "byID"}).Debug("probe")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "healed 2 fields", entries[0].Message)
	assert.Equal(t, "#title", entries[0].ContextMap()["address"])
	assert.Equal(t, "byID", entries[1].ContextMap()["strategy"])
	assert.NoError(t, logger.Sync())
}

func TestNewLoggerWithConfig(t *testing.T) {
	logger, err := NewLoggerWithConfig(LoggerConfig{Level: "debug", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	logger.Debug("ready")

	_, err = NewLoggerWithConfig(LoggerConfig{OutputPaths: []string{"/nonexistent/dir/log.txt"}})
	assert.Error(t, err)

	assert.NotNil(t, OrNop(nil))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	unlimited := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}
