// Package delivery posts extraction results to a remote collection endpoint.
package delivery

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/valpere/ScrapeMend/internal/errors"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
)

var ErrNoEndpoint = stderrors.New("delivery endpoint is not configured")

// Config configures the delivery client.
type Config struct {
	Endpoint  string                      `yaml:"endpoint" json:"endpoint"`
	Source    string                      `yaml:"source" json:"source"`
	Timeout   time.Duration               `yaml:"timeout" json:"timeout"`
	RateLimit float64                     `yaml:"rate_limit" json:"rate_limit"`
	Burst     int                         `yaml:"burst" json:"burst"`
	Language  string                      `yaml:"language" json:"language"`
	AuthToken string                      `yaml:"auth_token,omitempty" json:"-"`
	Headers   map[string]string           `yaml:"headers,omitempty" json:"headers,omitempty"`
	Retry     errors.RetryConfig          `yaml:"retry" json:"retry"`
	Breaker   errors.CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// DefaultConfig returns the settings used for unset fields.
func DefaultConfig() Config {
	return Config{
		Source:    "scrapemend",
		Timeout:   30 * time.Second,
		RateLimit: 2,
		Burst:     1,
		Language:  "en",
		Retry:     errors.DefaultRetryConfig(),
		Breaker:   errors.DefaultCircuitBreakerConfig(),
	}
}

// Envelope wraps a payload with its run metadata.
type Envelope struct {
	ID          string      `json:"id"`
	Source      string      `json:"source"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
	Statistics  interface{} `json:"statistics,omitempty"`
	Data        interface{} `json:"data"`
}

// Response is the endpoint's reply.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DeliveryError is a failed send. Code is HTTP_<status>, NETWORK_ERROR,
// TIMEOUT or DELIVERY_FAILED.
type DeliveryError struct {
	Code       utils.ErrorCode `json:"code"`
	StatusCode int             `json:"status_code,omitempty"`
	Technical  string          `json:"technical"`
	Localized  string          `json:"localized"`
	Err        error           `json:"-"`
}

func (e *DeliveryError) Error() string {
	return e.Technical
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether sending again may succeed.
func (e *DeliveryError) Retryable() bool {
	switch e.Code {
	case utils.ErrCodeNetworkError, utils.ErrCodeTimeout:
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client sends envelopes to one endpoint.
type Client struct {
	config   Config
	http     *resty.Client
	service  *errors.Service
	limiter  *utils.RateLimiter
	recorder *telemetry.Recorder
	logger   utils.Logger
}

// NewClient creates a delivery client. recorder and logger may be nil.
func NewClient(config Config, recorder *telemetry.Recorder, logger utils.Logger) *Client {
	def := DefaultConfig()
	if config.Source == "" {
		config.Source = def.Source
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Language == "" {
		config.Language = def.Language
	}

	h := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", "ScrapeMend/"+utils.Version).
		SetHeader("Accept", "application/json")
	for k, v := range config.Headers {
		h.SetHeader(k, v)
	}
	if config.AuthToken != "" {
		h.SetAuthToken(config.AuthToken)
	}

	return &Client{
		config:   config,
		http:     h,
		service:  errors.NewService(config.Retry, config.Breaker),
		limiter:  utils.NewRateLimiter(config.RateLimit, config.Burst),
		recorder: recorder,
		logger:   utils.OrNop(logger).WithField("component", "delivery"),
	}
}

// NewEnvelope stamps data with a fresh ID and the client's source tag.
func (c *Client) NewEnvelope(startedAt time.Time, statistics, data interface{}) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		Source:      c.config.Source,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Statistics:  statistics,
		Data:        data,
	}
}

// Send posts env to the endpoint. Transient failures are retried with
// backoff behind a circuit breaker; the returned error is a *DeliveryError
// unless ctx ended first.
func (c *Client) Send(ctx context.Context, env Envelope) (resp *Response, err error) {
	if c.config.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Source == "" {
		env.Source = c.config.Source
	}
	if env.CompletedAt.IsZero() {
		env.CompletedAt = time.Now()
	}

	op := c.recorder.Begin(telemetry.KindDeliver, c.config.Endpoint)
	defer func() { op.End(err == nil, err) }()

	printer := printerFor(c.config.Language)
	attempts := 0
	err = c.service.Execute(ctx, "deliver:"+c.config.Endpoint, func() error {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}
		attempts++
		r, serr := c.post(ctx, env)
		if serr != nil {
			return serr
		}
		resp = r
		return nil
	})
	if err == nil {
		c.logger.WithFields(map[string]interface{}{
			"envelope": env.ID,
			"attempts": attempts,
		}).Debug("results delivered")
		return resp, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var de *DeliveryError
	if !stderrors.As(err, &de) {
		de = &DeliveryError{Code: utils.ErrCodeDeliveryFailed, Technical: err.Error(), Err: err}
		if stderrors.Is(err, errors.ErrCircuitOpen) {
			de.Localized = printer.Sprintf(msgPaused)
		} else {
			de.Localized = printer.Sprintf(msgNetwork)
		}
	}
	c.logger.WithFields(map[string]interface{}{
		"envelope": env.ID,
		"endpoint": c.config.Endpoint,
		"code":     string(de.Code),
		"attempts": attempts,
	}).Errorf("delivery failed: %s", de.Technical)
	return nil, de
}

func (c *Client) post(ctx context.Context, env Envelope) (*Response, error) {
	printer := printerFor(c.config.Language)

	r, err := c.http.R().
		SetContext(ctx).
		SetBody(env).
		Post(c.config.Endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyTransport(err, c.config.Endpoint, printer.Sprintf(msgTimeout), printer.Sprintf(msgNetwork))
	}

	if r.IsError() || r.StatusCode() < 200 || r.StatusCode() > 299 {
		status := r.StatusCode()
		return nil, &DeliveryError{
			Code:       utils.HTTPErrorCode(status),
			StatusCode: status,
			Technical:  fmt.Sprintf("delivery to %s failed: HTTP %d: %s", c.config.Endpoint, status, snippet(r.Body())),
			Localized:  printer.Sprintf(msgHTTP, status),
		}
	}

	out := &Response{Success: true}
	if body := r.Body(); len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, &DeliveryError{
				Code:       utils.ErrCodeDeliveryFailed,
				StatusCode: r.StatusCode(),
				Technical:  fmt.Sprintf("delivery to %s: malformed response: %v", c.config.Endpoint, err),
				Localized:  printer.Sprintf(msgRejected, "invalid response"),
				Err:        err,
			}
		}
	}
	if !out.Success {
		return nil, &DeliveryError{
			Code:       utils.ErrCodeDeliveryFailed,
			StatusCode: r.StatusCode(),
			Technical:  fmt.Sprintf("delivery to %s rejected: %s", c.config.Endpoint, out.Message),
			Localized:  printer.Sprintf(msgRejected, out.Message),
		}
	}
	return out, nil
}

func classifyTransport(err error, endpoint, timeoutMsg, networkMsg string) *DeliveryError {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		return &DeliveryError{
			Code:      utils.ErrCodeTimeout,
			Technical: fmt.Sprintf("delivery to %s timed out: %v", endpoint, err),
			Localized: timeoutMsg,
			Err:       err,
		}
	}
	return &DeliveryError{
		Code:      utils.ErrCodeNetworkError,
		Technical: fmt.Sprintf("delivery to %s failed: %v", endpoint, err),
		Localized: networkMsg,
		Err:       err,
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// Breaker reports the circuit state for the configured endpoint.
func (c *Client) Breaker() errors.CircuitBreakerState {
	return c.service.CircuitState("deliver:" + c.config.Endpoint)
}
