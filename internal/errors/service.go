// Package errors provides retry with backoff, per-operation circuit breakers
// and user-facing error messages for the CLI and service.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/valpere/ScrapeMend/internal/utils"
)

// ErrCircuitOpen is returned when an operation's circuit breaker rejects a call.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// Service provides retry and circuit breaking for outbound operations.
type Service struct {
	retryConfig     RetryConfig
	breakerConfig   CircuitBreakerConfig
	showTechnical   bool
	circuitBreakers map[string]*CircuitBreaker
	mu              sync.RWMutex
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling an operation after repeated failures until
// the reset timeout has passed.
type CircuitBreaker struct {
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	mu              sync.RWMutex
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// DefaultCircuitBreakerConfig opens after 5 failures and retries after a minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute}
}

// NewService creates a service with the given retry and breaker settings.
// Zero values fall back to the defaults.
func NewService(retry RetryConfig, breaker CircuitBreakerConfig) *Service {
	def := DefaultRetryConfig()
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = def.BaseDelay
	}
	if retry.BackoffFactor < 1 {
		retry.BackoffFactor = def.BackoffFactor
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = def.MaxDelay
	}
	defBreaker := DefaultCircuitBreakerConfig()
	if breaker.MaxFailures <= 0 {
		breaker.MaxFailures = defBreaker.MaxFailures
	}
	if breaker.ResetTimeout <= 0 {
		breaker.ResetTimeout = defBreaker.ResetTimeout
	}
	return &Service{
		retryConfig:     retry,
		breakerConfig:   breaker,
		circuitBreakers: make(map[string]*CircuitBreaker),
	}
}

// WithVerbose enables technical error details
func (s *Service) WithVerbose(verbose bool) *Service {
	s.showTechnical = verbose
	return s
}

// ExecuteWithRetry runs operation until it succeeds, returns a permanent
// error, or the retry budget is spent. Waits between attempts back off
// exponentially and end early when ctx is done.
func (s *Service) ExecuteWithRetry(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= s.retryConfig.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !s.shouldRetry(err, attempt) {
			break
		}

		timer := time.NewTimer(s.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation %s interrupted: %w", operationName, lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// Execute runs operation behind the named circuit breaker with retries.
// Every failed attempt counts against the breaker.
func (s *Service) Execute(ctx context.Context, operationName string, operation func() error) error {
	cb := s.breaker(operationName)
	return s.ExecuteWithRetry(ctx, func() error {
		if !cb.allow(time.Now()) {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, operationName)
		}
		err := operation()
		cb.record(err, time.Now())
		return err
	}, operationName)
}

func (s *Service) breaker(operationName string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.circuitBreakers[operationName]
	if !ok {
		cb = newCircuitBreaker(s.breakerConfig)
		s.circuitBreakers[operationName] = cb
	}
	return cb
}

// ConfigureCircuitBreaker replaces the breaker for one operation, e.g. to
// give a slow endpoint a longer reset timeout.
func (s *Service) ConfigureCircuitBreaker(operationName string, config CircuitBreakerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuitBreakers[operationName] = newCircuitBreaker(config)
}

func newCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  config.MaxFailures,
		resetTimeout: config.ResetTimeout,
		state:        CircuitClosed,
	}
}

// retryable is implemented by errors that know whether they are transient.
type retryable interface {
	Retryable() bool
}

// shouldRetry determines if error is retryable
func (s *Service) shouldRetry(err error, attempt int) bool {
	if attempt >= s.retryConfig.MaxRetries {
		return false
	}
	if stderrors.Is(err, ErrCircuitOpen) || stderrors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if stderrors.As(err, &r) {
		return r.Retryable()
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return utils.IsRetryableError(err)
}

// calculateDelay computes exponential backoff delay
func (s *Service) calculateDelay(attempt int) time.Duration {
	delay := float64(s.retryConfig.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.retryConfig.BackoffFactor
		if delay > float64(s.retryConfig.MaxDelay) {
			break
		}
	}
	if d := time.Duration(delay); d < s.retryConfig.MaxDelay {
		return d
	}
	return s.retryConfig.MaxDelay
}

// GetUserFriendlyError converts technical errors to user-friendly messages
func (s *Service) GetUserFriendlyError(err error) (title, message string, suggestions []string) {
	if err == nil {
		return "", "", nil
	}

	switch utils.CodeOf(err) {
	case utils.ErrCodeResolutionFailed:
		return "Element Not Found",
			"No element matched the address, even after healing.",
			[]string{
				"Check the address against the current page",
				"Lower the confidence floor to accept weaker matches",
				"Enable fallback healing in the resolver section",
			}
	case utils.ErrCodeInvalidAddress:
		return "Invalid Address",
			"The CSS selector or XPath expression could not be parsed.",
			[]string{
				"Check brackets and quotes in the address",
				"XPath addresses must start with / or (",
			}
	case utils.ErrCodeStorageFailed:
		return "Memory Not Saved",
			"Learned addresses could not be persisted. Extraction still works for this run.",
			[]string{
				"Check the storage driver and DSN",
				"Verify the storage directory is writable",
			}
	case utils.ErrCodeSessionActive:
		return "Collection Running",
			"A collection session is already active.",
			[]string{"Stop the running session before starting another"}
	}

	errStr := strings.ToLower(err.Error())

	if stderrors.Is(err, ErrCircuitOpen) {
		return "Endpoint Paused",
			"Delivery was paused after repeated failures.",
			[]string{
				"Check that the delivery endpoint is up",
				"Wait for the breaker reset timeout and try again",
			}
	}

	if strings.Contains(errStr, "timeout") || stderrors.Is(err, context.DeadlineExceeded) {
		return "Connection Timeout",
			"The request timed out.",
			[]string{
				"Check your internet connection",
				"Increase the timeout in configuration",
				"The endpoint might be slow or experiencing issues",
			}
	}

	if strings.Contains(errStr, "no such host") {
		return "Domain Not Found",
			"Could not resolve the host name.",
			[]string{
				"Check if the URL is spelled correctly",
				"Check your DNS settings",
			}
	}

	if strings.Contains(errStr, "connection refused") {
		return "Connection Refused",
			"The server refused the connection.",
			[]string{
				"Check if the server is running",
				"Verify the port in the endpoint URL",
			}
	}

	if strings.Contains(errStr, "yaml") {
		return "Configuration Error",
			"The configuration file has invalid YAML syntax.",
			[]string{
				"Check YAML indentation (use spaces, not tabs)",
				"Ensure proper quoting of string values",
			}
	}

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return "Rate Limit Exceeded",
			"The endpoint is rejecting requests because they arrive too quickly.",
			[]string{"Lower delivery.rate_limit in configuration"}
	}

	return "Unexpected Error",
		"An unexpected error occurred during the operation.",
		[]string{
			"Try running the command again",
			"Run with --verbose for technical details",
		}
}

// GetExitCode returns appropriate exit code for error
func (s *Service) GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	switch utils.CodeOf(err) {
	case utils.ErrCodeInvalidConfig:
		return 2
	case utils.ErrCodeNetworkError, utils.ErrCodeTimeout:
		return 3
	case utils.ErrCodeResolutionFailed, utils.ErrCodeInvalidAddress:
		return 4
	case utils.ErrCodeOutputFailed:
		return 5
	case utils.ErrCodeValidation:
		return 6
	case utils.ErrCodeDeliveryFailed:
		return 7
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "config") || strings.Contains(errStr, "yaml"):
		return 2
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") || strings.Contains(errStr, "host"):
		return 3
	case strings.Contains(errStr, "selector") || strings.Contains(errStr, "address"):
		return 4
	case strings.Contains(errStr, "output") || strings.Contains(errStr, "write"):
		return 5
	case strings.Contains(errStr, "validation"):
		return 6
	case strings.Contains(errStr, "deliver"):
		return 7
	default:
		return 1
	}
}

// FormatErrorForCLI formats error for command-line display
func (s *Service) FormatErrorForCLI(err error) string {
	title, message, suggestions := s.GetUserFriendlyError(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n%s\n", title, message)

	if s.showTechnical {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err.Error())
	}

	if len(suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, suggestion := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", suggestion)
		}
	}
	return b.String()
}

// allow reports whether a call may proceed. An open breaker moves to
// half-open once its reset timeout has elapsed.
func (cb *CircuitBreaker) allow(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return true
	}
	if now.Before(cb.nextAttemptTime) {
		return false
	}
	cb.state = CircuitHalfOpen
	return true
}

// record updates the breaker with the outcome of one call. A failure while
// half-open reopens the breaker immediately.
func (cb *CircuitBreaker) record(err error, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = CircuitClosed
		return
	}
	cb.failures++
	cb.lastFailureTime = now
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.nextAttemptTime = now.Add(cb.resetTimeout)
	}
}

func (cb *CircuitBreaker) stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return BreakerStats{
		State:       cb.state.String(),
		Failures:    cb.failures,
		MaxFailures: cb.maxFailures,
		LastFailure: cb.lastFailureTime,
		NextAttempt: cb.nextAttemptTime,
	}
}

// BreakerStats is a point-in-time view of one breaker.
type BreakerStats struct {
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	MaxFailures int       `json:"max_failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

// BreakerStats returns the stats of every breaker created so far, keyed by
// operation name.
func (s *Service) BreakerStats() map[string]BreakerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]BreakerStats, len(s.circuitBreakers))
	for name, cb := range s.circuitBreakers {
		out[name] = cb.stats()
	}
	return out
}

// CircuitState returns the state of the named breaker; unknown names are closed.
func (s *Service) CircuitState(operationName string) CircuitBreakerState {
	s.mu.RLock()
	cb, ok := s.circuitBreakers[operationName]
	s.mu.RUnlock()
	if !ok {
		return CircuitClosed
	}
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// ResetCircuitBreaker manually resets a circuit breaker
func (s *Service) ResetCircuitBreaker(operationName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.circuitBreakers[operationName]
	if !ok {
		return fmt.Errorf("no circuit breaker for %s", operationName)
	}
	cb.record(nil, time.Now())
	return nil
}
