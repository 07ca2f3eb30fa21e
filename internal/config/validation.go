// internal/config/validation.go - validation with detailed error messages
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/ScrapeMend/internal/healer"
	"github.com/valpere/ScrapeMend/internal/output"
	"github.com/valpere/ScrapeMend/internal/storage"
	"github.com/valpere/ScrapeMend/internal/utils"
	"golang.org/x/text/language"
)

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}

func (r *ValidationResult) fail(field, value, format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

func (r *ValidationResult) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate returns a StructuredError with code INVALID_CONFIG listing every
// problem, or nil.
func (c *Config) Validate() error {
	result := c.ValidateWithDetails()
	if len(result.Errors) > 0 {
		return formatValidationError(result)
	}
	return nil
}

// ValidateWithDetails returns all errors and warnings.
func (c *Config) ValidateWithDetails() *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   make([]ValidationError, 0),
		Warnings: make([]string, 0),
	}

	c.validateResolver(result)
	c.validateTemplate(result)
	c.validateCollector(result)
	c.validateStorage(result)
	c.validateDelivery(result)
	c.validateBrowser(result)
	c.validateOutput(result)
	c.validateTelemetry(result)
	c.validateLog(result)

	return result
}

func (c *Config) validateResolver(result *ValidationResult) {
	r := c.Resolver
	if r.MaxRetries < 0 {
		result.fail("resolver.max_retries", fmt.Sprint(r.MaxRetries), "Retry count cannot be negative")
	}
	if _, err := healer.ParseTier(r.ConfidenceFloor); err != nil {
		result.fail("resolver.confidence_floor", r.ConfidenceFloor, "Confidence floor must be low, medium or high")
	}
	if r.RetryBackoff < 0 {
		result.fail("resolver.retry_backoff", r.RetryBackoff.String(), "Retry backoff cannot be negative")
	}
	if r.HistoryCapacity < 0 {
		result.fail("resolver.history_capacity", fmt.Sprint(r.HistoryCapacity), "History capacity cannot be negative")
	}
	if r.MaxSnapshotBytes < 0 {
		result.fail("resolver.max_snapshot_bytes", fmt.Sprint(r.MaxSnapshotBytes), "Snapshot limit cannot be negative")
	}
	if r.Learn != nil && !*r.Learn {
		result.warn("Learning is disabled; healed addresses will not be remembered")
	}
}

// validateTemplate only runs when a template is present; analyze-only
// configurations carry none.
func (c *Config) validateTemplate(result *ValidationResult) {
	t := c.Template
	if t.Name == "" && len(t.Fields) == 0 && t.Container == "" {
		return
	}
	if err := t.Validate(); err != nil {
		result.fail("template", t.Name, "%s", err.Error())
	}
}

func (c *Config) validateCollector(result *ValidationResult) {
	col := c.Collector
	check := func(field string, v int) {
		if v < 0 {
			result.fail("collector."+field, fmt.Sprint(v), "Value cannot be negative")
		}
	}
	check("max_scroll_count", col.MaxScrollCount)
	check("max_no_new_data_count", col.MaxNoNewDataCount)
	check("max_consecutive_failed_scrolls", col.MaxConsecutiveFailedScrolls)
	check("stable_fingerprint_iterations", col.StableFingerprintIterations)
	check("event_buffer", col.EventBuffer)
	if col.SettleDelay < 0 {
		result.fail("collector.settle_delay", col.SettleDelay.String(), "Settle delay cannot be negative")
	}
	if col.BottomTolerance < 0 {
		result.fail("collector.bottom_tolerance", fmt.Sprint(col.BottomTolerance), "Bottom tolerance cannot be negative")
	}
	if col.MaxScrollCount > 1000 {
		result.warn("Very high max_scroll_count (%d) may keep sessions open for a long time", col.MaxScrollCount)
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	if err := c.Storage.Validate(); err != nil {
		result.fail("storage", c.Storage.Driver, "%s", err.Error())
		return
	}
	if strings.EqualFold(c.Storage.Driver, storage.DriverMemory) {
		result.warn("Memory storage loses learned mappings when the process exits")
	}
}

func (c *Config) validateDelivery(result *ValidationResult) {
	d := c.Delivery
	if d.Endpoint != "" {
		u, err := url.Parse(d.Endpoint)
		if err != nil || !utils.IsValidURL(d.Endpoint) {
			result.fail("delivery.endpoint", d.Endpoint, "Endpoint must be an absolute http(s) URL")
		} else if u.Scheme == "http" {
			result.warn("Delivering over HTTP instead of HTTPS exposes results in transit")
		}
	}
	if d.Timeout < 0 {
		result.fail("delivery.timeout", d.Timeout.String(), "Timeout cannot be negative")
	}
	if d.RateLimit < 0 {
		result.fail("delivery.rate_limit", fmt.Sprint(d.RateLimit), "Rate limit cannot be negative")
	}
	if d.Retry.MaxRetries < 0 {
		result.fail("delivery.retry.max_retries", fmt.Sprint(d.Retry.MaxRetries), "Retry count cannot be negative")
	}
	if d.Language != "" {
		if _, err := language.Parse(d.Language); err != nil {
			result.fail("delivery.language", d.Language, "Unknown language tag")
		}
	}
}

func (c *Config) validateBrowser(result *ValidationResult) {
	b := c.Browser
	if b == nil {
		return
	}
	if b.ViewportWidth < 0 || b.ViewportHeight < 0 {
		result.fail("browser.viewport", fmt.Sprintf("%dx%d", b.ViewportWidth, b.ViewportHeight), "Viewport dimensions cannot be negative")
	}
	if b.ScrollStep < 0 || b.ScrollStep > 1 {
		result.fail("browser.scroll_step", fmt.Sprint(b.ScrollStep), "Scroll step must be a fraction of the viewport between 0 and 1")
	}
	if b.Timeout < 0 {
		result.fail("browser.timeout", b.Timeout.String(), "Timeout cannot be negative")
	}
}

func (c *Config) validateOutput(result *ValidationResult) {
	if c.Output.Format == "" {
		return
	}
	if _, err := output.ParseFormat(string(c.Output.Format)); err != nil {
		var names []string
		for _, f := range output.SupportedFormats() {
			names = append(names, string(f))
		}
		result.fail("output.format", string(c.Output.Format), "Output format must be one of: %s", strings.Join(names, ", "))
	}
}

func (c *Config) validateTelemetry(result *ValidationResult) {
	t := c.Telemetry
	if t.Window < 0 {
		result.fail("telemetry.window", fmt.Sprint(t.Window), "Window cannot be negative")
	}
	if t.AlertSuccessRate < 0 || t.AlertSuccessRate > 1 {
		result.fail("telemetry.alert_success_rate", fmt.Sprint(t.AlertSuccessRate), "Alert success rate must be between 0 and 1")
	}
	if t.AlertMinSamples < 0 {
		result.fail("telemetry.alert_min_samples", fmt.Sprint(t.AlertMinSamples), "Sample count cannot be negative")
	}
}

func (c *Config) validateLog(result *ValidationResult) {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		result.fail("log.level", c.Log.Level, "Log level must be debug, info, warn or error")
	}
}

// formatValidationError renders the result as a numbered list.
func formatValidationError(result *ValidationResult) error {
	var msg strings.Builder

	msg.WriteString("configuration validation failed:\n")
	for i, err := range result.Errors {
		msg.WriteString(fmt.Sprintf("  %d. %s", i+1, err.Message))
		if err.Field != "" {
			msg.WriteString(fmt.Sprintf(" (field: %s)", err.Field))
		}
		if err.Value != "" {
			msg.WriteString(fmt.Sprintf(" (value: %s)", err.Value))
		}
		msg.WriteString("\n")
	}

	if len(result.Warnings) > 0 {
		msg.WriteString("\nWarnings:\n")
		for i, warning := range result.Warnings {
			msg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, warning))
		}
	}

	return utils.NewError(utils.ErrCodeInvalidConfig, strings.TrimRight(msg.String(), "\n")).Build()
}
