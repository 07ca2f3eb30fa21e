// Package utils provides logging, structured errors and small helpers
// shared by the ScrapeMend packages.
package utils

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns string representation of error severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode represents predefined error codes for categorization
type ErrorCode string

const (
	// Extraction path
	ErrCodeResolutionFailed ErrorCode = "RESOLUTION_FAILED"
	ErrCodeInvalidAddress   ErrorCode = "INVALID_ADDRESS"
	ErrCodeValidation       ErrorCode = "VALIDATION_FAILED"

	// Side channels
	ErrCodeStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrCodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout        ErrorCode = "TIMEOUT"
	ErrCodeBrowserFailed  ErrorCode = "BROWSER_FAILED"
	ErrCodeOutputFailed   ErrorCode = "OUTPUT_FAILED"

	// Configuration
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Sessions
	ErrCodeSessionActive   ErrorCode = "SESSION_ACTIVE"
	ErrCodeContextCanceled ErrorCode = "CONTEXT_CANCELED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknown  ErrorCode = "UNKNOWN_ERROR"
)

// HTTPErrorCode derives a delivery error code from an HTTP status.
func HTTPErrorCode(status int) ErrorCode {
	return ErrorCode(fmt.Sprintf("HTTP_%d", status))
}

// StructuredError provides rich error information for better debugging and handling
type StructuredError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Severity    ErrorSeverity          `json:"severity"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	Timestamp   time.Time              `json:"timestamp"`
	StackTrace  []string               `json:"stack_trace,omitempty"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message,omitempty"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches a target error code
func (e *StructuredError) Is(target error) bool {
	if se, ok := target.(*StructuredError); ok {
		return e.Code == se.Code
	}
	return false
}

// ErrorBuilder provides a fluent interface for creating structured errors
type ErrorBuilder struct {
	error *StructuredError
}

// NewError creates a new error builder
func NewError(code ErrorCode, message string) *ErrorBuilder {
	return &ErrorBuilder{
		error: &StructuredError{
			Code:      code,
			Message:   message,
			Severity:  SeverityError,
			Timestamp: time.Now(),
		},
	}
}

// WithSeverity sets the error severity
func (eb *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	eb.error.Severity = severity
	return eb
}

// WithCause sets the underlying cause
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.error.Cause = cause
	return eb
}

// WithContext adds contextual information
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	if eb.error.Context == nil {
		eb.error.Context = make(map[string]interface{})
	}
	eb.error.Context[key] = value
	return eb
}

// WithRetryable marks the error as retryable
func (eb *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	eb.error.Retryable = retryable
	return eb
}

// WithUserMessage sets a user-friendly message
func (eb *ErrorBuilder) WithUserMessage(message string) *ErrorBuilder {
	eb.error.UserMessage = message
	return eb
}

// WithStackTrace captures the caller's stack, depth frames deep.
func (eb *ErrorBuilder) WithStackTrace(depth int) *ErrorBuilder {
	eb.error.StackTrace = captureStackTrace(depth)
	return eb
}

// Build returns the constructed error
func (eb *ErrorBuilder) Build() *StructuredError {
	return eb.error
}

// WrapError wraps an existing error in a structured error
func WrapError(err error, code ErrorCode, message string) *StructuredError {
	return NewError(code, message).WithCause(err).Build()
}

// CodeOf returns the code of the first StructuredError in err's chain.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeUnknown
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Retryable
	}

	errorStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"503 service unavailable",
		"502 bad gateway",
		"504 gateway timeout",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errorStr, pattern) {
			return true
		}
	}
	return false
}

// GetUserFriendlyMessage extracts a user-friendly message from an error
func GetUserFriendlyMessage(err error) string {
	var se *StructuredError
	if !errors.As(err, &se) {
		return "An error occurred. Please try again."
	}
	if se.UserMessage != "" {
		return se.UserMessage
	}

	switch se.Code {
	case ErrCodeResolutionFailed:
		return "Unable to find the requested element on the page. The page structure may have changed."
	case ErrCodeInvalidAddress:
		return "The selector is not valid."
	case ErrCodeDeliveryFailed, ErrCodeNetworkError:
		return "Results could not be sent to the dashboard. Check the endpoint and your connection."
	case ErrCodeTimeout:
		return "The request timed out. Please try again."
	case ErrCodeStorageFailed:
		return "Learned selectors could not be saved. Extraction still works for this session."
	case ErrCodeOutputFailed:
		return "Failed to save the results. Please check file permissions and available disk space."
	case ErrCodeSessionActive:
		return "A collection session is already running."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

func captureStackTrace(depth int) []string {
	if depth <= 0 {
		return nil
	}
	stack := make([]string, 0, depth)
	for i := 2; len(stack) < depth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		name := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = shortenFuncName(fn.Name())
		}
		stack = append(stack, fmt.Sprintf("%s:%d (%s)", shortenFilePath(file), line, name))
	}
	return stack
}

// shortenFilePath keeps only the last two path components
func shortenFilePath(filePath string) string {
	parts := strings.Split(filePath, "/")
	if len(parts) > 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return filePath
}

func shortenFuncName(funcName string) string {
	parts := strings.Split(funcName, "/")
	last := parts[len(parts)-1]
	if dot := strings.LastIndex(last, "."); dot != -1 && dot < len(last)-1 {
		return last[dot+1:]
	}
	return last
}
