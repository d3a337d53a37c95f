// Package errors provides standardized error handling patterns for simkernel
// components. It includes error classification, severity grading for the
// recovery coordinator, standard error variables, and helper functions for
// consistent error wrapping across the orchestrator.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agrisim/simkernel/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Severity grades a reported subsystem error for the recovery coordinator.
// Only SeverityHigh and SeverityCritical reports trigger recovery; lower
// severities are recorded in the instance error history and nothing more.
type Severity int

const (
	// SeverityLow is informational; no recovery action
	SeverityLow Severity = iota
	// SeverityMedium is recorded but not actioned
	SeverityMedium
	// SeverityHigh triggers the recovery coordinator
	SeverityHigh
	// SeverityCritical triggers the recovery coordinator and operator logging
	SeverityCritical
)

// String returns the string representation of Severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Actionable reports whether an error of this severity should drive recovery
func (s Severity) Actionable() bool {
	return s >= SeverityHigh
}

// Standard error variables for common conditions
var (
	// Subsystem lifecycle errors
	ErrAlreadyInitialized = errors.New("orchestrator already initialized")
	ErrNotInitialized     = errors.New("orchestrator not initialized")
	ErrShuttingDown       = errors.New("orchestrator is shutting down")
	ErrUnknownSubsystem   = errors.New("unknown subsystem")
	ErrDuplicateSubsystem = errors.New("subsystem already registered")
	ErrConstructionFailed = errors.New("subsystem construction failed")

	// Routing errors, returned to callers of Router.Route as typed failures
	ErrNoRoute           = errors.New("no route declared")
	ErrRouteDisabled     = errors.New("route disabled")
	ErrValidationFailed  = errors.New("payload validation failed")
	ErrTargetUnavailable = errors.New("target subsystem unavailable")
	ErrQueueFull         = errors.New("message queue full")
	ErrRateLimited       = errors.New("route rate limit exceeded")

	// Recovery errors
	ErrRecoveryExhausted = errors.New("recovery attempts exhausted")
	ErrNoStrategy        = errors.New("no recovery strategy registered")

	// Bus errors
	ErrBusClosed     = errors.New("event bus closed")
	ErrNoConnection  = errors.New("no connection available")
	ErrPublishFailed = errors.New("event publish failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrTargetUnavailable) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	// Common transient patterns from wrapped subsystem errors
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"temporary",
		"unavailable",
		"busy",
		"retry",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrRecoveryExhausted)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrNoRoute) ||
		errors.Is(err, ErrRouteDisabled) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrUnknownSubsystem)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient // Default for nil
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// RetryConfig is the retry policy carried alongside error classification.
// Counts are additional attempts after the first, which is how operators
// think about retries; ToRetryConfig converts to the retry framework's
// total-attempt convention.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns the policy used for broker connects and
// other transient startup failures
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ToRetryConfig converts the errors package RetryConfig to the retry
// framework's Config type. The conversion adds 1 to MaxRetries (converting
// "additional attempts" to "total attempts") and enables jitter.
func (rc RetryConfig) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rc.MaxRetries + 1,
		InitialDelay: rc.InitialDelay,
		MaxDelay:     rc.MaxDelay,
		Multiplier:   rc.BackoffFactor,
		AddJitter:    true,
	}
}
