package llm

import (
	"errors"
	"fmt"
)

// ErrorKind represents different categories of provider errors. Callers
// decide what to do with a retryable kind; no retrying happens here.
type ErrorKind int8

const (
	// Retryable error kinds.

	// ErrorKindNetwork represents connectivity failures (timeout, EOF, connection reset, 5xx).
	ErrorKindNetwork ErrorKind = iota
	// ErrorKindRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorKindRateLimit

	// Non-retryable error kinds.

	// ErrorKindMalformed represents an unparseable or structurally invalid provider response.
	ErrorKindMalformed
	// ErrorKindAuth represents authentication errors (401/403, bad API key).
	ErrorKindAuth
	// ErrorKindUnknown represents default for unclassified errors.
	ErrorKindUnknown
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNetwork:
		return "network"
	case ErrorKindRateLimit:
		return "rate_limit"
	case ErrorKindMalformed:
		return "malformed"
	case ErrorKindAuth:
		return "auth"
	case ErrorKindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// ProviderError represents a classified provider error.
type ProviderError struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Provider   string    // Backend that produced the error
	Kind       ErrorKind // Classified error kind
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider error (%s/%s): %s", e.Provider, e.Kind.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider error (%s/%s): %v", e.Provider, e.Kind.String(), e.Err)
	}
	return fmt.Sprintf("provider error (%s/%s): status %d", e.Provider, e.Kind.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error kind should be retried.
func (e *ProviderError) IsRetryable() bool {
	switch e.Kind {
	case ErrorKindNetwork, ErrorKindRateLimit:
		return true
	default:
		return false
	}
}

// IsKind checks if an error is a provider error of a specific kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// KindOf returns the error kind of an error, or ErrorKindUnknown if not classified.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindUnknown
}

// NewProviderError creates a new classified provider error.
func NewProviderError(provider string, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  message,
	}
}

// WrapProviderError creates a new classified provider error wrapping another error.
func WrapProviderError(provider string, kind ErrorKind, cause error, message string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Err:      cause,
		Message:  message,
	}
}
