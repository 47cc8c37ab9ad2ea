package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid (validation error, never retried)
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the provider rejected the API key
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the provider throttled the key past the retry ceiling
	ErrRateLimited = errors.New("rate limited")

	// ErrProviderUnavailable indicates 5xx, network or timeout failures past the retry ceiling
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedResponse indicates the provider answered without a usable payload
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrInsufficientCredits indicates the workspace cannot afford the operation
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNoProviderKey indicates neither a workspace nor a platform key is configured
	ErrNoProviderKey = errors.New("no provider key configured")

	// ErrExtractionFailed indicates text could not be extracted from a document
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrUnsupportedSource indicates no extractor handles the document's source or mime type
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrLockHeld indicates another worker is processing the same document
	ErrLockHeld = errors.New("lock held by another worker")

	// ErrServiceUnavailable indicates a required backend is not configured
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ProviderError describes a failed call to an embedding or vision provider.
// StatusCode is zero for transport failures and timeouts.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// NewProviderError builds a ProviderError for an HTTP status.
func NewProviderError(provider string, status int, message string) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: status, Message: message}
}

// NewTransportError builds a ProviderError for a network failure or timeout.
func NewTransportError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: transport error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Kind maps the status code onto the error taxonomy.
func (e *ProviderError) Kind() error {
	switch {
	case e.StatusCode == 0:
		return ErrProviderUnavailable
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.StatusCode >= 500:
		return ErrProviderUnavailable
	default:
		return ErrInvalidInput
	}
}

// Unwrap lets errors.Is match both the taxonomy sentinel and the cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind(), e.Err}
	}
	return []error{e.Kind()}
}

// InsufficientCreditsError reports the shortfall of a reservation or deduction.
type InsufficientCreditsError struct {
	WorkspaceID string
	Required    int64
	Available   int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("workspace %s: insufficient credits: required %d, available %d",
		e.WorkspaceID, e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrMalformedResponse)
}
