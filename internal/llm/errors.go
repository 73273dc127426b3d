package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured means no credential is present; no network call was made.
	ErrNotConfigured = errors.New("llm: provider not configured")
	// ErrRateLimited means the provider is shedding load. Callers may retry later.
	ErrRateLimited = errors.New("llm: provider rate limited")
	// ErrAuthFailure means the credential was rejected.
	ErrAuthFailure = errors.New("llm: provider authentication failed")
	// ErrProviderUnavailable covers timeouts, 5xx responses and unusable replies.
	ErrProviderUnavailable = errors.New("llm: provider unavailable")
)

// ProviderError carries provider detail for a classified failure. errors.Is
// matches it against its Kind sentinel.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       error
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("llm: %s: %v", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Is(target error) bool { return target == e.Kind }

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may try the same request again later.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ErrRateLimited || e.Kind == ErrProviderUnavailable
}

// KindForStatus maps an HTTP status from a provider to a failure sentinel.
func KindForStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailure
	default:
		return ErrProviderUnavailable
	}
}

// Outcome returns a short label for err suitable for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	default:
		return "provider_unavailable"
	}
}

func isClassified(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrAuthFailure) || errors.Is(err, ErrProviderUnavailable)
}
