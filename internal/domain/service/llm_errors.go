package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LLMErrorKind classifies provider errors for retry and reporting decisions.
type LLMErrorKind int

const (
	// ErrKindTransient means the error is temporary and retrying may succeed.
	// Examples: timeout, network reset, 429, 502/503/504.
	ErrKindTransient LLMErrorKind = iota

	// ErrKindAuth means authentication or authorization failed.
	// Examples: invalid API key, 401/403.
	ErrKindAuth

	// ErrKindBadRequest means the request itself is malformed.
	// Examples: invalid argument, model not found, 400.
	ErrKindBadRequest

	// ErrKindContentFilter means the request was blocked by content policy.
	ErrKindContentFilter

	// ErrKindBusiness means the provider accepted the HTTP call but
	// returned an application-level failure (e.g. base_resp.status_code != 0).
	ErrKindBusiness

	// ErrKindCancelled means the request was explicitly cancelled.
	ErrKindCancelled
)

// String returns a human-readable label for the error kind.
func (k LLMErrorKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindAuth:
		return "auth"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindContentFilter:
		return "content_filter"
	case ErrKindBusiness:
		return "business"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns true if this error kind should be retried.
func (k LLMErrorKind) IsRetryable() bool {
	return k == ErrKindTransient
}

// 远程响应快照的最大长度
const snapshotMaxLen = 200

// LLMError is a structured error from a provider operation.
// It carries the provider tag, model and a truncated snapshot of the
// remote response so callers can log/report without re-reading bodies.
type LLMError struct {
	Kind       LLMErrorKind  // Classification of the error
	Message    string        // Human-readable description
	StatusCode int           // HTTP status code if applicable (0 if unknown)
	Provider   string        // Provider tag that generated the error
	Model      string        // Model that was being used
	Snapshot   string        // Truncated remote response body
	RetryAfter time.Duration // Hint from the Retry-After header, 0 if absent
	Cause      error         // Original underlying error
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s/%s: %s", e.Kind, e.Provider, e.Model, e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Snapshot != "" {
		fmt.Fprintf(&b, ": %s", e.Snapshot)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *LLMError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if this error should be retried.
func (e *LLMError) IsRetryable() bool {
	return e.Kind.IsRetryable()
}

// TruncateSnapshot clips a remote response body for embedding in errors.
func TruncateSnapshot(body string) string {
	body = strings.TrimSpace(body)
	if runes := []rune(body); len(runes) > snapshotMaxLen {
		return string(runes[:snapshotMaxLen])
	}
	return body
}

// NewHTTPError builds a classified LLMError from an HTTP status and body.
func NewHTTPError(provider, model string, status int, body string, retryAfter time.Duration) *LLMError {
	e := &LLMError{
		StatusCode: status,
		Provider:   provider,
		Model:      model,
		Snapshot:   TruncateSnapshot(body),
		RetryAfter: retryAfter,
	}
	switch {
	case status == 401 || status == 403:
		e.Kind = ErrKindAuth
		e.Message = "authentication failed"
	case status == 400 || status == 404 || status == 422:
		e.Kind = ErrKindBadRequest
		e.Message = "invalid request"
	case status == 429:
		e.Kind = ErrKindTransient
		e.Message = "rate limited"
	case status >= 500:
		e.Kind = ErrKindTransient
		e.Message = "server error"
	default:
		e.Kind = ErrKindTransient
		e.Message = fmt.Sprintf("unexpected status %d", status)
	}
	return e
}

// ClassifyError examines an error and returns a classified LLMError.
// If the error is already an *LLMError, it is returned as-is.
// Otherwise, the error string is pattern-matched against known categories.
func ClassifyError(err error, provider, model string) *LLMError {
	if err == nil {
		return nil
	}

	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &LLMError{
			Kind:     ErrKindCancelled,
			Message:  "request cancelled",
			Provider: provider,
			Model:    model,
			Cause:    err,
		}
	}

	errStr := strings.ToLower(err.Error())

	authPatterns := []string{"unauthorized", "invalid api key", "401", "403", "authentication", "permission denied"}
	for _, p := range authPatterns {
		if strings.Contains(errStr, p) {
			return &LLMError{
				Kind:     ErrKindAuth,
				Message:  "authentication failed",
				Provider: provider,
				Model:    model,
				Cause:    err,
			}
		}
	}

	filterPatterns := []string{"content filter", "content policy", "content_filter", "safety"}
	for _, p := range filterPatterns {
		if strings.Contains(errStr, p) {
			return &LLMError{
				Kind:     ErrKindContentFilter,
				Message:  "content filtered",
				Provider: provider,
				Model:    model,
				Cause:    err,
			}
		}
	}

	badReqPatterns := []string{"bad request", "invalid argument", "model not found", "400", "invalid_request"}
	for _, p := range badReqPatterns {
		if strings.Contains(errStr, p) {
			return &LLMError{
				Kind:     ErrKindBadRequest,
				Message:  "invalid request",
				Provider: provider,
				Model:    model,
				Cause:    err,
			}
		}
	}

	// Default: transient (retryable)
	return &LLMError{
		Kind:     ErrKindTransient,
		Message:  "transient error",
		Provider: provider,
		Model:    model,
		Cause:    err,
	}
}
