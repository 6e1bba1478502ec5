package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Reason categorizes why a provider request failed, driving retry decisions.
type Reason string

const (
	// ReasonRateLimit indicates throttling (HTTP 429).
	ReasonRateLimit Reason = "rate_limited"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth Reason = "auth"

	// ReasonTimeout indicates the request ran past its deadline.
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates provider-side failure (HTTP 5xx).
	ReasonServerError Reason = "server_error"

	// ReasonConnection indicates the provider could not be reached.
	ReasonConnection Reason = "connection"

	// ReasonInvalidRequest indicates a malformed request (HTTP 400).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelUnavailable indicates the requested model does not exist.
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonUnknown is the unclassified default.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonConnection:
		return true
	default:
		return false
	}
}

// Error is a structured provider failure. It carries enough context for
// retry logic and for the trajectory record.
type Error struct {
	Reason   Reason
	Provider string
	Model    string
	Status   int
	Code     string
	Message  string

	// RetryAfter is the provider-suggested wait before retrying.
	// Zero when the provider gave no hint.
	RetryAfter time.Duration

	Cause error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError wraps a raw SDK error, classifying it from its message.
func NewError(provider, model string, cause error) *Error {
	err := &Error{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = Classify(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	if r := classifyStatus(status); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

// WithCode records the provider-specific error code and reclassifies
// when the code is recognized.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	if r := classifyCode(code); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

// WithRetryAfter records the provider's suggested retry delay.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Classify inspects an error's message and returns the matching Reason.
func Classify(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context deadline"):
		return ReasonTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ReasonRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid_api_key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return ReasonAuth
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return ReasonConnection
	case strings.Contains(msg, "model not found"),
		strings.Contains(msg, "model_not_found"),
		strings.Contains(msg, "does not exist"):
		return ReasonModelUnavailable
	case strings.Contains(msg, "internal server"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyStatus(status int) Reason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

func classifyCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return ReasonAuth
	case "not_found_error", "model_not_found":
		return ReasonModelUnavailable
	case "api_error", "overloaded_error", "server_error", "internal_error":
		return ReasonServerError
	case "invalid_request_error":
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable reports whether an error, structured or raw, is worth
// retrying.
func IsRetryable(err error) bool {
	if perr, ok := AsError(err); ok {
		return perr.Reason.IsRetryable()
	}
	return Classify(err).IsRetryable()
}
