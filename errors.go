package ziya

import "fmt"

// ErrorKind is the closed taxonomy of backend and validation failures. The
// string value is the stable tag emitted in SSE error envelopes.
type ErrorKind string

const (
	ErrValidation    ErrorKind = "validation_error"
	ErrAuth          ErrorKind = "auth_error"
	ErrAccessDenied  ErrorKind = "access_denied"
	ErrThrottling    ErrorKind = "throttling_error"
	ErrQuotaExceeded ErrorKind = "quota_exceeded"
	ErrContextSize   ErrorKind = "context_size_error"
	ErrModelNotFound ErrorKind = "model_not_found"
	ErrServer        ErrorKind = "server_error"

	// ErrTransientStream is an internal class for mid-stream provider
	// hiccups. The retry wrapper treats it like throttling; once retries
	// are exhausted it is reported to clients as throttling_error.
	ErrTransientStream ErrorKind = "transient_stream"
)

// Error is a classified failure carrying the HTTP status and optional
// Retry-After hint surfaced in the error envelope.
type Error struct {
	Kind       ErrorKind
	Detail     string
	StatusCode int
	RetryAfter string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Retryable reports whether the retry wrapper may re-issue the request.
// Context-limit failures are handled separately via the extended-context
// re-issue and are not "retryable" in the backoff sense.
func (e *Error) Retryable() bool {
	return e.Kind == ErrThrottling || e.Kind == ErrTransientStream
}

// StatusFor returns the HTTP status code for an error kind.
func StatusFor(kind ErrorKind) int {
	switch kind {
	case ErrValidation:
		return 400
	case ErrAuth:
		return 401
	case ErrAccessDenied:
		return 403
	case ErrModelNotFound:
		return 404
	case ErrThrottling, ErrQuotaExceeded:
		return 429
	case ErrContextSize:
		return 413
	default:
		return 500
	}
}

// ErrHTTP is a raw provider HTTP failure, produced by the hand-rolled drivers
// before classification.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
