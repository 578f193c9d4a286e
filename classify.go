package ziya

import (
	"errors"
	"strings"
)

// classifyRule maps a provider error substring to an error kind. Rules are
// evaluated in order; the first match wins. The table mirrors the error
// strings the hosted backends actually produce, so classification stays a
// narrow string-matching concern.
type classifyRule struct {
	contains []string // all must be present
	kind     ErrorKind
	detail   string
	retryAfter string
}

var classifyRules = []classifyRule{
	{contains: []string{"ThrottlingException"}, kind: ErrThrottling,
		detail: "Too many requests to the model provider. Please wait a moment before trying again.", retryAfter: "5"},
	{contains: []string{"Too many requests"}, kind: ErrThrottling,
		detail: "Too many requests to the model provider. Please wait a moment before trying again.", retryAfter: "5"},
	{contains: []string{"reached max retries"}, kind: ErrThrottling,
		detail: "The provider exhausted its internal retries. Please wait before trying again.", retryAfter: "60"},
	{contains: []string{"Resource has been exhausted", "check quota"}, kind: ErrQuotaExceeded,
		detail: "API quota has been exceeded. Please try again in a few minutes.", retryAfter: "60"},
	{contains: []string{"RESOURCE_EXHAUSTED"}, kind: ErrQuotaExceeded,
		detail: "API quota has been exceeded. Please try again in a few minutes.", retryAfter: "60"},
	{contains: []string{"validationException", "Input is too long"}, kind: ErrContextSize,
		detail: "The selected content is too large for the model's context window. Deselect some files and try again."},
	{contains: []string{"ValidationException", "Input is too long"}, kind: ErrContextSize,
		detail: "The selected content is too large for the model's context window. Deselect some files and try again."},
	{contains: []string{"input length and `max_tokens` exceed context limit"}, kind: ErrContextSize,
		detail: "The selected content is too large for the model's context window. Deselect some files and try again."},
	{contains: []string{"prompt is too long"}, kind: ErrContextSize,
		detail: "The selected content is too large for the model's context window. Deselect some files and try again."},
	{contains: []string{"ExpiredToken"}, kind: ErrAuth,
		detail: "AWS credentials have expired. Please refresh your credentials."},
	{contains: []string{"ExpiredTokenException"}, kind: ErrAuth,
		detail: "AWS credentials have expired. Please refresh your credentials."},
	{contains: []string{"InvalidIdentityToken"}, kind: ErrAuth,
		detail: "The provided identity token is invalid. Please check your credentials."},
	{contains: []string{"InvalidClientTokenId"}, kind: ErrAuth,
		detail: "The security token is invalid. Please check your credentials."},
	{contains: []string{"UnrecognizedClientException"}, kind: ErrAuth,
		detail: "The credentials were not recognized. Please check your credentials."},
	{contains: []string{"API key not valid"}, kind: ErrAuth,
		detail: "The API key was rejected. Please check your credentials."},
	{contains: []string{"AccessDeniedException"}, kind: ErrAccessDenied,
		detail: "Your credentials lack permission to invoke this model."},
	{contains: []string{"PERMISSION_DENIED"}, kind: ErrAccessDenied,
		detail: "Your credentials lack permission to invoke this model."},
	{contains: []string{"ResourceNotFoundException"}, kind: ErrModelNotFound,
		detail: "The requested model id was not found."},
	{contains: []string{"model identifier is invalid"}, kind: ErrModelNotFound,
		detail: "The requested model id was not found."},
	{contains: []string{"NOT_FOUND"}, kind: ErrModelNotFound,
		detail: "The requested model id was not found."},
	{contains: []string{"ValidationException"}, kind: ErrValidation,
		detail: "The request was rejected by the model provider."},
	{contains: []string{"ModelStreamErrorException"}, kind: ErrTransientStream,
		detail: "The response stream was interrupted by the provider."},
	{contains: []string{"ServiceUnavailableException"}, kind: ErrTransientStream,
		detail: "The model provider is temporarily unavailable."},
	{contains: []string{"connection reset"}, kind: ErrTransientStream,
		detail: "The connection to the model provider was reset."},
	{contains: []string{"unexpected EOF"}, kind: ErrTransientStream,
		detail: "The response stream ended unexpectedly."},
}

// Classify normalizes a backend failure into the closed error taxonomy.
// Already-classified errors pass through unchanged; HTTP failures map by
// status; everything else is matched against the substring table and falls
// back to server_error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var zerr *Error
	if errors.As(err, &zerr) {
		return zerr
	}
	var herr *ErrHTTP
	if errors.As(err, &herr) {
		if kind := kindForStatus(herr.Status, herr.Body); kind != "" {
			return &Error{Kind: kind, Detail: herr.Body, StatusCode: StatusFor(kind), RetryAfter: herr.RetryAfter}
		}
	}
	msg := err.Error()
	for _, rule := range classifyRules {
		matched := true
		for _, sub := range rule.contains {
			if !strings.Contains(msg, sub) {
				matched = false
				break
			}
		}
		if matched {
			return &Error{Kind: rule.kind, Detail: rule.detail, StatusCode: StatusFor(rule.kind), RetryAfter: rule.retryAfter}
		}
	}
	return &Error{Kind: ErrServer, Detail: msg, StatusCode: 500}
}

// kindForStatus maps plain HTTP statuses from the hand-rolled drivers to
// error kinds. The body disambiguates 429 (throttling vs quota).
func kindForStatus(status int, body string) ErrorKind {
	switch status {
	case 400:
		if strings.Contains(body, "too long") || strings.Contains(body, "context limit") {
			return ErrContextSize
		}
		return ErrValidation
	case 401:
		return ErrAuth
	case 403:
		return ErrAccessDenied
	case 404:
		return ErrModelNotFound
	case 413:
		return ErrContextSize
	case 429:
		if strings.Contains(body, "quota") {
			return ErrQuotaExceeded
		}
		return ErrThrottling
	case 500, 502, 504:
		return ErrServer
	case 503:
		return ErrTransientStream
	}
	return ""
}
