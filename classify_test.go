package ziya

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		msg    string
		kind   ErrorKind
		status int
	}{
		{"ThrottlingException: Rate exceeded", ErrThrottling, 429},
		{"Too many requests, please wait", ErrThrottling, 429},
		{"Resource has been exhausted (e.g. check quota).", ErrQuotaExceeded, 429},
		{"validationException: Input is too long for requested model", ErrContextSize, 413},
		{"prompt is too long: 210000 tokens > 200000 maximum", ErrContextSize, 413},
		{"ExpiredTokenException: The security token included in the request is expired", ErrAuth, 401},
		{"InvalidClientTokenId: The security token is invalid", ErrAuth, 401},
		{"UnrecognizedClientException: The security token included in the request is invalid.", ErrAuth, 401},
		{"AccessDeniedException: You don't have access to the model", ErrAccessDenied, 403},
		{"ResourceNotFoundException: Could not resolve the foundation model", ErrModelNotFound, 404},
		{"ModelStreamErrorException: stream reset", ErrTransientStream, 500},
		{"ServiceUnavailableException: try later", ErrTransientStream, 500},
		{"something completely unexpected happened", ErrServer, 500},
	}
	for _, tc := range cases {
		t.Run(tc.msg[:20], func(t *testing.T) {
			got := Classify(errors.New(tc.msg))
			if got.Kind != tc.kind {
				t.Errorf("kind = %s, want %s", got.Kind, tc.kind)
			}
			if got.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", got.StatusCode, tc.status)
			}
		})
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	orig := &Error{Kind: ErrValidation, Detail: "empty question", StatusCode: 400}
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	if got != orig {
		t.Errorf("typed error should pass through unchanged")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		kind   ErrorKind
	}{
		{401, "bad key", ErrAuth},
		{403, "no access", ErrAccessDenied},
		{404, "no model", ErrModelNotFound},
		{413, "too big", ErrContextSize},
		{429, "slow down", ErrThrottling},
		{429, "quota exceeded for project", ErrQuotaExceeded},
		{503, "unavailable", ErrTransientStream},
	}
	for _, tc := range cases {
		got := Classify(&ErrHTTP{Status: tc.status, Body: tc.body})
		if got.Kind != tc.kind {
			t.Errorf("status %d body %q: kind = %s, want %s", tc.status, tc.body, got.Kind, tc.kind)
		}
	}
}

func TestClassifyKeepsRetryAfter(t *testing.T) {
	got := Classify(&ErrHTTP{Status: 429, Body: "slow down", RetryAfter: "30"})
	if got.RetryAfter != "30" {
		t.Errorf("retry_after = %q, want 30", got.RetryAfter)
	}
}
