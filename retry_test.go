package ziya

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// throttleProvider fails its first failCount attempts with a throttling
// error, then streams one text chunk.
type throttleProvider struct {
	mu        sync.Mutex
	failCount int
	calls     int
	lastReq   Request
	desc      ModelDescriptor
}

func (p *throttleProvider) Name() string { return "throttle" }

func (p *throttleProvider) Descriptor() ModelDescriptor {
	if p.desc.ModelID != "" {
		return p.desc
	}
	return testDescriptor()
}

func (p *throttleProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.lastReq = req
	p.mu.Unlock()

	if call <= p.failCount {
		return nil, errors.New("ThrottlingException: too many tokens")
	}
	ch := make(chan Chunk, 2)
	ch <- TextDelta{Text: "recovered"}
	ch <- MessageStop{}
	close(ch)
	return ch, nil
}

func (p *throttleProvider) Invoke(ctx context.Context, req Request) (Message, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return Message{}, err
	}
	for range ch {
	}
	return AssistantMessage("recovered"), nil
}

func drainChunks(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestRetryRecoversFromThrottling(t *testing.T) {
	inner := &throttleProvider{failCount: 2}
	base := 20 * time.Millisecond
	p := WithRetry(inner, RetryBaseDelay(base), RetryFixedDelay(0), RetryMaxAttempts(4))

	start := time.Now()
	ch, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream error after recovery: %v", err)
	}
	chunks := drainChunks(t, ch)

	if inner.calls != 3 {
		t.Errorf("attempts = %d, want 3", inner.calls)
	}
	var text string
	for _, c := range chunks {
		if td, ok := c.(TextDelta); ok {
			text += td.Text
		}
	}
	if text != "recovered" {
		t.Errorf("text = %q, want recovered", text)
	}
	// Cumulative sleep >= base*2^0 + base*2^1.
	if elapsed := time.Since(start); elapsed < 3*base {
		t.Errorf("cumulative backoff = %v, want >= %v", elapsed, 3*base)
	}
}

func TestRetryExhaustsThrottling(t *testing.T) {
	inner := &throttleProvider{failCount: 100}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond), RetryFixedDelay(0), RetryMaxAttempts(2))

	_, err := p.Stream(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected throttling_exhausted error")
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != ErrThrottling {
		t.Fatalf("error = %v, want throttling kind", err)
	}
	if cerr.RetryAfter == "" {
		t.Error("exhausted throttling error should carry retry_after")
	}
	if inner.calls != 2 {
		t.Errorf("attempts = %d, want 2", inner.calls)
	}
}

// contextLimitProvider fails with a context-size error until the request
// enables extended context.
type contextLimitProvider struct {
	calls   int
	sawBeta bool
}

func (p *contextLimitProvider) Name() string { return "ctxlimit" }

func (p *contextLimitProvider) Descriptor() ModelDescriptor {
	d := testDescriptor()
	d.ExtendedContextHeader = "context-1m-2025-08-07"
	return d
}

func (p *contextLimitProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	p.calls++
	if !req.ExtendedContext {
		return nil, errors.New("validationException: Input is too long for requested model")
	}
	p.sawBeta = true
	ch := make(chan Chunk, 2)
	ch <- TextDelta{Text: "fits now"}
	ch <- MessageStop{}
	close(ch)
	return ch, nil
}

func (p *contextLimitProvider) Invoke(ctx context.Context, req Request) (Message, error) {
	return Message{}, errors.New("not used")
}

func TestRetryExtendedContext(t *testing.T) {
	inner := &contextLimitProvider{}
	p := WithRetry(inner, RetryBaseDelay(time.Millisecond))

	ch, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	drainChunks(t, ch)

	if inner.calls != 2 {
		t.Errorf("attempts = %d, want 2 (one plain, one extended)", inner.calls)
	}
	if !inner.sawBeta {
		t.Error("second attempt did not enable extended context")
	}
}

func TestRetryContextLimitWithoutExtendedSupport(t *testing.T) {
	// No extended-context header on the descriptor: the failure surfaces
	// as-is, with no re-issue.
	limited := providerFunc{
		desc: testDescriptor(),
		stream: func(ctx context.Context, req Request) (<-chan Chunk, error) {
			return nil, errors.New("validationException: Input is too long for requested model")
		},
	}
	wrapped := WithRetry(limited)

	_, err := wrapped.Stream(context.Background(), Request{})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != ErrContextSize {
		t.Fatalf("error = %v, want context_size_error", err)
	}
	if cerr.StatusCode != 413 {
		t.Errorf("status = %d, want 413", cerr.StatusCode)
	}
}

func TestRetryDoesNotRetryAuthErrors(t *testing.T) {
	calls := 0
	limited := providerFunc{
		desc: testDescriptor(),
		stream: func(ctx context.Context, req Request) (<-chan Chunk, error) {
			calls++
			return nil, errors.New("ExpiredTokenException: token expired")
		},
	}
	p := WithRetry(limited)

	_, err := p.Stream(context.Background(), Request{})
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != ErrAuth {
		t.Fatalf("error = %v, want auth_error", err)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on auth)", calls)
	}
}

// providerFunc adapts closures to the Provider interface for small tests.
type providerFunc struct {
	desc   ModelDescriptor
	stream func(ctx context.Context, req Request) (<-chan Chunk, error)
}

func (p providerFunc) Name() string                { return "func" }
func (p providerFunc) Descriptor() ModelDescriptor { return p.desc }

func (p providerFunc) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	return p.stream(ctx, req)
}

func (p providerFunc) Invoke(ctx context.Context, req Request) (Message, error) {
	ch, err := p.stream(ctx, req)
	if err != nil {
		return Message{}, err
	}
	for range ch {
	}
	return Message{}, nil
}
