package ziya

import (
	"context"
	"log/slog"
	"math/rand"
	"time"
)

// retryProvider wraps a Provider with classification-driven retries:
// exponential backoff for throttling and transient stream failures, and a
// single extended-context re-issue for context-limit failures when the
// descriptor advertises support. Auth, access, and validation failures
// surface immediately.
type retryProvider struct {
	inner       Provider
	maxAttempts int
	baseDelay   time.Duration
	fixedDelay  time.Duration
	logger      *slog.Logger
}

// RetryOption configures a retryProvider.
type RetryOption func(*retryProvider)

// RetryMaxAttempts sets the maximum number of attempts (default: 4).
func RetryMaxAttempts(n int) RetryOption {
	return func(r *retryProvider) { r.maxAttempts = n }
}

// RetryBaseDelay sets the initial backoff delay (default: 1s). Attempt i
// sleeps baseDelay*2^i plus the fixed delay plus jitter ≤ 250ms.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryFixedDelay sets the constant added to every backoff sleep (default:
// 4s). The constant accounts for provider-level internal retries already
// consumed before the error surfaced.
func RetryFixedDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.fixedDelay = d }
}

// RetryLogger sets a structured logger for retry decisions.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) { r.logger = l }
}

// WithRetry wraps p with the retry policy. Compose with any Provider:
//
//	bp, err := bedrock.New(runtime, desc, region)
//	p = ziya.WithRetry(bp)
//	p = ziya.WithRetry(gemini.New(apiKey, desc), ziya.RetryMaxAttempts(3))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:       p,
		maxAttempts: 4,
		baseDelay:   time.Second,
		fixedDelay:  4 * time.Second,
		logger:      NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryProvider) Name() string                { return r.inner.Name() }
func (r *retryProvider) Descriptor() ModelDescriptor { return r.inner.Descriptor() }

// Invoke implements Provider with the retry policy.
func (r *retryProvider) Invoke(ctx context.Context, req Request) (Message, error) {
	var lastErr *Error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		msg, err := r.inner.Invoke(ctx, req)
		if err == nil {
			return msg, nil
		}
		cerr := Classify(err)
		next, retry := r.decide(ctx, cerr, &req, attempt)
		if !retry {
			return Message{}, next
		}
		lastErr = cerr
	}
	return Message{}, exhausted(lastErr)
}

// Stream implements Provider with the retry policy. A new attempt is made
// only while no chunk has been forwarded to the caller; once content is
// flowing, mid-stream failures pass through so consumers never see
// duplicated output.
func (r *retryProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	out := make(chan Chunk, 32)

	// Open the stream, retrying open-time failures inline so the caller
	// either gets a live channel or a classified error.
	var inner <-chan Chunk
	var lastErr *Error
	opened := false
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		ch, err := r.inner.Stream(ctx, req)
		if err == nil {
			inner = ch
			opened = true
			break
		}
		cerr := Classify(err)
		next, retry := r.decide(ctx, cerr, &req, attempt)
		if !retry {
			close(out)
			return nil, next
		}
		lastErr = cerr
	}
	if !opened {
		close(out)
		return nil, exhausted(lastErr)
	}

	go r.pump(ctx, req, inner, out)
	return out, nil
}

// pump forwards chunks from the provider stream to out, re-issuing the
// request when an error chunk arrives before any content was forwarded.
func (r *retryProvider) pump(ctx context.Context, req Request, inner <-chan Chunk, out chan<- Chunk) {
	defer close(out)

	forwarded := false
	attempt := 0
	for {
		chunk, ok := <-inner
		if !ok {
			return
		}
		perr, isErr := chunk.(ProviderError)
		if !isErr {
			forwarded = true
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			continue
		}

		cerr := Classify(perr.Err)
		if forwarded {
			// Content already reached the consumer; no silent re-issue.
			out <- ProviderError{Err: cerr}
			return
		}
		next, retry := r.decide(ctx, cerr, &req, attempt)
		if !retry {
			out <- ProviderError{Err: next}
			return
		}
		attempt++
		if attempt >= r.maxAttempts {
			out <- ProviderError{Err: exhausted(cerr)}
			return
		}
		ch, err := r.inner.Stream(ctx, req)
		if err != nil {
			out <- ProviderError{Err: Classify(err)}
			return
		}
		inner = ch
	}
}

// decide applies the retry policy to one classified failure. It returns the
// error to surface and whether the caller should try again. Backoff sleeps
// happen here and honor ctx cancellation. For a context-limit failure on a
// descriptor with extended-context support, the request is mutated to enable
// the header and one immediate re-issue is allowed.
func (r *retryProvider) decide(ctx context.Context, cerr *Error, req *Request, attempt int) (error, bool) {
	switch cerr.Kind {
	case ErrThrottling, ErrTransientStream:
		if attempt >= r.maxAttempts-1 {
			return exhausted(cerr), false
		}
		delay := r.backoff(attempt)
		r.logger.Warn("transient model failure, backing off",
			"provider", r.inner.Name(), "kind", string(cerr.Kind),
			"attempt", attempt+1, "max", r.maxAttempts, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err(), false
		case <-timer.C:
		}
		return nil, true
	case ErrContextSize:
		d := r.inner.Descriptor()
		if d.ExtendedContextHeader != "" && !req.ExtendedContext {
			r.logger.Info("context limit hit, re-issuing with extended context",
				"provider", r.inner.Name(), "header", d.ExtendedContextHeader)
			req.ExtendedContext = true
			return nil, true
		}
		return cerr, false
	default:
		return cerr, false
	}
}

// backoff returns the sleep before retry attempt i (0-indexed):
// base*2^i + fixed, plus uniform jitter up to 250ms.
func (r *retryProvider) backoff(i int) time.Duration {
	exp := r.baseDelay * (1 << i)
	jitter := time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
	return exp + r.fixedDelay + jitter
}

// exhausted converts the last transient failure into the terminal error
// surfaced after retries run out.
func exhausted(last *Error) *Error {
	if last == nil {
		return &Error{Kind: ErrServer, Detail: "model invocation failed", StatusCode: 500}
	}
	if last.Kind == ErrThrottling || last.Kind == ErrTransientStream {
		return &Error{
			Kind:       ErrThrottling,
			Detail:     "Retries exhausted: " + last.Detail,
			StatusCode: 429,
			RetryAfter: "60",
		}
	}
	return last
}

// compile-time check
var _ Provider = (*retryProvider)(nil)
