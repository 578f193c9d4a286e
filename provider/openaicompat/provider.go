// Package openaicompat implements the runtime's Provider for any
// OpenAI-compatible chat completions API: OpenAI, OpenRouter, Groq,
// Together, Fireworks, DeepSeek, Mistral, Ollama, vLLM, LM Studio, Azure
// OpenAI, and friends. Request building, response parsing, and the SSE
// scanner are plain HTTP; no SDK.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	ziya "github.com/ziya-ai/ziya"
)

// Provider implements ziya.Provider over an OpenAI-compatible endpoint.
type Provider struct {
	apiKey     string
	baseURL    string
	descriptor ziya.ModelDescriptor
	client     *http.Client
	name       string
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name reported in logs ("openai" default).
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a provider. baseURL is the API base (e.g.
// "https://api.openai.com/v1"); the /chat/completions path is appended.
func New(apiKey, baseURL string, d ziya.ModelDescriptor, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		descriptor: d,
		client:     &http.Client{},
		name:       "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string                     { return p.name }
func (p *Provider) Descriptor() ziya.ModelDescriptor { return p.descriptor }

// Invoke implements ziya.Provider.
func (p *Provider) Invoke(ctx context.Context, req ziya.Request) (ziya.Message, error) {
	body := BuildBody(req, p.descriptor.ModelID)
	resp, err := p.send(ctx, body)
	if err != nil {
		return ziya.Message{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ziya.Message{}, p.httpErr(resp)
	}

	var parsed ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ziya.Message{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	return ParseResponse(parsed)
}

// Stream implements ziya.Provider.
func (p *Provider) Stream(ctx context.Context, req ziya.Request) (<-chan ziya.Chunk, error) {
	body := BuildBody(req, p.descriptor.ModelID)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.httpErr(resp)
	}

	ch := make(chan ziya.Chunk, 32)
	go func() {
		defer resp.Body.Close()
		StreamSSE(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// send marshals the body and posts it to the chat completions endpoint.
func (p *Provider) send(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	return p.client.Do(httpReq)
}

// httpErr reads the failed response into an ErrHTTP for the classifier.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ziya.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: resp.Header.Get("Retry-After"),
	}
}

// compile-time check
var _ ziya.Provider = (*Provider)(nil)
