// Package gemini implements the runtime's Provider over the Google
// generative language API (Gemini). Requests are plain HTTP against the
// v1beta REST surface; streaming uses the SSE variant of generateContent.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	ziya "github.com/ziya-ai/ziya"
)

const baseURL = "https://generativelanguage.googleapis.com/v1beta/models"

// Provider implements ziya.Provider on the Gemini REST API.
type Provider struct {
	apiKey     string
	descriptor ziya.ModelDescriptor
	client     *http.Client
	base       string
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithBaseURL overrides the API base URL (tests point it at a local server).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.base = u }
}

// New creates a Gemini provider for the descriptor.
func New(apiKey string, d ziya.ModelDescriptor, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		descriptor: d,
		client:     &http.Client{},
		base:       baseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string                     { return "gemini" }
func (p *Provider) Descriptor() ziya.ModelDescriptor { return p.descriptor }

// --- wire types ---

type genRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	Tools             []toolWrapper    `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type toolWrapper struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type genResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// --- request building ---

// buildBody assembles the generateContent request. Gemini has no streamed
// tool-argument deltas; function calls arrive whole inside parts.
func (p *Provider) buildBody(req ziya.Request) genRequest {
	body := genRequest{}

	var systemText string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if systemText != "" {
				systemText += "\n\n"
			}
			systemText += m.Text()
		case "assistant":
			c := content{Role: "model"}
			for _, b := range m.Content {
				switch b.Type {
				case ziya.BlockText:
					c.Parts = append(c.Parts, part{Text: b.Text})
				case ziya.BlockToolUse:
					c.Parts = append(c.Parts, part{FunctionCall: &functionCall{Name: b.Name, Args: b.Input}})
				}
			}
			body.Contents = append(body.Contents, c)
		default:
			c := content{Role: "user"}
			for _, b := range m.Content {
				switch b.Type {
				case ziya.BlockText:
					c.Parts = append(c.Parts, part{Text: b.Text})
				case ziya.BlockToolResult:
					c.Parts = append(c.Parts, part{FunctionResponse: &functionResponse{
						Name:     b.Name,
						Response: map[string]any{"content": b.Content},
					}})
				}
			}
			body.Contents = append(body.Contents, c)
		}
	}
	if systemText != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: systemText}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			})
		}
		body.Tools = []toolWrapper{{FunctionDeclarations: decls}}
	}

	cfg := &generationConfig{}
	used := false
	if v, ok := req.Params[ziya.ParamTemperature]; ok {
		if f, ok := toFloat(v); ok {
			cfg.Temperature = &f
			used = true
		}
	}
	if v, ok := req.Params[ziya.ParamTopK]; ok {
		if f, ok := toFloat(v); ok {
			n := int(f)
			cfg.TopK = &n
			used = true
		}
	}
	if v, ok := req.Params[ziya.ParamTopP]; ok {
		if f, ok := toFloat(v); ok {
			cfg.TopP = &f
			used = true
		}
	}
	if v, ok := req.Params[ziya.ParamMaxTokens]; ok {
		if f, ok := toFloat(v); ok {
			n := int(f)
			cfg.MaxOutputTokens = &n
			used = true
		}
	}
	if v, ok := req.Params[ziya.ParamStop]; ok {
		if s, ok := v.(string); ok {
			cfg.StopSequences = []string{s}
			used = true
		}
	}
	if used {
		body.GenerationConfig = cfg
	}
	return body
}

// --- provider operations ---

// Invoke implements ziya.Provider.
func (p *Provider) Invoke(ctx context.Context, req ziya.Request) (ziya.Message, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.base, p.descriptor.ModelID, p.apiKey)
	resp, err := p.post(ctx, url, p.buildBody(req))
	if err != nil {
		return ziya.Message{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ziya.Message{}, p.httpErr(resp)
	}

	var parsed genResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ziya.Message{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	return translateCandidate(parsed)
}

// Stream implements ziya.Provider via the SSE generateContent variant.
func (p *Provider) Stream(ctx context.Context, req ziya.Request) (<-chan ziya.Chunk, error) {
	url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse&key=%s", p.base, p.descriptor.ModelID, p.apiKey)
	resp, err := p.post(ctx, url, p.buildBody(req))
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
		streamSSE(ctx, resp.Body, ch)
	}()
	return ch, nil
}

func (p *Provider) post(ctx context.Context, url string, body genRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return p.client.Do(httpReq)
}

func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ziya.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: resp.Header.Get("Retry-After"),
	}
}

// translateCandidate converts a complete response.
func translateCandidate(parsed genResponse) (ziya.Message, error) {
	if len(parsed.Candidates) == 0 {
		return ziya.Message{}, fmt.Errorf("gemini: response has no candidates")
	}
	out := ziya.Message{Role: "assistant"}
	for _, pt := range parsed.Candidates[0].Content.Parts {
		if pt.Text != "" {
			out.Content = append(out.Content, ziya.ContentBlock{Type: ziya.BlockText, Text: pt.Text})
		}
		if pt.FunctionCall != nil {
			out.Content = append(out.Content, ziya.ContentBlock{
				Type:  ziya.BlockToolUse,
				ID:    ziya.NewID(),
				Name:  pt.FunctionCall.Name,
				Input: argsOrEmpty(pt.FunctionCall.Args),
			})
		}
	}
	return out, nil
}

func argsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || !json.Valid(args) {
		return json.RawMessage(`{}`)
	}
	return args
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// compile-time check
var _ ziya.Provider = (*Provider)(nil)
