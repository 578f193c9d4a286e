// Package resolve constructs a concrete Provider for a model descriptor from
// endpoint-agnostic configuration: AWS credential/region resolution for
// Bedrock, API keys for the hosted HTTP endpoints.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	ziya "github.com/ziya-ai/ziya"
	"github.com/ziya-ai/ziya/provider/anthropic"
	"github.com/ziya-ai/ziya/provider/bedrock"
	"github.com/ziya-ai/ziya/provider/gemini"
	"github.com/ziya-ai/ziya/provider/openaicompat"
)

// Config holds endpoint-agnostic provider configuration.
type Config struct {
	AWSProfile      string
	AWSRegion       string
	GoogleAPIKey    string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string // default https://api.openai.com/v1

	Logger *slog.Logger
}

// Provider creates a ziya.Provider for the descriptor, wrapped with the
// runtime's retry policy.
func Provider(ctx context.Context, cfg Config, d ziya.ModelDescriptor) (ziya.Provider, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = ziya.NopLogger()
	}

	var inner ziya.Provider
	switch d.Endpoint {
	case ziya.EndpointBedrock:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, &ziya.Error{Kind: ziya.ErrAuth, StatusCode: 401,
				Detail: fmt.Sprintf("AWS configuration could not be loaded: %v", err)}
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		inner, err = bedrock.New(runtime, d, awsCfg.Region, bedrock.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	case ziya.EndpointGoogle:
		if cfg.GoogleAPIKey == "" {
			return nil, &ziya.Error{Kind: ziya.ErrAuth, StatusCode: 401,
				Detail: "GOOGLE_API_KEY is required for the google endpoint"}
		}
		inner = gemini.New(cfg.GoogleAPIKey, d)
	case ziya.EndpointAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, &ziya.Error{Kind: ziya.ErrAuth, StatusCode: 401,
				Detail: "ANTHROPIC_API_KEY is required for the anthropic endpoint"}
		}
		inner = anthropic.New(cfg.AnthropicAPIKey, d)
	case ziya.EndpointOpenAI:
		base := cfg.OpenAIBaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		inner = openaicompat.New(cfg.OpenAIAPIKey, base, d)
	default:
		return nil, &ziya.Error{Kind: ziya.ErrValidation, StatusCode: 400,
			Detail: fmt.Sprintf("unknown endpoint %q", d.Endpoint)}
	}

	return ziya.WithRetry(inner, ziya.RetryLogger(logger)), nil
}
