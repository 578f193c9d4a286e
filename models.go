package ziya

import (
	"fmt"
	"sort"
)

// Endpoint tags.
const (
	EndpointBedrock   = "bedrock"
	EndpointGoogle    = "google"
	EndpointOpenAI    = "openai"
	EndpointAnthropic = "anthropic"
)

// DefaultModels maps each endpoint to its default alias.
var DefaultModels = map[string]string{
	EndpointBedrock:   "sonnet3.5-v2",
	EndpointGoogle:    "gemini-1.5-pro",
	EndpointOpenAI:    "gpt-4o",
	EndpointAnthropic: "sonnet4.0",
}

var claudeParams = map[string]bool{
	ParamTemperature: true, ParamTopK: true, ParamMaxTokens: true, ParamStop: true, ParamThinkingMode: true,
}

var novaParams = map[string]bool{
	ParamTemperature: true, ParamTopP: true, ParamMaxTokens: true,
}

var geminiParams = map[string]bool{
	ParamTemperature: true, ParamTopK: true, ParamTopP: true, ParamMaxTokens: true, ParamStop: true,
}

var openaiParams = map[string]bool{
	ParamTemperature: true, ParamTopP: true, ParamMaxTokens: true, ParamStop: true,
}

// anthropicRegionIDs builds the region-prefixed inference profile ids for an
// Anthropic model hosted on Bedrock.
func anthropicRegionIDs(base string) map[string]string {
	return map[string]string{
		"us":   "us." + base,
		"eu":   "eu." + base,
		"apac": "apac." + base,
	}
}

// Registry is the process-wide model descriptor table, keyed by endpoint and
// alias. It is built once at startup and read-only afterwards.
type Registry struct {
	models map[string]map[string]ModelDescriptor
}

// NewRegistry builds the built-in descriptor table.
func NewRegistry() *Registry {
	r := &Registry{models: map[string]map[string]ModelDescriptor{}}

	r.add(EndpointBedrock, "sonnet4.0", ModelDescriptor{
		ModelID:               "anthropic.claude-sonnet-4-20250514-v1:0",
		RegionIDs:             anthropicRegionIDs("anthropic.claude-sonnet-4-20250514-v1:0"),
		Family:                FamilyClaude,
		TokenLimit:            200000,
		MaxOutputTokens:       64000,
		SupportedParameters:   claudeParams,
		ExtendedContextHeader: "context-1m-2025-08-07",
		SupportsContextCaching: true,
		SupportsThinking:       true,
	})
	r.add(EndpointBedrock, "opus4.1", ModelDescriptor{
		ModelID:              "anthropic.claude-opus-4-1-20250805-v1:0",
		RegionIDs:            anthropicRegionIDs("anthropic.claude-opus-4-1-20250805-v1:0"),
		Family:               FamilyClaude,
		TokenLimit:           200000,
		MaxOutputTokens:      32000,
		SupportedParameters:  claudeParams,
		SupportsContextCaching: true,
		SupportsThinking:       true,
	})
	r.add(EndpointBedrock, "sonnet3.7", ModelDescriptor{
		ModelID:              "anthropic.claude-3-7-sonnet-20250219-v1:0",
		RegionIDs:            anthropicRegionIDs("anthropic.claude-3-7-sonnet-20250219-v1:0"),
		Family:               FamilyClaude,
		TokenLimit:           200000,
		MaxOutputTokens:      128000,
		SupportedParameters:  claudeParams,
		SupportsContextCaching: true,
		SupportsThinking:       true,
	})
	r.add(EndpointBedrock, "sonnet3.5-v2", ModelDescriptor{
		ModelID:              "anthropic.claude-3-5-sonnet-20241022-v2:0",
		RegionIDs:            anthropicRegionIDs("anthropic.claude-3-5-sonnet-20241022-v2:0"),
		Family:               FamilyClaude,
		TokenLimit:           200000,
		MaxOutputTokens:      4096,
		SupportedParameters:  claudeParams,
		SupportsContextCaching: true,
	})
	r.add(EndpointBedrock, "haiku3.5", ModelDescriptor{
		ModelID:             "anthropic.claude-3-5-haiku-20241022-v1:0",
		RegionIDs:           anthropicRegionIDs("anthropic.claude-3-5-haiku-20241022-v1:0"),
		Family:              FamilyClaude,
		TokenLimit:          200000,
		MaxOutputTokens:     4096,
		SupportedParameters: claudeParams,
	})
	r.add(EndpointBedrock, "nova-pro", ModelDescriptor{
		ModelID:             "amazon.nova-pro-v1:0",
		RegionIDs:           map[string]string{"us": "us.amazon.nova-pro-v1:0"},
		Family:              FamilyNova,
		TokenLimit:          300000,
		MaxOutputTokens:     5120,
		SupportedParameters: novaParams,
	})
	r.add(EndpointBedrock, "nova-lite", ModelDescriptor{
		ModelID:             "amazon.nova-lite-v1:0",
		RegionIDs:           map[string]string{"us": "us.amazon.nova-lite-v1:0"},
		Family:              FamilyNova,
		TokenLimit:          300000,
		MaxOutputTokens:     5120,
		SupportedParameters: novaParams,
	})

	r.add(EndpointGoogle, "gemini-1.5-pro", ModelDescriptor{
		ModelID:             "gemini-1.5-pro",
		Family:              FamilyGemini,
		TokenLimit:          1000000,
		MaxOutputTokens:     8192,
		SupportedParameters: geminiParams,
	})
	r.add(EndpointGoogle, "gemini-flash", ModelDescriptor{
		ModelID:             "gemini-1.5-flash",
		Family:              FamilyGemini,
		TokenLimit:          1000000,
		MaxOutputTokens:     8192,
		SupportedParameters: geminiParams,
	})

	r.add(EndpointAnthropic, "sonnet4.0", ModelDescriptor{
		ModelID:               "claude-sonnet-4-20250514",
		Family:                FamilyClaude,
		TokenLimit:            200000,
		MaxOutputTokens:       64000,
		SupportedParameters:   claudeParams,
		ExtendedContextHeader: "context-1m-2025-08-07",
		SupportsContextCaching: true,
		SupportsThinking:       true,
	})
	r.add(EndpointAnthropic, "haiku3.5", ModelDescriptor{
		ModelID:             "claude-3-5-haiku-20241022",
		Family:              FamilyClaude,
		TokenLimit:          200000,
		MaxOutputTokens:     8192,
		SupportedParameters: claudeParams,
		SupportsContextCaching: true,
	})

	r.add(EndpointOpenAI, "gpt-4o", ModelDescriptor{
		ModelID:             "gpt-4o",
		Family:              FamilyOpenAI,
		TokenLimit:          128000,
		MaxOutputTokens:     16384,
		SupportedParameters: openaiParams,
	})
	r.add(EndpointOpenAI, "gpt-4o-mini", ModelDescriptor{
		ModelID:             "gpt-4o-mini",
		Family:              FamilyOpenAI,
		TokenLimit:          128000,
		MaxOutputTokens:     16384,
		SupportedParameters: openaiParams,
	})

	return r
}

func (r *Registry) add(endpoint, alias string, d ModelDescriptor) {
	d.Endpoint = endpoint
	if r.models[endpoint] == nil {
		r.models[endpoint] = map[string]ModelDescriptor{}
	}
	r.models[endpoint][alias] = d
}

// Lookup resolves an endpoint/alias pair. An empty alias resolves to the
// endpoint's default model.
func (r *Registry) Lookup(endpoint, alias string) (ModelDescriptor, error) {
	aliases, ok := r.models[endpoint]
	if !ok {
		return ModelDescriptor{}, &Error{Kind: ErrValidation, StatusCode: 400,
			Detail: fmt.Sprintf("unknown endpoint %q", endpoint)}
	}
	if alias == "" {
		alias = DefaultModels[endpoint]
	}
	d, ok := aliases[alias]
	if !ok {
		return ModelDescriptor{}, &Error{Kind: ErrModelNotFound, StatusCode: 404,
			Detail: fmt.Sprintf("unknown model %q for endpoint %q", alias, endpoint)}
	}
	return d, nil
}

// Aliases returns the sorted model aliases for an endpoint.
func (r *Registry) Aliases(endpoint string) []string {
	aliases := make([]string, 0, len(r.models[endpoint]))
	for a := range r.models[endpoint] {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	return aliases
}
