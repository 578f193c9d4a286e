package config

import (
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.Endpoint != "bedrock" {
		t.Errorf("endpoint = %q, want bedrock", cfg.Endpoint)
	}
	if cfg.Stream.CommandTimeout != 60 || cfg.Stream.MaxIterations != 50 {
		t.Errorf("stream defaults = %+v", cfg.Stream)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENDPOINT", "google")
	t.Setenv("MODEL", "gemini-flash")
	t.Setenv("GOOGLE_API_KEY", "gk")
	t.Setenv("COMMAND_TIMEOUT", "90")
	t.Setenv("TEMPERATURE", "0.4")
	t.Setenv("TOP_K", "25")
	t.Setenv("MAX_OUTPUT_TOKENS", "2000")
	t.Setenv("THINKING_MODE", "1")

	cfg := Default()
	cfg.applyEnv()

	if cfg.Endpoint != "google" || cfg.Model != "gemini-flash" {
		t.Errorf("endpoint/model = %s/%s", cfg.Endpoint, cfg.Model)
	}
	if cfg.Google.APIKey != "gk" {
		t.Error("google api key not applied")
	}
	if cfg.Stream.CommandTimeout != 90 {
		t.Errorf("command timeout = %d", cfg.Stream.CommandTimeout)
	}
	if cfg.Sampling.Temperature == nil || *cfg.Sampling.Temperature != 0.4 {
		t.Error("temperature not applied")
	}
	if cfg.Sampling.TopK == nil || *cfg.Sampling.TopK != 25 {
		t.Error("top_k not applied")
	}
	if !cfg.Sampling.ThinkingMode {
		t.Error("thinking mode not applied")
	}
}

func TestEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("COMMAND_TIMEOUT", "not-a-number")
	cfg := Default()
	cfg.applyEnv()
	if cfg.Stream.CommandTimeout != 60 {
		t.Errorf("command timeout = %d, want default kept", cfg.Stream.CommandTimeout)
	}
}

func TestParamsBag(t *testing.T) {
	temp := 0.7
	topK := 40
	maxTok := 1000
	cfg := Default()
	cfg.Sampling.Temperature = &temp
	cfg.Sampling.TopK = &topK
	cfg.Sampling.MaxOutputTokens = &maxTok

	params := cfg.Params()
	if params["temperature"] != 0.7 || params["top_k"] != 40 || params["max_tokens"] != 1000 {
		t.Errorf("params = %v", params)
	}

	empty := Default()
	if len(empty.Params()) != 0 {
		t.Errorf("unset sampling must produce an empty bag, got %v", empty.Params())
	}
}

func TestValidateRequiresCodebaseDir(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("missing codebase dir must fail validation")
	}
	cfg.CodebaseDir = t.TempDir()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid dir rejected: %v", err)
	}
}
