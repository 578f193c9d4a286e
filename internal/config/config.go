// Package config loads runtime configuration from ~/.ziya/config.toml with
// environment variable overrides. Environment wins over the file; the file
// wins over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the full runtime configuration.
type Config struct {
	Endpoint string `toml:"endpoint"`
	Model    string `toml:"model"`

	CodebaseDir string `toml:"codebase_dir"` // required; USER_CODEBASE_DIR
	MaxDepth    int    `toml:"max_depth"`
	LogLevel    string `toml:"log_level"`

	AWS    AWSConfig    `toml:"aws"`
	Google GoogleConfig `toml:"google"`
	Keys   KeysConfig   `toml:"keys"`

	Sampling SamplingConfig `toml:"sampling"`
	Stream   StreamConfig   `toml:"stream"`
	Server   ServerConfig   `toml:"server"`
}

type AWSConfig struct {
	Profile string `toml:"profile"`
	Region  string `toml:"region"`
}

type GoogleConfig struct {
	APIKey string `toml:"api_key"`
}

type KeysConfig struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
}

type SamplingConfig struct {
	// Pointer fields distinguish "unset" from zero; unset parameters are
	// omitted from requests and the backend uses its defaults.
	Temperature     *float64 `toml:"temperature"`
	TopK            *int     `toml:"top_k"`
	MaxOutputTokens *int     `toml:"max_output_tokens"`
	ThinkingMode    bool     `toml:"thinking_mode"`
}

type StreamConfig struct {
	// CommandTimeout is the per-turn inactivity timeout in seconds.
	CommandTimeout int `toml:"command_timeout"`
	MaxIterations  int `toml:"max_iterations"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// MaxRequestBytes rejects oversized request bodies before prompt
	// assembly.
	MaxRequestBytes int64 `toml:"max_request_bytes"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Endpoint: "bedrock",
		LogLevel: "info",
		MaxDepth: 15,
		Stream: StreamConfig{
			CommandTimeout: 60,
			MaxIterations:  50,
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:6969",
			MaxRequestBytes: 20 << 20,
		},
	}
}

// Dir returns the per-user state directory (~/.ziya), creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home dir: %w", err)
	}
	dir := filepath.Join(home, ".ziya")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: state dir: %w", err)
	}
	return dir, nil
}

// Load reads ~/.ziya/config.toml (if present) and applies environment
// overrides. Validation of required fields happens in Validate, not here, so
// subcommands that do not touch the codebase still load.
func Load() (Config, error) {
	cfg := Default()

	if dir, err := Dir(); err == nil {
		path := filepath.Join(dir, "config.toml")
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Validate checks the fields every streaming request needs.
func (c *Config) Validate() error {
	if c.CodebaseDir == "" {
		return fmt.Errorf("config: USER_CODEBASE_DIR is required")
	}
	info, err := os.Stat(c.CodebaseDir)
	if err != nil {
		return fmt.Errorf("config: codebase dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: codebase dir %s is not a directory", c.CodebaseDir)
	}
	return nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	setString(&c.Endpoint, "ENDPOINT")
	setString(&c.Model, "MODEL")
	setString(&c.CodebaseDir, "USER_CODEBASE_DIR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.AWS.Profile, "AWS_PROFILE")
	setString(&c.AWS.Region, "AWS_REGION")
	setString(&c.Google.APIKey, "GOOGLE_API_KEY")
	setString(&c.Keys.Anthropic, "ANTHROPIC_API_KEY")
	setString(&c.Keys.OpenAI, "OPENAI_API_KEY")
	setInt(&c.MaxDepth, "MAX_DEPTH")
	setInt(&c.Stream.CommandTimeout, "COMMAND_TIMEOUT")

	if v, ok := lookupInt("MAX_OUTPUT_TOKENS"); ok {
		c.Sampling.MaxOutputTokens = &v
	}
	if v, ok := lookupFloat("TEMPERATURE"); ok {
		c.Sampling.Temperature = &v
	}
	if v, ok := lookupInt("TOP_K"); ok {
		c.Sampling.TopK = &v
	}
	if os.Getenv("THINKING_MODE") == "1" {
		c.Sampling.ThinkingMode = true
	}
}

// Params converts the sampling configuration into the caller parameter bag
// consumed by the parameter filter.
func (c *Config) Params() map[string]any {
	params := map[string]any{}
	if c.Sampling.Temperature != nil {
		params["temperature"] = *c.Sampling.Temperature
	}
	if c.Sampling.TopK != nil {
		params["top_k"] = *c.Sampling.TopK
	}
	if c.Sampling.MaxOutputTokens != nil {
		params["max_tokens"] = *c.Sampling.MaxOutputTokens
	}
	return params
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookupInt(key); ok {
		*dst = v
	}
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
