// Package config loads the proxy's YAML configuration and resolves the
// $NAME / $NAME<suffix> environment interpolation rule. An unset variable
// referenced by the config is a fatal load error.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/taipm/llmproxy/internal/perrors"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig controls the log store.
type LoggingConfig struct {
	DBPath   string `yaml:"dbPath"`
	BlobRoot string `yaml:"blobRoot"`
}

// StreamingConfig controls SSE chunking.
type StreamingConfig struct {
	Delay     int `yaml:"delay"`
	ChunkSize int `yaml:"chunkSize"`
}

// LivestoreConfig controls log-store write batching.
type LivestoreConfig struct {
	BatchSize int `yaml:"batchSize"`
}

// OpenAIProviderConfig configures the OpenAI-compatible provider.
type OpenAIProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

// OpenRouterProviderConfig configures the OpenRouter provider.
type OpenRouterProviderConfig struct {
	APIKey string `yaml:"apiKey"`
}

// VertexProviderConfig configures the Vertex MaaS provider.
type VertexProviderConfig struct {
	ProjectID        string `yaml:"projectId"`
	Location         string `yaml:"location"`
	Credentials      string `yaml:"credentials"`
	CredentialsPath  string `yaml:"credentialsPath"`
	EndpointOverride string `yaml:"endpointOverride"`
}

// AnthropicProviderConfig configures the native Anthropic provider.
type AnthropicProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
}

// ProvidersConfig groups every provider's configuration block.
type ProvidersConfig struct {
	OpenAI     *OpenAIProviderConfig     `yaml:"openai"`
	OpenRouter *OpenRouterProviderConfig `yaml:"openrouter"`
	Vertex     *VertexProviderConfig     `yaml:"vertex"`
	Anthropic  *AnthropicProviderConfig  `yaml:"anthropic"`
}

// ModelDefinition is one entry in models.definitions. Entries sharing Name
// form a selection group (see internal/router).
type ModelDefinition struct {
	Name           string         `yaml:"name"`
	Provider       string         `yaml:"provider"`
	UpstreamModel  string         `yaml:"upstreamModel"`
	Weight         float64        `yaml:"weight"`
	EnsureToolCall bool           `yaml:"ensureToolCall"`
	Overrides      map[string]any `yaml:",inline"`
}

// ModelsConfig holds the router's model table.
type ModelsConfig struct {
	Definitions     []ModelDefinition `yaml:"definitions"`
	DefaultStrategy string            `yaml:"defaultStrategy"`
}

// Config is the full top-level configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Streaming StreamingConfig `yaml:"streaming"`
	Livestore LivestoreConfig `yaml:"livestore"`
	Providers ProvidersConfig `yaml:"providers"`
	Models    ModelsConfig    `yaml:"models"`
}

// Default returns a Config with every knob set to its default.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging:   LoggingConfig{DBPath: "./data/llmproxy.db", BlobRoot: "./data/blobs"},
		Streaming: StreamingConfig{Delay: 20, ChunkSize: 5},
		Livestore: LivestoreConfig{BatchSize: 1},
		Models:    ModelsConfig{DefaultStrategy: "first"},
	}
}

// EnsureToolCallMaxAttempts returns ENSURE_TOOL_CALL_MAX_ATTEMPTS clamped to
// [1,5] with a default of 3.
func EnsureToolCallMaxAttempts() int {
	return clampEnvInt("ENSURE_TOOL_CALL_MAX_ATTEMPTS", 3, 1, 5)
}

// MaxTokensCap returns MAX_TOKENS_CAP, default 4096.
func MaxTokensCap() int {
	return clampEnvInt("MAX_TOKENS_CAP", 4096, 1, 1<<30)
}

func clampEnvInt(name string, def, min, max int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}

// Load reads path, unmarshals YAML onto Default(), resolves $NAME
// interpolation across every string value, and returns the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.New("config", "", perrors.ErrInvalidConfig, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, perrors.New("config", "", perrors.ErrInvalidConfig, err)
	}

	if err := interpolate(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the invariants the pipeline depends on at startup: every
// model definition names a configured provider, and the default strategy is
// one this repo implements.
func (c *Config) Validate() error {
	known := map[string]bool{"": true}
	if c.Providers.OpenAI != nil {
		known["openai"] = true
	}
	if c.Providers.OpenRouter != nil {
		known["openrouter"] = true
	}
	if c.Providers.Vertex != nil {
		known["vertex"] = true
	}
	if c.Providers.Anthropic != nil {
		known["anthropic"] = true
	}

	for _, m := range c.Models.Definitions {
		if m.Name == "" || m.UpstreamModel == "" {
			return perrors.New("config", "", perrors.ErrInvalidConfig,
				fmt.Errorf("model definition missing name or upstreamModel: %+v", m))
		}
		if !known[m.Provider] {
			return perrors.New("config", "", perrors.ErrInvalidConfig,
				fmt.Errorf("model %q references unconfigured provider %q", m.Name, m.Provider))
		}
	}

	switch c.Models.DefaultStrategy {
	case "", "first", "round_robin", "weighted", "random":
	default:
		return perrors.New("config", "", perrors.ErrInvalidConfig,
			fmt.Errorf("unknown models.defaultStrategy %q", c.Models.DefaultStrategy))
	}

	return nil
}

// varPattern matches $NAME or $NAME<suffix> where NAME is
// [A-Za-z_][A-Za-z0-9_]* and <suffix> is any trailing text.
var varPattern = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)(.*)$`)

// resolveString resolves a single config value. Values not of the $NAME
// form are returned unchanged.
func resolveString(s string) (string, error) {
	m := varPattern.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	name, suffix := m[1], m[2]
	val, ok := os.LookupEnv(name)
	if !ok {
		return "", perrors.New("config", "", perrors.ErrInvalidConfig,
			fmt.Errorf("environment variable %q referenced in config is not set", name))
	}
	return val + suffix, nil
}

// interpolate walks every string field reachable from cfg and resolves
// $NAME interpolation in place.
func interpolate(cfg *Config) error {
	fields := []*string{
		&cfg.Logging.DBPath, &cfg.Logging.BlobRoot,
		&cfg.Server.Host,
	}
	if cfg.Providers.OpenAI != nil {
		fields = append(fields, &cfg.Providers.OpenAI.APIKey, &cfg.Providers.OpenAI.BaseURL)
	}
	if cfg.Providers.OpenRouter != nil {
		fields = append(fields, &cfg.Providers.OpenRouter.APIKey)
	}
	if cfg.Providers.Vertex != nil {
		fields = append(fields,
			&cfg.Providers.Vertex.ProjectID, &cfg.Providers.Vertex.Location,
			&cfg.Providers.Vertex.Credentials, &cfg.Providers.Vertex.CredentialsPath,
			&cfg.Providers.Vertex.EndpointOverride)
	}
	if cfg.Providers.Anthropic != nil {
		fields = append(fields, &cfg.Providers.Anthropic.APIKey, &cfg.Providers.Anthropic.BaseURL)
	}

	for _, f := range fields {
		if *f == "" {
			continue
		}
		resolved, err := resolveString(*f)
		if err != nil {
			return err
		}
		*f = resolved
	}
	return nil
}
