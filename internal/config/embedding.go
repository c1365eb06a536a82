package config

import (
	"fmt"
	"time"
)

// Embedding provider names.
const (
	ProviderOllama           = "ollama"
	ProviderJina             = "jina"
	ProviderOpenAICompatible = "openai-compatible"
)

// EmbeddingConfig configures the embedding model shared by the transform step
// and the query path. Both must use the same model and dimension.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Validate checks that the embedding configuration has all required fields.
func (c *EmbeddingConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("embedding: model is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding: dimensions must be positive")
	}

	switch c.Provider {
	case ProviderOllama:
	case ProviderJina:
		if c.APIKey == "" {
			return fmt.Errorf("embedding: api_key is required for %s (JINA_API_KEY)", c.Provider)
		}
	case ProviderOpenAICompatible:
		if c.BaseURL == "" || c.APIKey == "" {
			return fmt.Errorf("embedding: base_url and api_key are required for %s", c.Provider)
		}
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}
	return nil
}
