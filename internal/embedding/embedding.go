package embedding

import (
	"fmt"

	"mnemograph/internal/config"
)

// NewEmdModel creates an Embedding model instance for the configured
// provider.
func NewEmdModel(cfg *config.EmbeddingConfig) (Embedding, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGoogleModel(cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "openai":
		return NewOpenAIModel(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Dimensions)
	case "ollama":
		return NewOllamaModel(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
