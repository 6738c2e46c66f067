package llm

import (
	"context"
	"fmt"

	"mnemograph/internal/config"
)

// LLM is the completion port used by entity extraction, reflexion checks,
// relationship extraction and summary generation. All call sites parse
// loosely structured model output, so implementations return the raw text.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewLLM creates a completion client for the configured provider.
func NewLLM(cfg *config.LLMConfig) (LLM, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(context.Background(), cfg.Gemini.Model, cfg.Gemini.APIKey)
	case "openai":
		return NewOpenAI(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), nil
	case "ollama":
		return NewOllama(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
