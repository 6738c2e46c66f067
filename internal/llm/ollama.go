package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// Ollama is an LLM client for a local Ollama instance.
type Ollama struct {
	client *ollama.Client
	model  string
}

// NewOllama creates a new Ollama client. An empty baseURL defaults to
// "http://localhost:11434".
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	hc := &http.Client{Timeout: 300 * time.Second}
	return &Ollama{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Complete sends a prompt to Ollama and returns the accumulated response.
func (o *Ollama) Complete(ctx context.Context, prompt string) (string, error) {
	stream := false
	var sb strings.Builder
	err := o.client.Generate(ctx, &ollama.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp ollama.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	return sb.String(), nil
}
