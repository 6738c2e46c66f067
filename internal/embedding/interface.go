package embedding

import "context"

// Embedding is the interface every embedding model client implements.
// All vectors produced by one configured model share a fixed dimensionality;
// every index in the system is built against that single dimensionality.
type Embedding interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for a batch of texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
