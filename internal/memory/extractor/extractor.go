package extractor

import (
	"context"
	"time"

	"mnemograph/internal/models"
)

// EntityExtractor extracts candidate entities from conversational text.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, content, priorContext string) ([]models.CandidateEntity, error)
}

// RelationshipExtractor extracts typed, time-scoped links between entities
// that have already been resolved to graph identities.
type RelationshipExtractor interface {
	ExtractRelationships(ctx context.Context, content string, entities []models.ResolvedEntity, referenceTime time.Time, episodeID string) ([]*models.MemoryLink, error)
}

// Summarizer produces a bounded-length summary of what the text says about
// one entity.
type Summarizer interface {
	Summarize(ctx context.Context, entityName, content string) (string, error)
}
