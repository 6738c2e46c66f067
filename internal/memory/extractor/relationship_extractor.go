package extractor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mnemograph/internal/embedding"
	"mnemograph/internal/llm"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// LlmRelationshipExtractor is a RelationshipExtractor that prompts a
// completion model for typed edges between resolved entities.
type LlmRelationshipExtractor struct {
	llm      llm.LLM
	embedder embedding.Embedding
	logger   *logger.Logger
}

// NewLlmRelationshipExtractor creates a new LlmRelationshipExtractor.
func NewLlmRelationshipExtractor(llmClient llm.LLM, embedder embedding.Embedding, log *logger.Logger) *LlmRelationshipExtractor {
	return &LlmRelationshipExtractor{llm: llmClient, embedder: embedder, logger: log}
}

type extractedEdge struct {
	SourceEntityID int    `json:"source_entity_id"`
	TargetEntityID int    `json:"target_entity_id"`
	RelationType   string `json:"relation_type"`
	Fact           string `json:"fact"`
	ValidAt        string `json:"valid_at"`
	InvalidAt      string `json:"invalid_at"`
}

type edgesEnvelope struct {
	Edges []extractedEdge `json:"edges"`
}

// ExtractRelationships prompts the model with a 1-based index table of the
// resolved entities and validates each proposed edge individually: one bad
// edge does not discard the batch. An edge needs two endpoints, so fewer
// than two entities short-circuits to an empty result without a model call.
func (e *LlmRelationshipExtractor) ExtractRelationships(ctx context.Context, content string, entities []models.ResolvedEntity, referenceTime time.Time, episodeID string) ([]*models.MemoryLink, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	var table strings.Builder
	for i, ent := range entities {
		fmt.Fprintf(&table, "%d. %s (%s)\n", i+1, ent.Name, ent.TypeID)
	}

	prompt := fmt.Sprintf(extractRelationshipsPrompt, table.String())
	prompt += fmt.Sprintf("\nReference time: %s\n\nText:\n%s", models.FormatInstant(referenceTime), content)

	resp, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		e.logger.WithError(err).Error("relationship extraction completion failed")
		return nil, nil
	}

	var envelope edgesEnvelope
	if err := DecodeJSONBlock(resp, &envelope); err != nil {
		e.logger.WithError(err).Warn("failed to parse relationship extraction output")
		return nil, nil
	}

	var links []*models.MemoryLink
	for _, edge := range envelope.Edges {
		link, ok := e.buildLink(ctx, edge, entities, episodeID)
		if !ok {
			continue
		}
		links = append(links, link)
	}
	return links, nil
}

// buildLink validates one proposed edge and resolves it into a MemoryLink.
func (e *LlmRelationshipExtractor) buildLink(ctx context.Context, edge extractedEdge, entities []models.ResolvedEntity, episodeID string) (*models.MemoryLink, bool) {
	if edge.SourceEntityID < 1 || edge.SourceEntityID > len(entities) ||
		edge.TargetEntityID < 1 || edge.TargetEntityID > len(entities) {
		e.logger.WithPayload(map[string]interface{}{
			"source_entity_id": edge.SourceEntityID,
			"target_entity_id": edge.TargetEntityID,
		}).Warn("skipping edge with out-of-range entity index")
		return nil, false
	}
	if strings.TrimSpace(edge.RelationType) == "" || strings.TrimSpace(edge.Fact) == "" {
		e.logger.Warn("skipping edge with missing relation_type or fact")
		return nil, false
	}

	validAt := models.ParseTimestampOrSentinel(edge.ValidAt)
	invalidAt := models.StillValid
	if parsed := models.ParseTimestampOrSentinel(edge.InvalidAt); !parsed.Equal(models.ValidAlways) {
		invalidAt = parsed
	}

	vector, err := e.embedder.Embed(ctx, edge.Fact)
	if err != nil {
		e.logger.WithError(err).Warn("failed to embed fact text, storing edge without embedding")
		vector = nil
	}

	var sources []string
	if episodeID != "" {
		sources = []string{episodeID}
	}

	source := entities[edge.SourceEntityID-1]
	target := entities[edge.TargetEntityID-1]
	return &models.MemoryLink{
		UUID:           uuid.New().String(),
		SourceNodeUUID: source.UUID,
		TargetNodeUUID: target.UUID,
		RelationType:   strings.TrimSpace(edge.RelationType),
		Fact:           strings.TrimSpace(edge.Fact),
		Embedding:      vector,
		ValidAt:        validAt,
		InvalidAt:      invalidAt,
		CreatedAt:      time.Now().UTC(),
		Sources:        sources,
	}, true
}
