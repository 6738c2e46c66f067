package extractor

import (
	"context"
	"fmt"
	"strings"

	"mnemograph/internal/llm"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// LlmEntityExtractor is an EntityExtractor that prompts a completion model
// and refines the result with a bounded reflexion loop.
type LlmEntityExtractor struct {
	llm           llm.LLM
	maxReflexions int
	logger        *logger.Logger
}

// NewLlmEntityExtractor creates a new LlmEntityExtractor. maxReflexions
// bounds the number of extra extraction rounds.
func NewLlmEntityExtractor(llmClient llm.LLM, maxReflexions int, log *logger.Logger) *LlmEntityExtractor {
	return &LlmEntityExtractor{llm: llmClient, maxReflexions: maxReflexions, logger: log}
}

type extractedEntity struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type"`
}

type extractionEnvelope struct {
	ExtractedEntities []extractedEntity `json:"extracted_entities"`
}

type missedEnvelope struct {
	MissedEntities []string `json:"missed_entities"`
}

// ExtractEntities runs the extraction prompt followed by up to
// maxReflexions missed-entity rounds. The loop is sequential: each round
// depends on the previous round's names. Extraction is best-effort; parse
// failures are logged and treated as "no findings" for that stage.
func (e *LlmEntityExtractor) ExtractEntities(ctx context.Context, content, priorContext string) ([]models.CandidateEntity, error) {
	candidates := e.runExtraction(ctx, content, priorContext, "")

	for i := 0; i < e.maxReflexions; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		missed := e.findMissedEntities(ctx, content, priorContext, candidates)
		if len(missed) == 0 {
			break
		}

		instruction := fmt.Sprintf("Make sure to include the following entities that were missed in a previous pass: %s.", strings.Join(missed, ", "))
		candidates = e.runExtraction(ctx, content, priorContext, instruction)
	}

	return candidates, nil
}

// runExtraction performs one extraction round. A parse failure yields an
// empty candidate list, never an error: one bad model response must not
// fail the whole ingestion pipeline.
func (e *LlmEntityExtractor) runExtraction(ctx context.Context, content, priorContext, customInstruction string) []models.CandidateEntity {
	var sb strings.Builder
	sb.WriteString(extractEntitiesPrompt)
	if customInstruction != "" {
		sb.WriteString("\n")
		sb.WriteString(customInstruction)
	}
	if priorContext != "" {
		sb.WriteString("\n\nPrior context:\n")
		sb.WriteString(priorContext)
	}
	sb.WriteString("\n\nText:\n")
	sb.WriteString(content)

	resp, err := e.llm.Complete(ctx, sb.String())
	if err != nil {
		e.logger.WithError(err).Error("entity extraction completion failed")
		return nil
	}

	var envelope extractionEnvelope
	if err := DecodeJSONBlock(resp, &envelope); err != nil {
		e.logger.WithError(err).Warn("failed to parse entity extraction output")
		return nil
	}

	candidates := make([]models.CandidateEntity, 0, len(envelope.ExtractedEntities))
	for _, ent := range envelope.ExtractedEntities {
		name := strings.TrimSpace(ent.Name)
		if name == "" {
			continue
		}
		candidates = append(candidates, models.CandidateEntity{
			Name:   name,
			TypeID: models.ParseEntityType(ent.EntityType),
		})
	}
	return candidates
}

// findMissedEntities asks the model what was overlooked given the names
// extracted so far. Failures degrade to "nothing missed".
func (e *LlmEntityExtractor) findMissedEntities(ctx context.Context, content, priorContext string, candidates []models.CandidateEntity) []string {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, missedEntitiesPrompt, strings.Join(names, ", "))
	if priorContext != "" {
		sb.WriteString("\n\nPrior context:\n")
		sb.WriteString(priorContext)
	}
	sb.WriteString("\n\nText:\n")
	sb.WriteString(content)

	resp, err := e.llm.Complete(ctx, sb.String())
	if err != nil {
		e.logger.WithError(err).Error("missed-entity check completion failed")
		return nil
	}

	var envelope missedEnvelope
	if err := DecodeJSONBlock(resp, &envelope); err != nil {
		e.logger.WithError(err).Warn("failed to parse missed-entity check output")
		return nil
	}

	missed := make([]string, 0, len(envelope.MissedEntities))
	for _, name := range envelope.MissedEntities {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			missed = append(missed, trimmed)
		}
	}
	return missed
}

// Summarize generates a one-sentence summary for an entity. An empty
// summary is returned on failure so the persistence layer keeps any summary
// it already has.
func (e *LlmEntityExtractor) Summarize(ctx context.Context, entityName, content string) (string, error) {
	prompt := fmt.Sprintf(summarizeEntityPrompt, entityName, content)
	resp, err := e.llm.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("summary completion failed: %w", err)
	}
	return strings.TrimSpace(resp), nil
}
