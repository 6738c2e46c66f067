package dedupe

import (
	"context"
	"fmt"
	"strings"

	"mnemograph/internal/embedding"
	"mnemograph/internal/llm"
	"mnemograph/internal/memory/extractor"
	"mnemograph/internal/memory/store"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
	"mnemograph/pkg/util"
)

// Deduplicator maps candidate entities onto existing graph identities.
// The returned map is keyed by candidate index; an index absent from the
// map means the candidate is a genuinely new entity.
type Deduplicator interface {
	Deduplicate(ctx context.Context, candidates []models.CandidateEntity, content, priorContext, groupID string) (map[int]string, error)
}

const disambiguationPrompt = `You are deciding whether an entity mentioned in conversational text refers to one already known in a knowledge graph.

Candidate entity: "%s"

Known entities:
%s

Given the text below, respond with a JSON object of the form:
{"duplicate_of": N}

where N is the 1-based number of the known entity the candidate refers to, or 0 if it is a different entity.

Text:
%s
`

// EmbeddingDeduplicator resolves candidates by exact normalized-name match
// first, then by embedding similarity with LLM-assisted disambiguation over
// the top matches. Resolutions are cached per (groupID, normalizedName);
// the persistence layer's upsert key remains the determinism backstop.
type EmbeddingDeduplicator struct {
	graph     store.GraphStore
	index     store.VectorIndex // nil when the approximate index is disabled
	embedder  embedding.Embedding
	llm       llm.LLM
	threshold float64
	cache     *util.LRUCache[string, string]
	logger    *logger.Logger
}

// NewEmbeddingDeduplicator creates a new EmbeddingDeduplicator. threshold
// is the similarity above which the LLM is consulted.
func NewEmbeddingDeduplicator(graph store.GraphStore, index store.VectorIndex, embedder embedding.Embedding, llmClient llm.LLM, threshold float64, log *logger.Logger) (*EmbeddingDeduplicator, error) {
	cache, err := util.NewLRUCache[string, string](util.CacheConfig{Capacity: 4096})
	if err != nil {
		return nil, err
	}
	return &EmbeddingDeduplicator{
		graph:     graph,
		index:     index,
		embedder:  embedder,
		llm:       llmClient,
		threshold: threshold,
		cache:     cache,
		logger:    log,
	}, nil
}

// Deduplicate resolves each candidate against the partition's existing
// nodes. Identical normalized names always resolve to the same identity.
func (d *EmbeddingDeduplicator) Deduplicate(ctx context.Context, candidates []models.CandidateEntity, content, priorContext, groupID string) (map[int]string, error) {
	resolved := make(map[int]string)

	for i, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		normalized := models.NormalizeName(candidate.Name)
		cacheKey := groupID + "\x00" + normalized

		if uuid, ok := d.cache.Get(cacheKey); ok {
			resolved[i] = uuid
			continue
		}

		// Exact dedup-key match settles it without a model call.
		node, err := d.graph.GetNodeByName(ctx, groupID, normalized)
		if err != nil {
			return nil, fmt.Errorf("dedup lookup failed for %q: %w", candidate.Name, err)
		}
		if node != nil {
			d.cache.Put(cacheKey, node.UUID)
			resolved[i] = node.UUID
			continue
		}

		uuid, err := d.resolveBySimilarity(ctx, candidate, content, groupID)
		if err != nil {
			return nil, err
		}
		if uuid != "" {
			d.cache.Put(cacheKey, uuid)
			resolved[i] = uuid
		}
	}

	return resolved, nil
}

// resolveBySimilarity searches the partition for near matches and, when any
// clears the threshold, asks the model whether the candidate is one of
// them. Empty return means "new entity". Similarity failures degrade to
// "new": the persistence upsert key still prevents duplicate records for
// an identical normalized name.
func (d *EmbeddingDeduplicator) resolveBySimilarity(ctx context.Context, candidate models.CandidateEntity, content, groupID string) (string, error) {
	vector, err := d.embedder.Embed(ctx, candidate.Name)
	if err != nil {
		d.logger.WithError(err).Warn("failed to embed candidate name, treating as new entity")
		return "", nil
	}

	matches, err := d.nearestNodes(ctx, groupID, vector, 5)
	if err != nil {
		d.logger.WithError(err).Warn("similarity lookup failed, treating candidate as new entity")
		return "", nil
	}

	var shortlist []*models.MemoryObject
	for _, match := range matches {
		if match.Score >= d.threshold {
			shortlist = append(shortlist, match.Node)
		}
	}
	if len(shortlist) == 0 {
		return "", nil
	}

	var table strings.Builder
	for i, node := range shortlist {
		fmt.Fprintf(&table, "%d. %s", i+1, node.Name)
		if node.Summary != "" {
			fmt.Fprintf(&table, " — %s", node.Summary)
		}
		table.WriteString("\n")
	}

	resp, err := d.llm.Complete(ctx, fmt.Sprintf(disambiguationPrompt, candidate.Name, table.String(), content))
	if err != nil {
		d.logger.WithError(err).Warn("disambiguation completion failed, treating candidate as new entity")
		return "", nil
	}

	var verdict struct {
		DuplicateOf int `json:"duplicate_of"`
	}
	if err := extractor.DecodeJSONBlock(resp, &verdict); err != nil {
		d.logger.WithError(err).Warn("failed to parse disambiguation output, treating candidate as new entity")
		return "", nil
	}
	if verdict.DuplicateOf < 1 || verdict.DuplicateOf > len(shortlist) {
		return "", nil
	}
	return shortlist[verdict.DuplicateOf-1].UUID, nil
}

// nearestNodes prefers the approximate index and falls back to the
// exhaustive scan.
func (d *EmbeddingDeduplicator) nearestNodes(ctx context.Context, groupID string, vector []float32, topK int) ([]store.ScoredNode, error) {
	if d.index != nil {
		hits, err := d.index.SearchNodes(ctx, groupID, vector, topK)
		if err == nil {
			uuids := make([]string, 0, len(hits))
			scores := make(map[string]float64, len(hits))
			for _, hit := range hits {
				uuids = append(uuids, hit.UUID)
				scores[hit.UUID] = hit.Score
			}
			nodes, err := d.graph.NodesByUUIDs(ctx, groupID, uuids)
			if err != nil {
				return nil, err
			}
			out := make([]store.ScoredNode, 0, len(nodes))
			for _, node := range nodes {
				out = append(out, store.ScoredNode{Node: node, Score: scores[node.UUID]})
			}
			return out, nil
		}
		d.logger.WithError(err).Warn("vector index search failed, falling back to exhaustive scan")
	}
	return d.graph.VectorSearchNodes(ctx, groupID, vector, topK, 0)
}
