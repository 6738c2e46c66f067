package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mnemograph/internal/embedding"
	"mnemograph/internal/memory/dedupe"
	"mnemograph/internal/memory/extractor"
	"mnemograph/internal/memory/search"
	"mnemograph/internal/memory/store"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// ErrMemoryDisabled is returned by the noop implementation when the memory
// subsystem is switched off in configuration.
var ErrMemoryDisabled = errors.New("memory subsystem is disabled")

// Memory is the full surface of the memory engine: episodic ingestion,
// hybrid retrieval and manual curation.
type Memory interface {
	AddEpisode(ctx context.Context, episode *models.Episode) error
	AddEpisodes(ctx context.Context, episodes []*models.Episode) error
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)

	AddFact(ctx context.Context, req AddFactRequest) (*Result, error)
	ListFacts(ctx context.Context, req ListFactsRequest) ([]*models.MemoryLink, error)
	InvalidateFact(ctx context.Context, req InvalidateFactRequest) (*Result, error)
	UpdateEntity(ctx context.Context, req UpdateEntityRequest) (*Result, error)
	DeleteEntity(ctx context.Context, req DeleteEntityRequest) (*Result, error)
}

// MemoryService runs the extraction pipeline and serves retrieval. One
// instance is shared by the HTTP handlers and the Kafka consumer.
type MemoryService struct {
	entities      extractor.EntityExtractor
	relationships extractor.RelationshipExtractor
	summarizer    extractor.Summarizer
	dedupe        dedupe.Deduplicator
	persistence   *store.PersistenceService
	graph         store.GraphStore
	index         store.VectorIndex // nil when the approximate index is disabled
	engine        search.Engine
	embedder      embedding.Embedding

	defaultGroupID string
	parallelism    int
	logger         *logger.Logger
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(
	entities extractor.EntityExtractor,
	relationships extractor.RelationshipExtractor,
	summarizer extractor.Summarizer,
	dd dedupe.Deduplicator,
	persistence *store.PersistenceService,
	graph store.GraphStore,
	index store.VectorIndex,
	engine search.Engine,
	embedder embedding.Embedding,
	defaultGroupID string,
	parallelism int,
	log *logger.Logger,
) *MemoryService {
	if parallelism < 1 {
		parallelism = 1
	}
	return &MemoryService{
		entities:       entities,
		relationships:  relationships,
		summarizer:     summarizer,
		dedupe:         dd,
		persistence:    persistence,
		graph:          graph,
		index:          index,
		engine:         engine,
		embedder:       embedder,
		defaultGroupID: defaultGroupID,
		parallelism:    parallelism,
		logger:         log,
	}
}

// AddEpisode runs the full pipeline for one episode: extract candidates,
// resolve them against the existing graph, extract relationships among the
// resolved set, then persist nodes before edges. An episode from which
// nothing could be extracted is a successful no-op.
func (s *MemoryService) AddEpisode(ctx context.Context, episode *models.Episode) error {
	if episode == nil || episode.Content == "" {
		return fmt.Errorf("episode content must not be empty")
	}
	if episode.GroupID == "" {
		episode.GroupID = s.defaultGroupID
	}
	if episode.EpisodeID == "" {
		episode.EpisodeID = uuid.NewString()
	}
	if episode.ReferenceTime.IsZero() {
		episode.ReferenceTime = time.Now().UTC()
	}

	log := s.logger.WithField("episode_id", episode.EpisodeID)

	// 1. Extract candidate entities.
	candidates, err := s.entities.ExtractEntities(ctx, episode.Content, episode.PriorContext)
	if err != nil {
		return fmt.Errorf("entity extraction failed: %w", err)
	}
	if len(candidates) == 0 {
		log.Info("no entities extracted from episode")
		return nil
	}

	// 2. Resolve candidates against existing graph identities.
	existing, err := s.dedupe.Deduplicate(ctx, candidates, episode.Content, episode.PriorContext, episode.GroupID)
	if err != nil {
		return fmt.Errorf("entity deduplication failed: %w", err)
	}

	// 3. Materialize the resolved batch: nodes to persist plus the table
	// the relationship extractor indexes into.
	nodes, resolved := s.materializeEntities(ctx, candidates, existing, episode)

	// 4. Extract relationships among the resolved entities.
	links, err := s.relationships.ExtractRelationships(ctx, episode.Content, resolved, episode.ReferenceTime, episode.EpisodeID)
	if err != nil {
		return fmt.Errorf("relationship extraction failed: %w", err)
	}
	for _, link := range links {
		link.GroupID = episode.GroupID
	}

	// 5. Persist, nodes before edges.
	if err := s.persistence.Save(ctx, nodes, links); err != nil {
		return fmt.Errorf("failed to persist episode: %w", err)
	}

	log.WithPayload(map[string]interface{}{
		"entities": len(nodes),
		"links":    len(links),
	}).Info("episode ingested")
	return nil
}

// materializeEntities turns candidates plus their resolutions into
// persistable nodes and the positional table for relationship extraction.
// Summaries and name embeddings are best effort.
func (s *MemoryService) materializeEntities(ctx context.Context, candidates []models.CandidateEntity, existing map[int]string, episode *models.Episode) ([]*models.MemoryObject, []models.ResolvedEntity) {
	now := time.Now().UTC()
	nodes := make([]*models.MemoryObject, 0, len(candidates))
	resolved := make([]models.ResolvedEntity, 0, len(candidates))

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	vectors, err := s.embedder.EmbedBatch(ctx, names)
	if err != nil {
		s.logger.WithError(err).Warn("failed to embed entity names, persisting without embeddings")
		vectors = nil
	}

	for i, candidate := range candidates {
		id, known := existing[i]
		isNew := !known
		if isNew {
			id = uuid.NewString()
		}

		summary := ""
		if isNew {
			summary, err = s.summarizer.Summarize(ctx, candidate.Name, episode.Content)
			if err != nil {
				s.logger.WithError(err).Warn("entity summarization failed, persisting without summary")
				summary = ""
			}
		}

		var vector []float32
		if i < len(vectors) {
			vector = vectors[i]
		}

		nodes = append(nodes, &models.MemoryObject{
			UUID:           id,
			Name:           candidate.Name,
			NormalizedName: models.NormalizeName(candidate.Name),
			Embedding:      vector,
			Summary:        summary,
			GroupID:        episode.GroupID,
			Labels:         []string{"Memory", candidate.TypeID.String()},
			CreatedAt:      now,
			ValidAt:        models.ValidAlways,
			InvalidAt:      models.StillValid,
		})
		resolved = append(resolved, models.ResolvedEntity{
			UUID:   id,
			Name:   candidate.Name,
			TypeID: candidate.TypeID,
			IsNew:  isNew,
		})
	}
	return nodes, resolved
}

// AddEpisodes ingests a batch with bounded parallelism. Episodes are
// independent; one failure does not stop the rest, and the first error is
// returned after all episodes finish.
func (s *MemoryService) AddEpisodes(ctx context.Context, episodes []*models.Episode) error {
	g := &errgroup.Group{}
	g.SetLimit(s.parallelism)
	for _, episode := range episodes {
		episode := episode
		g.Go(func() error {
			if err := s.AddEpisode(ctx, episode); err != nil {
				s.logger.WithError(err).WithField("episode_id", episode.EpisodeID).Error("episode ingestion failed")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Search delegates to the hybrid engine, filling in the default partition.
func (s *MemoryService) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	if opts.GroupID == "" {
		opts.GroupID = s.defaultGroupID
	}
	return s.engine.Search(ctx, query, opts)
}
