package store

import (
	"context"
	"fmt"

	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// PersistenceService performs idempotent writes of nodes and edges into the
// graph store and mirrors their embeddings into the vector index.
type PersistenceService struct {
	graph  GraphStore
	index  VectorIndex // nil when the approximate index is disabled
	logger *logger.Logger
}

// NewPersistenceService creates a new PersistenceService. index may be nil.
func NewPersistenceService(graph GraphStore, index VectorIndex, log *logger.Logger) *PersistenceService {
	return &PersistenceService{graph: graph, index: index, logger: log}
}

// InitializeIndexes ensures the full-text and vector indexes exist.
// Create-if-absent on both sides makes it safe to call repeatedly and to
// race under concurrent startup.
func (p *PersistenceService) InitializeIndexes(ctx context.Context) error {
	if err := p.graph.EnsureIndexes(ctx); err != nil {
		return err
	}
	if p.index != nil {
		if err := p.index.Ensure(ctx); err != nil {
			return fmt.Errorf("failed to ensure vector index: %w", err)
		}
	}
	return nil
}

// Save upserts nodes, then the edges that reference them. The ordering is
// load-bearing: an edge needs both endpoints to exist. Node upserts may
// resolve a provisional UUID onto an already-stored identity, so edge
// endpoints are remapped before the edge write. Graph write failures
// propagate; a failed write must not be mistaken for success. Mirroring
// embeddings into the vector index is best-effort, because the exhaustive
// search path keeps working from the graph store alone.
func (p *PersistenceService) Save(ctx context.Context, nodes []*models.MemoryObject, edges []*models.MemoryLink) error {
	before := make(map[string]string, len(nodes))
	for _, node := range nodes {
		before[node.NormalizedName] = node.UUID
	}

	if err := p.graph.UpsertNodes(ctx, nodes); err != nil {
		return fmt.Errorf("node upsert failed: %w", err)
	}

	// provisional uuid -> stored uuid, for edges built before the upsert.
	remap := make(map[string]string, len(nodes))
	for _, node := range nodes {
		if provisional, ok := before[node.NormalizedName]; ok && provisional != node.UUID {
			remap[provisional] = node.UUID
		}
	}
	for _, edge := range edges {
		if stored, ok := remap[edge.SourceNodeUUID]; ok {
			edge.SourceNodeUUID = stored
		}
		if stored, ok := remap[edge.TargetNodeUUID]; ok {
			edge.TargetNodeUUID = stored
		}
	}

	if err := p.graph.UpsertEdges(ctx, edges); err != nil {
		return fmt.Errorf("edge upsert failed: %w", err)
	}

	p.mirrorEmbeddings(ctx, nodes, edges)
	return nil
}

func (p *PersistenceService) mirrorEmbeddings(ctx context.Context, nodes []*models.MemoryObject, edges []*models.MemoryLink) {
	if p.index == nil {
		return
	}
	for _, node := range nodes {
		if len(node.Embedding) == 0 {
			continue
		}
		if err := p.index.UpsertNodeEmbedding(ctx, node.UUID, node.GroupID, node.Embedding); err != nil {
			p.logger.WithError(err).WithField("uuid", node.UUID).Warn("failed to mirror node embedding into vector index")
		}
	}
	for _, edge := range edges {
		if len(edge.Embedding) == 0 {
			continue
		}
		if err := p.index.UpsertEdgeEmbedding(ctx, edge.UUID, edge.GroupID, edge.Embedding); err != nil {
			p.logger.WithError(err).WithField("uuid", edge.UUID).Warn("failed to mirror edge embedding into vector index")
		}
	}
}
