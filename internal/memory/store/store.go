package store

import (
	"context"
	"time"

	"mnemograph/internal/models"
)

// ScoredNode is a retrieval hit: a node plus the strategy's native score.
type ScoredNode struct {
	Node  *models.MemoryObject
	Score float64
}

// GraphStore is the persistence boundary for the memory graph. It executes
// parameterized graph queries and exposes the index, upsert and temporal
// filtering primitives the pipeline needs. Temporal fields cross this
// boundary as RFC3339 strings; UTC RFC3339 strings order lexicographically,
// which is what the inequality filters rely on.
type GraphStore interface {
	// EnsureIndexes creates the full-text index when absent. Safe to call
	// repeatedly and to race under concurrent startup.
	EnsureIndexes(ctx context.Context) error

	// UpsertNodes writes nodes keyed on (normalized_name, group_id). Each
	// node's UUID field is rewritten to the stored identity, which differs
	// from the provisional one when the node already existed.
	UpsertNodes(ctx context.Context, nodes []*models.MemoryObject) error

	// UpsertEdges writes edges keyed on (uuid, group_id); re-running the
	// same uuid is a no-op. Endpoints must exist.
	UpsertEdges(ctx context.Context, edges []*models.MemoryLink) error

	// FulltextSearchNodes matches the query against entity name and summary.
	FulltextSearchNodes(ctx context.Context, groupID, query string, limit int) ([]ScoredNode, error)

	// VectorSearchNodes is the exhaustive cosine-similarity scan; hits below
	// minScore are excluded.
	VectorSearchNodes(ctx context.Context, groupID string, vector []float32, limit int, minScore float64) ([]ScoredNode, error)

	// NodesByUUIDs loads nodes by their identities, skipping unknown ones.
	NodesByUUIDs(ctx context.Context, groupID string, uuids []string) ([]*models.MemoryObject, error)

	// NodesByEdgeUUIDs resolves edges to their endpoint nodes, deduplicated,
	// skipping unknown edge uuids.
	NodesByEdgeUUIDs(ctx context.Context, groupID string, edgeUUIDs []string) ([]*models.MemoryObject, error)

	// TraverseNeighborhood expands 1..hops from nodes textually matching the
	// query. When asOf is non-nil an edge is followed only while
	// validAt <= asOf < invalidAt.
	TraverseNeighborhood(ctx context.Context, groupID, query string, hops, limit int, asOf *time.Time) ([]ScoredNode, error)

	// GetNodeByName fetches one node by its dedup key, nil when absent.
	GetNodeByName(ctx context.Context, groupID, normalizedName string) (*models.MemoryObject, error)

	// FindValidEdge locates the newest currently-valid edge for the triple,
	// nil when there is none.
	FindValidEdge(ctx context.Context, groupID, fromNormalized, relationType, toNormalized string, now time.Time) (*models.MemoryLink, error)

	// EdgesFrom lists the outgoing edges of a node visible at asOf; a nil
	// asOf lists all of them.
	EdgesFrom(ctx context.Context, groupID, normalizedName string, asOf *time.Time) ([]*models.MemoryLink, error)

	// InvalidateEdge stamps the edge's invalid_at. The edge itself is kept.
	InvalidateEdge(ctx context.Context, groupID, edgeUUID string, at time.Time) error

	// UpdateNode patches summary and/or label; reports whether a node
	// matched.
	UpdateNode(ctx context.Context, groupID, normalizedName string, summary, label *string) (bool, error)

	// CountNodeEdges counts edges attached to a node in either direction.
	CountNodeEdges(ctx context.Context, groupID, normalizedName string) (int, error)

	// DeleteNode physically removes a node and, with cascade, its edges.
	// The only destructive operation in the store.
	DeleteNode(ctx context.Context, groupID, normalizedName string, cascade bool) (nodesDeleted, edgesDeleted int, err error)
}
