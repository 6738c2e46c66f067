package store

import (
	"context"

	"mnemograph/internal/database/milvus"
)

// VectorHit is one approximate-index match: a node or edge identity with
// its cosine similarity.
type VectorHit struct {
	UUID  string
	Score float64
}

// VectorIndex is the approximate-nearest-neighbor side of the store. The
// graph store remains the source of truth; the index only accelerates the
// vector retrieval strategy, with the exhaustive scan as fallback.
type VectorIndex interface {
	Ensure(ctx context.Context) error
	UpsertNodeEmbedding(ctx context.Context, uuid, groupID string, vector []float32) error
	UpsertEdgeEmbedding(ctx context.Context, uuid, groupID string, vector []float32) error
	DeleteEmbedding(ctx context.Context, uuid string) error
	SearchNodes(ctx context.Context, groupID string, vector []float32, topK int) ([]VectorHit, error)
	SearchEdges(ctx context.Context, groupID string, vector []float32, topK int) ([]VectorHit, error)
}

// MilvusIndex is a VectorIndex backed by a Milvus collection.
type MilvusIndex struct {
	client *milvus.MilvusClient
	dims   int
}

// NewMilvusIndex creates a new MilvusIndex.
func NewMilvusIndex(client *milvus.MilvusClient, dims int) *MilvusIndex {
	return &MilvusIndex{client: client, dims: dims}
}

// Ensure creates the collection and index when absent.
func (m *MilvusIndex) Ensure(ctx context.Context) error {
	return m.client.EnsureCollection(ctx, m.dims)
}

// UpsertNodeEmbedding stores an entity-name embedding.
func (m *MilvusIndex) UpsertNodeEmbedding(ctx context.Context, uuid, groupID string, vector []float32) error {
	return m.client.Upsert(ctx, uuid, groupID, milvus.KindNode, vector)
}

// UpsertEdgeEmbedding stores a fact embedding.
func (m *MilvusIndex) UpsertEdgeEmbedding(ctx context.Context, uuid, groupID string, vector []float32) error {
	return m.client.Upsert(ctx, uuid, groupID, milvus.KindEdge, vector)
}

// DeleteEmbedding removes an embedding record.
func (m *MilvusIndex) DeleteEmbedding(ctx context.Context, uuid string) error {
	return m.client.Delete(ctx, uuid)
}

// SearchNodes runs a cosine ANN search over entity embeddings.
func (m *MilvusIndex) SearchNodes(ctx context.Context, groupID string, vector []float32, topK int) ([]VectorHit, error) {
	return m.search(ctx, groupID, milvus.KindNode, vector, topK)
}

// SearchEdges runs a cosine ANN search over fact embeddings.
func (m *MilvusIndex) SearchEdges(ctx context.Context, groupID string, vector []float32, topK int) ([]VectorHit, error) {
	return m.search(ctx, groupID, milvus.KindEdge, vector, topK)
}

func (m *MilvusIndex) search(ctx context.Context, groupID, kind string, vector []float32, topK int) ([]VectorHit, error) {
	hits, err := m.client.Search(ctx, groupID, kind, topK, vector)
	if err != nil {
		return nil, err
	}
	out := make([]VectorHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, VectorHit{UUID: hit.ID, Score: hit.Score})
	}
	return out, nil
}
