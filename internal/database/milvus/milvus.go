package milvus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"mnemograph/internal/config"
)

var (
	instance *MilvusClient
	once     sync.Once
	initErr  error
)

// Record kinds stored in the shared embedding collection.
const (
	KindNode = "node"
	KindEdge = "edge"
)

// MilvusClient holds the Milvus client instance and its configuration.
type MilvusClient struct {
	Client client.Client
	Config *config.MilvusConfig
}

// GetClient creates and returns the singleton Milvus client instance.
func GetClient(ctx context.Context, cfg *config.MilvusConfig) (*MilvusClient, error) {
	once.Do(func() {
		c, err := client.NewClient(ctx, client.Config{Address: cfg.Address})
		if err != nil {
			initErr = fmt.Errorf("failed to connect to Milvus: %w", err)
			return
		}
		log.Println("✅ Connected to Milvus!")
		instance = &MilvusClient{Client: c, Config: cfg}
	})
	return instance, initErr
}

// Close safely shuts down the Milvus connection.
func (c *MilvusClient) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

// HealthCheck verifies the Milvus connection is alive.
func (c *MilvusClient) HealthCheck(ctx context.Context) error {
	if c.Client == nil {
		return fmt.Errorf("milvus client is nil")
	}
	if _, err := c.Client.ListCollections(ctx); err != nil {
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	return nil
}

// EnsureCollection creates the embedding collection and its HNSW cosine
// index if they do not exist yet. Safe to call repeatedly and to race under
// concurrent startup: create-if-absent failures from a concurrent creator
// are ignored once the collection turns out to exist.
func (c *MilvusClient) EnsureCollection(ctx context.Context, dims int) error {
	collName := c.Config.CollectionName

	has, err := c.Client.HasCollection(ctx, collName)
	if err != nil {
		return fmt.Errorf("failed to check collection '%s': %w", collName, err)
	}
	if !has {
		schema := entity.NewSchema().
			WithName(collName).
			WithDescription("entity and fact embeddings for the memory graph").
			WithField(entity.NewField().WithName("id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName("group_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
			WithField(entity.NewField().WithName("kind").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8)).
			WithField(entity.NewField().WithName("embedding").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dims)))

		if err := c.Client.CreateCollection(ctx, schema, 1); err != nil {
			// A concurrent creator may have won the race.
			if has, hasErr := c.Client.HasCollection(ctx, collName); hasErr != nil || !has {
				return fmt.Errorf("failed to create collection '%s': %w", collName, err)
			}
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
		if err != nil {
			return fmt.Errorf("failed to build HNSW index definition: %w", err)
		}
		if err := c.Client.CreateIndex(ctx, collName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index on '%s': %w", collName, err)
		}
	}

	if err := c.Client.LoadCollection(ctx, collName, false); err != nil {
		return fmt.Errorf("failed to load collection '%s': %w", collName, err)
	}
	return nil
}

// Upsert writes one embedding record keyed by id. Re-upserting the same id
// replaces the previous vector.
func (c *MilvusClient) Upsert(ctx context.Context, id, groupID, kind string, vector []float32) error {
	idCol := entity.NewColumnVarChar("id", []string{id})
	groupCol := entity.NewColumnVarChar("group_id", []string{groupID})
	kindCol := entity.NewColumnVarChar("kind", []string{kind})
	vecCol := entity.NewColumnFloatVector("embedding", len(vector), [][]float32{vector})

	if _, err := c.Client.Upsert(ctx, c.Config.CollectionName, "", idCol, groupCol, kindCol, vecCol); err != nil {
		return fmt.Errorf("failed to upsert embedding into Milvus: %w", err)
	}
	return nil
}

// Delete removes an embedding record by id.
func (c *MilvusClient) Delete(ctx context.Context, id string) error {
	expr := fmt.Sprintf("id == \"%s\"", id)
	if err := c.Client.Delete(ctx, c.Config.CollectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete embedding from Milvus: %w", err)
	}
	return nil
}

// Hit is one approximate-nearest-neighbor match.
type Hit struct {
	ID    string
	Score float64
}

// Search runs a cosine ANN search scoped to one partition key and record
// kind, returning ids with their similarity scores.
func (c *MilvusClient) Search(ctx context.Context, groupID, kind string, topK int, vector []float32) ([]Hit, error) {
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	expr := fmt.Sprintf("group_id == \"%s\" && kind == \"%s\"", groupID, kind)
	results, err := c.Client.Search(
		ctx,
		c.Config.CollectionName,
		nil,
		expr,
		[]string{"id"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	var hits []Hit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			id, err := result.IDs.GetAsString(i)
			if err != nil {
				continue
			}
			hits = append(hits, Hit{ID: id, Score: float64(result.Scores[i])})
		}
	}
	return hits, nil
}
