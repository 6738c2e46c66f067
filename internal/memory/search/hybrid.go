package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mnemograph/internal/embedding"
	"mnemograph/internal/memory/store"
	"mnemograph/internal/models"
	"mnemograph/internal/reranker"
	"mnemograph/pkg/logger"
)

// Options control a single hybrid search invocation.
type Options struct {
	GroupID string
	Limit   int
	Hops    int        // traversal depth, clamped to 1..2
	AsOf    *time.Time // nil means no temporal filter
	Rerank  bool
}

// Result is one retrieved memory object with its retrieval score. Scores
// from different strategies are not comparable; Score is only meaningful
// after reranking.
type Result struct {
	Node  *models.MemoryObject
	Score float64
}

// Engine retrieves memory objects for a free-text query.
type Engine interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// HybridEngine fans the query out over lexical, vector and graph-traversal
// retrieval, fuses the candidates and optionally reranks them. Each
// strategy degrades to an empty contribution on failure; the search as a
// whole fails only when every strategy failed.
type HybridEngine struct {
	graph       store.GraphStore
	index       store.VectorIndex // nil disables the approximate path
	embedder    embedding.Embedding
	reranker    reranker.Service
	minVecScore float64
	logger      *logger.Logger
}

// NewHybridEngine creates a new HybridEngine.
func NewHybridEngine(graph store.GraphStore, index store.VectorIndex, embedder embedding.Embedding, rr reranker.Service, minVecScore float64, log *logger.Logger) *HybridEngine {
	return &HybridEngine{
		graph:       graph,
		index:       index,
		embedder:    embedder,
		reranker:    rr,
		minVecScore: minVecScore,
		logger:      log,
	}
}

const defaultLimit = 10

// Search runs the three retrieval strategies concurrently and fuses their
// results. Candidate order within the fused pool follows strategy order
// (lexical, vector, traversal) with first-seen-wins deduplication by UUID.
func (e *HybridEngine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	if opts.GroupID == "" {
		return nil, fmt.Errorf("search requires a group id")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	hops := opts.Hops
	if hops < 1 {
		hops = 1
	} else if hops > 2 {
		hops = 2
	}

	// When reranking, over-fetch so the reranker has a pool to order.
	pool := limit
	if opts.Rerank && e.reranker != nil && e.reranker.IsEnabled() {
		pool = limit * 5
		if pool < 50 {
			pool = 50
		}
	}

	var (
		mu        sync.Mutex
		lexical   []*models.MemoryObject
		vector    []*models.MemoryObject
		traversal []*models.MemoryObject
		failures  []error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hits, err := e.graph.FulltextSearchNodes(gctx, opts.GroupID, query, pool)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			e.logger.WithError(err).Warn("lexical retrieval failed")
			failures = append(failures, fmt.Errorf("lexical: %w", err))
			return nil
		}
		for _, scored := range hits {
			lexical = append(lexical, scored.Node)
		}
		return nil
	})

	g.Go(func() error {
		nodes, err := e.vectorRetrieve(gctx, query, opts.GroupID, pool)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			e.logger.WithError(err).Warn("vector retrieval failed")
			failures = append(failures, fmt.Errorf("vector: %w", err))
			return nil
		}
		vector = nodes
		return nil
	})

	g.Go(func() error {
		nodes, err := e.graph.TraverseNeighborhood(gctx, opts.GroupID, query, hops, pool, opts.AsOf)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			e.logger.WithError(err).Warn("graph traversal retrieval failed")
			failures = append(failures, fmt.Errorf("traversal: %w", err))
			return nil
		}
		for _, scored := range nodes {
			traversal = append(traversal, scored.Node)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(failures) == 3 {
		return nil, fmt.Errorf("all retrieval strategies failed: %v", failures)
	}

	fused := fuse(lexical, vector, traversal)
	if len(fused) == 0 {
		return []Result{}, nil
	}

	if opts.Rerank && e.reranker != nil && e.reranker.IsEnabled() {
		return e.rerank(ctx, query, fused, limit)
	}

	if len(fused) > limit {
		fused = fused[:limit]
	}
	results := make([]Result, 0, len(fused))
	for _, node := range fused {
		results = append(results, Result{Node: node})
	}
	return results, nil
}

// vectorRetrieve embeds the query and searches the approximate index over
// entity and fact embeddings, falling back to the exhaustive in-graph scan
// when the index is absent or errors. A fact hit contributes the entities
// it connects.
func (e *HybridEngine) vectorRetrieve(ctx context.Context, query, groupID string, topK int) ([]*models.MemoryObject, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	if e.index != nil {
		hits, err := e.index.SearchNodes(ctx, groupID, vec, topK)
		if err == nil {
			var nodes []*models.MemoryObject
			if uuids := aboveThreshold(hits, e.minVecScore); len(uuids) > 0 {
				nodes, err = e.graph.NodesByUUIDs(ctx, groupID, uuids)
				if err != nil {
					return nil, err
				}
			}
			edgeNodes, err := e.factVectorRetrieve(ctx, groupID, vec, topK)
			if err != nil {
				e.logger.WithError(err).Warn("fact-vector retrieval failed")
			} else {
				nodes = append(nodes, edgeNodes...)
			}
			return nodes, nil
		}
		e.logger.WithError(err).Warn("vector index search failed, falling back to exhaustive scan")
	}

	scored, err := e.graph.VectorSearchNodes(ctx, groupID, vec, topK, e.minVecScore)
	if err != nil {
		return nil, err
	}
	nodes := make([]*models.MemoryObject, 0, len(scored))
	for _, s := range scored {
		nodes = append(nodes, s.Node)
	}
	return nodes, nil
}

// factVectorRetrieve searches the fact-embedding side of the index and
// resolves hits to the endpoint entities of the matching edges.
func (e *HybridEngine) factVectorRetrieve(ctx context.Context, groupID string, vec []float32, topK int) ([]*models.MemoryObject, error) {
	hits, err := e.index.SearchEdges(ctx, groupID, vec, topK)
	if err != nil {
		return nil, err
	}
	uuids := aboveThreshold(hits, e.minVecScore)
	if len(uuids) == 0 {
		return nil, nil
	}
	return e.graph.NodesByEdgeUUIDs(ctx, groupID, uuids)
}

func aboveThreshold(hits []store.VectorHit, minScore float64) []string {
	uuids := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Score >= minScore {
			uuids = append(uuids, hit.UUID)
		}
	}
	return uuids
}

// fuse unions the strategy result lists, keeping the first occurrence of
// each UUID.
func fuse(lists ...[]*models.MemoryObject) []*models.MemoryObject {
	seen := make(map[string]struct{})
	var out []*models.MemoryObject
	for _, list := range lists {
		for _, node := range list {
			if node == nil {
				continue
			}
			if _, ok := seen[node.UUID]; ok {
				continue
			}
			seen[node.UUID] = struct{}{}
			out = append(out, node)
		}
	}
	return out
}

// rerank orders the fused pool by cross-encoder relevance. A reranker
// failure falls back to the fused order.
func (e *HybridEngine) rerank(ctx context.Context, query string, pool []*models.MemoryObject, limit int) ([]Result, error) {
	docs := make([]string, len(pool))
	for i, node := range pool {
		if node.Summary != "" {
			docs[i] = node.Name + ": " + node.Summary
		} else {
			docs[i] = node.Name
		}
	}

	ranked, err := e.reranker.Rerank(ctx, query, docs, limit)
	if err != nil {
		e.logger.WithError(err).Warn("rerank failed, returning fused order")
		if len(pool) > limit {
			pool = pool[:limit]
		}
		results := make([]Result, 0, len(pool))
		for _, node := range pool {
			results = append(results, Result{Node: node})
		}
		return results, nil
	}

	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(pool) {
			continue
		}
		results = append(results, Result{Node: pool[r.Index], Score: float64(r.Score)})
	}
	return results, nil
}
