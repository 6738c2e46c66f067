package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"mnemograph/internal/memory/store"
	"mnemograph/internal/models"
	"mnemograph/internal/reranker"
	"mnemograph/pkg/logger"
)

type stubGraph struct {
	store.GraphStore

	lexical      []store.ScoredNode
	lexicalErr   error
	vector       []store.ScoredNode
	vectorErr    error
	traversal    []store.ScoredNode
	traversalErr error

	traversalAsOf *time.Time
	traversalHops int

	edgeEndpoints map[string][]*models.MemoryObject // edge uuid -> endpoints
}

func (s *stubGraph) FulltextSearchNodes(ctx context.Context, groupID, query string, limit int) ([]store.ScoredNode, error) {
	return s.lexical, s.lexicalErr
}

func (s *stubGraph) VectorSearchNodes(ctx context.Context, groupID string, vector []float32, limit int, minScore float64) ([]store.ScoredNode, error) {
	return s.vector, s.vectorErr
}

func (s *stubGraph) TraverseNeighborhood(ctx context.Context, groupID, query string, hops, limit int, asOf *time.Time) ([]store.ScoredNode, error) {
	s.traversalAsOf = asOf
	s.traversalHops = hops
	return s.traversal, s.traversalErr
}

func (s *stubGraph) NodesByUUIDs(ctx context.Context, groupID string, uuids []string) ([]*models.MemoryObject, error) {
	nodes := make([]*models.MemoryObject, 0, len(uuids))
	for _, id := range uuids {
		nodes = append(nodes, &models.MemoryObject{UUID: id, Name: id})
	}
	return nodes, nil
}

func (s *stubGraph) NodesByEdgeUUIDs(ctx context.Context, groupID string, edgeUUIDs []string) ([]*models.MemoryObject, error) {
	var nodes []*models.MemoryObject
	for _, id := range edgeUUIDs {
		for _, node := range s.edgeEndpoints[id] {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// stubIndex serves canned approximate-index hits.
type stubIndex struct {
	store.VectorIndex

	nodeHits []store.VectorHit
	edgeHits []store.VectorHit
	edgeErr  error
}

func (s *stubIndex) SearchNodes(ctx context.Context, groupID string, vector []float32, topK int) ([]store.VectorHit, error) {
	return s.nodeHits, nil
}

func (s *stubIndex) SearchEdges(ctx context.Context, groupID string, vector []float32, topK int) ([]store.VectorHit, error) {
	return s.edgeHits, s.edgeErr
}

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

// stubReranker reverses the pool order so reordering is observable.
type stubReranker struct {
	fail bool
}

func (s *stubReranker) IsEnabled() bool { return true }

func (s *stubReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]reranker.Result, error) {
	if s.fail {
		return nil, errors.New("reranker unavailable")
	}
	var out []reranker.Result
	for i := len(documents) - 1; i >= 0 && len(out) < topN; i-- {
		out = append(out, reranker.Result{Index: i, Score: float32(len(out) + 1)})
	}
	return out, nil
}

func scored(uuid string, score float64) store.ScoredNode {
	return store.ScoredNode{Node: &models.MemoryObject{UUID: uuid, Name: uuid}, Score: score}
}

func newTestEngine(graph *stubGraph) *HybridEngine {
	return NewHybridEngine(graph, nil, &stubEmbedder{}, nil, 0.5, logger.New("test", ""))
}

func TestSearch_FusesAndDeduplicates(t *testing.T) {
	graph := &stubGraph{
		lexical:   []store.ScoredNode{scored("a", 3), scored("b", 2)},
		vector:    []store.ScoredNode{scored("b", 0.9), scored("c", 0.8)},
		traversal: []store.ScoredNode{scored("a", 1), scored("d", 1)},
	}
	e := newTestEngine(graph)

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("Expected 4 fused results, got %d", len(results))
	}
	order := []string{"a", "b", "c", "d"}
	for i, want := range order {
		if results[i].Node.UUID != want {
			t.Errorf("Fused position %d = %s, want %s (first-seen order)", i, results[i].Node.UUID, want)
		}
	}
}

func TestSearch_SingleStrategyFailureDegrades(t *testing.T) {
	graph := &stubGraph{
		lexicalErr: errors.New("fulltext index rebuilding"),
		vector:     []store.ScoredNode{scored("c", 0.9)},
	}
	e := newTestEngine(graph)

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1"})
	if err != nil {
		t.Fatalf("One failed strategy must not fail the search: %v", err)
	}
	if len(results) != 1 || results[0].Node.UUID != "c" {
		t.Errorf("Expected surviving strategies' results, got %+v", results)
	}
}

func TestSearch_AllStrategiesFailedIsError(t *testing.T) {
	graph := &stubGraph{
		lexicalErr:   errors.New("down"),
		vectorErr:    errors.New("down"),
		traversalErr: errors.New("down"),
	}
	e := newTestEngine(graph)

	if _, err := e.Search(context.Background(), "query", Options{GroupID: "g1"}); err == nil {
		t.Error("Expected error when every strategy failed")
	}
}

func TestSearch_EmptyResultIsNotError(t *testing.T) {
	e := newTestEngine(&stubGraph{})

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Expected empty non-nil result set, got %v", results)
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	graph := &stubGraph{
		lexical: []store.ScoredNode{scored("a", 1), scored("b", 1), scored("c", 1)},
	}
	e := newTestEngine(graph)

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Limit: 2})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected limit to cap results at 2, got %d", len(results))
	}
}

func TestSearch_AsOfReachesTraversal(t *testing.T) {
	graph := &stubGraph{}
	e := newTestEngine(graph)

	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if _, err := e.Search(context.Background(), "query", Options{GroupID: "g1", AsOf: &asOf}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if graph.traversalAsOf == nil || !graph.traversalAsOf.Equal(asOf) {
		t.Errorf("as-of instant not forwarded to traversal: %v", graph.traversalAsOf)
	}
}

func TestSearch_HopsClamped(t *testing.T) {
	graph := &stubGraph{}
	e := newTestEngine(graph)

	if _, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Hops: 9}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if graph.traversalHops != 2 {
		t.Errorf("Expected hops clamped to 2, got %d", graph.traversalHops)
	}

	if _, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Hops: 0}); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if graph.traversalHops != 1 {
		t.Errorf("Expected hops clamped to 1, got %d", graph.traversalHops)
	}
}

func TestSearch_IndexedVectorIncludesFactHitEndpoints(t *testing.T) {
	graph := &stubGraph{
		edgeEndpoints: map[string][]*models.MemoryObject{
			"edge-1": {{UUID: "alice", Name: "alice"}, {UUID: "acme", Name: "acme"}},
		},
	}
	index := &stubIndex{
		nodeHits: []store.VectorHit{{UUID: "n1", Score: 0.9}, {UUID: "n2", Score: 0.2}},
		edgeHits: []store.VectorHit{{UUID: "edge-1", Score: 0.8}, {UUID: "edge-2", Score: 0.1}},
	}
	e := NewHybridEngine(graph, index, &stubEmbedder{}, nil, 0.5, logger.New("test", ""))

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Limit: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	got := make(map[string]bool)
	for _, r := range results {
		got[r.Node.UUID] = true
	}
	if !got["n1"] {
		t.Error("Expected the above-threshold node hit")
	}
	if got["n2"] {
		t.Error("Below-threshold node hit should be excluded")
	}
	if !got["alice"] || !got["acme"] {
		t.Error("Expected the matching fact's endpoint entities in the result set")
	}
}

func TestSearch_FactHitFailureKeepsNodeHits(t *testing.T) {
	graph := &stubGraph{}
	index := &stubIndex{
		nodeHits: []store.VectorHit{{UUID: "n1", Score: 0.9}},
		edgeErr:  errors.New("collection loading"),
	}
	e := NewHybridEngine(graph, index, &stubEmbedder{}, nil, 0.5, logger.New("test", ""))

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Node.UUID != "n1" {
		t.Errorf("Expected the node hit to survive a fact-index failure, got %+v", results)
	}
}

func TestSearch_RerankReorders(t *testing.T) {
	graph := &stubGraph{
		lexical: []store.ScoredNode{scored("a", 1), scored("b", 1), scored("c", 1)},
	}
	e := NewHybridEngine(graph, nil, &stubEmbedder{}, &stubReranker{}, 0.5, logger.New("test", ""))

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Limit: 3, Rerank: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Node.UUID != "c" || results[2].Node.UUID != "a" {
		t.Errorf("Expected reranked (reversed) order, got %s..%s", results[0].Node.UUID, results[2].Node.UUID)
	}
	if results[0].Score == 0 {
		t.Error("Expected reranker scores on results")
	}
}

func TestSearch_RerankFailureFallsBackToFusedOrder(t *testing.T) {
	graph := &stubGraph{
		lexical: []store.ScoredNode{scored("a", 1), scored("b", 1)},
	}
	e := NewHybridEngine(graph, nil, &stubEmbedder{}, &stubReranker{fail: true}, 0.5, logger.New("test", ""))

	results, err := e.Search(context.Background(), "query", Options{GroupID: "g1", Limit: 2, Rerank: true})
	if err != nil {
		t.Fatalf("A reranker failure must not fail the search: %v", err)
	}
	if len(results) != 2 || results[0].Node.UUID != "a" {
		t.Errorf("Expected fused order fallback, got %+v", results)
	}
}

func TestSearch_RequiresQueryAndGroup(t *testing.T) {
	e := newTestEngine(&stubGraph{})

	if _, err := e.Search(context.Background(), "", Options{GroupID: "g1"}); err == nil {
		t.Error("Expected error for empty query")
	}
	if _, err := e.Search(context.Background(), "query", Options{}); err == nil {
		t.Error("Expected error for missing group id")
	}
}
