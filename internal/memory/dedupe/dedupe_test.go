package dedupe

import (
	"context"
	"testing"

	"mnemograph/internal/memory/store"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

type stubGraph struct {
	store.GraphStore

	byName      map[string]*models.MemoryObject // normalized name -> node
	similar     []store.ScoredNode
	nameLookups int
}

func (s *stubGraph) GetNodeByName(ctx context.Context, groupID, normalizedName string) (*models.MemoryObject, error) {
	s.nameLookups++
	return s.byName[normalizedName], nil
}

func (s *stubGraph) VectorSearchNodes(ctx context.Context, groupID string, vector []float32, limit int, minScore float64) ([]store.ScoredNode, error) {
	return s.similar, nil
}

type stubLLM struct {
	response string
	calls    int
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	return s.response, nil
}

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestDeduplicator(t *testing.T, graph *stubGraph, llm *stubLLM) *EmbeddingDeduplicator {
	t.Helper()
	d, err := NewEmbeddingDeduplicator(graph, nil, &stubEmbedder{}, llm, 0.8, logger.New("test", ""))
	if err != nil {
		t.Fatalf("NewEmbeddingDeduplicator() error = %v", err)
	}
	return d
}

func TestDeduplicate_ExactMatchSkipsModel(t *testing.T) {
	graph := &stubGraph{byName: map[string]*models.MemoryObject{
		"alice": {UUID: "u-alice", Name: "Alice"},
	}}
	llm := &stubLLM{}
	d := newTestDeduplicator(t, graph, llm)

	resolved, err := d.Deduplicate(context.Background(),
		[]models.CandidateEntity{{Name: "  ALICE "}}, "text", "", "g1")
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if resolved[0] != "u-alice" {
		t.Errorf("Expected exact normalized-name match, got %v", resolved)
	}
	if llm.calls != 0 {
		t.Errorf("Exact match must not consult the model, got %d calls", llm.calls)
	}
}

func TestDeduplicate_CacheShortCircuitsRepeatLookups(t *testing.T) {
	graph := &stubGraph{byName: map[string]*models.MemoryObject{
		"alice": {UUID: "u-alice", Name: "Alice"},
	}}
	d := newTestDeduplicator(t, graph, &stubLLM{})

	for i := 0; i < 3; i++ {
		if _, err := d.Deduplicate(context.Background(),
			[]models.CandidateEntity{{Name: "Alice"}}, "text", "", "g1"); err != nil {
			t.Fatalf("Deduplicate() error = %v", err)
		}
	}
	if graph.nameLookups != 1 {
		t.Errorf("Expected 1 store lookup across repeats, got %d", graph.nameLookups)
	}
}

func TestDeduplicate_BelowThresholdIsNewEntity(t *testing.T) {
	graph := &stubGraph{
		byName: map[string]*models.MemoryObject{},
		similar: []store.ScoredNode{
			{Node: &models.MemoryObject{UUID: "u-bob", Name: "Bob"}, Score: 0.4},
		},
	}
	llm := &stubLLM{}
	d := newTestDeduplicator(t, graph, llm)

	resolved, err := d.Deduplicate(context.Background(),
		[]models.CandidateEntity{{Name: "Alice"}}, "text", "", "g1")
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if _, ok := resolved[0]; ok {
		t.Errorf("Low-similarity candidate should be new, got %v", resolved)
	}
	if llm.calls != 0 {
		t.Error("No shortlist should mean no model call")
	}
}

func TestDeduplicate_ModelConfirmsDuplicate(t *testing.T) {
	graph := &stubGraph{
		byName: map[string]*models.MemoryObject{},
		similar: []store.ScoredNode{
			{Node: &models.MemoryObject{UUID: "u-bob", Name: "Robert Smith", Summary: "Engineer"}, Score: 0.92},
		},
	}
	llm := &stubLLM{response: `{"duplicate_of": 1}`}
	d := newTestDeduplicator(t, graph, llm)

	resolved, err := d.Deduplicate(context.Background(),
		[]models.CandidateEntity{{Name: "Bob"}}, "Bob fixed the deploy.", "", "g1")
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if resolved[0] != "u-bob" {
		t.Errorf("Expected model-confirmed duplicate, got %v", resolved)
	}
}

func TestDeduplicate_ModelRejectsDuplicate(t *testing.T) {
	graph := &stubGraph{
		byName: map[string]*models.MemoryObject{},
		similar: []store.ScoredNode{
			{Node: &models.MemoryObject{UUID: "u-bob", Name: "Robert Smith"}, Score: 0.92},
		},
	}
	llm := &stubLLM{response: `{"duplicate_of": 0}`}
	d := newTestDeduplicator(t, graph, llm)

	resolved, err := d.Deduplicate(context.Background(),
		[]models.CandidateEntity{{Name: "Bob"}}, "text", "", "g1")
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(resolved) != 0 {
		t.Errorf("Model said new entity, got %v", resolved)
	}
}

func TestDeduplicate_GarbageVerdictIsNewEntity(t *testing.T) {
	graph := &stubGraph{
		byName: map[string]*models.MemoryObject{},
		similar: []store.ScoredNode{
			{Node: &models.MemoryObject{UUID: "u-bob", Name: "Robert Smith"}, Score: 0.92},
		},
	}
	llm := &stubLLM{response: `{"duplicate_of": 42}`}
	d := newTestDeduplicator(t, graph, llm)

	resolved, err := d.Deduplicate(context.Background(),
		[]models.CandidateEntity{{Name: "Bob"}}, "text", "", "g1")
	if err != nil {
		t.Fatalf("Deduplicate() error = %v", err)
	}
	if len(resolved) != 0 {
		t.Errorf("Out-of-range verdict should be treated as new, got %v", resolved)
	}
}
