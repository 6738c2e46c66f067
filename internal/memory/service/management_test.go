package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"mnemograph/internal/memory/store"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

type stubGraph struct {
	store.GraphStore

	mu    sync.Mutex
	nodes map[string]*models.MemoryObject // normalized name -> node
	edges []*models.MemoryLink

	invalidated   []string
	updated       bool
	updateMatched bool
	deleteCalled  bool
	edgeCount     int
}

func newStubGraph() *stubGraph {
	return &stubGraph{nodes: make(map[string]*models.MemoryObject)}
}

func (s *stubGraph) UpsertNodes(ctx context.Context, nodes []*models.MemoryObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		if existing, ok := s.nodes[node.NormalizedName]; ok {
			node.UUID = existing.UUID
			continue
		}
		s.nodes[node.NormalizedName] = node
	}
	return nil
}

func (s *stubGraph) UpsertEdges(ctx context.Context, edges []*models.MemoryLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edges...)
	return nil
}

func (s *stubGraph) GetNodeByName(ctx context.Context, groupID, normalizedName string) (*models.MemoryObject, error) {
	return s.nodes[normalizedName], nil
}

func (s *stubGraph) FindValidEdge(ctx context.Context, groupID, fromNormalized, relationType, toNormalized string, now time.Time) (*models.MemoryLink, error) {
	for _, edge := range s.edges {
		if edge.RelationType == relationType && edge.VisibleAt(now) {
			return edge, nil
		}
	}
	return nil, nil
}

func (s *stubGraph) EdgesFrom(ctx context.Context, groupID, normalizedName string, asOf *time.Time) ([]*models.MemoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.MemoryLink
	for _, edge := range s.edges {
		if asOf != nil && !edge.VisibleAt(*asOf) {
			continue
		}
		out = append(out, edge)
	}
	return out, nil
}

func (s *stubGraph) InvalidateEdge(ctx context.Context, groupID, edgeUUID string, at time.Time) error {
	s.invalidated = append(s.invalidated, edgeUUID)
	for _, edge := range s.edges {
		if edge.UUID == edgeUUID {
			edge.InvalidAt = at
		}
	}
	return nil
}

func (s *stubGraph) UpdateNode(ctx context.Context, groupID, normalizedName string, summary, label *string) (bool, error) {
	s.updated = true
	return s.updateMatched, nil
}

func (s *stubGraph) CountNodeEdges(ctx context.Context, groupID, normalizedName string) (int, error) {
	return s.edgeCount, nil
}

func (s *stubGraph) DeleteNode(ctx context.Context, groupID, normalizedName string, cascade bool) (int, int, error) {
	s.deleteCalled = true
	delete(s.nodes, normalizedName)
	if cascade {
		return 1, s.edgeCount, nil
	}
	return 1, 0, nil
}

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func newManagementService(graph *stubGraph) *MemoryService {
	log := logger.New("test", "")
	persistence := store.NewPersistenceService(graph, nil, log)
	return NewMemoryService(nil, nil, nil, nil, persistence, graph, nil, nil, &stubEmbedder{}, "default", 1, log)
}

func TestAddFact_UpsertsEndpointsAndEdge(t *testing.T) {
	graph := newStubGraph()
	s := newManagementService(graph)

	result, err := s.AddFact(context.Background(), AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Acme Corp",
		RelationType: "WORKS_AT",
		Fact:         "Alice works at Acme Corp",
		ValidAt:      "2024-01-15T00:00:00Z",
		InvalidAt:    "always",
	})
	if err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Errorf("Expected applied outcome, got %s", result.Outcome)
	}
	if len(graph.nodes) != 2 {
		t.Errorf("Expected both endpoints upserted, got %d nodes", len(graph.nodes))
	}
	if len(graph.edges) != 1 {
		t.Fatalf("Expected 1 edge, got %d", len(graph.edges))
	}
	if graph.edges[0].GroupID != "default" {
		t.Errorf("Expected default group on the edge, got %q", graph.edges[0].GroupID)
	}
	if !graph.edges[0].InvalidAt.Equal(models.StillValid) {
		t.Errorf("invalid_at = %v, want the still-valid sentinel", graph.edges[0].InvalidAt)
	}
}

func TestAddFact_CurrentlyTrueFactIsVisibleNow(t *testing.T) {
	graph := newStubGraph()
	s := newManagementService(graph)

	_, err := s.AddFact(context.Background(), AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Acme Corp",
		RelationType: "WORKS_AT",
		Fact:         "Alice works at Acme Corp",
		ValidAt:      "now",
		InvalidAt:    "always",
	})
	if err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	edge := graph.edges[0]
	if !edge.InvalidAt.Equal(models.StillValid) {
		t.Errorf("invalid_at = %v, want the still-valid sentinel", edge.InvalidAt)
	}
	if !edge.VisibleAt(time.Now().UTC()) {
		t.Error("Edge asserted as currently true must be visible now")
	}
}

func TestAddFact_RejectsInvertedInterval(t *testing.T) {
	s := newManagementService(newStubGraph())

	_, err := s.AddFact(context.Background(), AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Bob",
		RelationType: "KNOWS",
		ValidAt:      "2024-06-01T00:00:00Z",
		InvalidAt:    "2024-01-01T00:00:00Z",
	})
	if err == nil {
		t.Error("Expected error when valid_at is after invalid_at")
	}
}

func TestAddFact_ReusesExistingEndpoint(t *testing.T) {
	graph := newStubGraph()
	graph.nodes["alice"] = &models.MemoryObject{UUID: "u-alice", Name: "Alice", NormalizedName: "alice"}
	s := newManagementService(graph)

	result, err := s.AddFact(context.Background(), AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Bob",
		RelationType: "KNOWS",
		Fact:         "f",
		ValidAt:      "now",
		InvalidAt:    "always",
	})
	if err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	if graph.edges[0].SourceNodeUUID != "u-alice" {
		t.Errorf("Edge should point at the existing identity, got %q", graph.edges[0].SourceNodeUUID)
	}
	_ = result
}

func TestAddFact_RequiresParseableTokens(t *testing.T) {
	s := newManagementService(newStubGraph())

	_, err := s.AddFact(context.Background(), AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Bob",
		RelationType: "KNOWS",
		ValidAt:      "last summer",
		InvalidAt:    "always",
	})
	if err == nil {
		t.Error("Expected error for unparseable valid_at token")
	}

	_, err = s.AddFact(context.Background(), AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Bob",
		RelationType: "KNOWS",
		ValidAt:      "",
		InvalidAt:    "always",
	})
	if err == nil {
		t.Error("Expected error for missing valid_at token")
	}
}

func TestListFacts_RequiresName(t *testing.T) {
	s := newManagementService(newStubGraph())

	if _, err := s.ListFacts(context.Background(), ListFactsRequest{}); err == nil {
		t.Error("Expected error for missing name")
	}
}

func TestListFacts_AsOfShowsHistoryAfterInvalidation(t *testing.T) {
	graph := newStubGraph()
	s := newManagementService(graph)
	ctx := context.Background()

	_, err := s.AddFact(ctx, AddFactRequest{
		SourceName:   "Alice",
		TargetName:   "Acme Corp",
		RelationType: "WORKS_AT",
		Fact:         "Alice works at Acme Corp",
		ValidAt:      "2024-01-01T00:00:00Z",
		InvalidAt:    "always",
	})
	if err != nil {
		t.Fatalf("AddFact() error = %v", err)
	}
	if _, err := s.InvalidateFact(ctx, InvalidateFactRequest{
		SourceName:   "Alice",
		TargetName:   "Acme Corp",
		RelationType: "WORKS_AT",
	}); err != nil {
		t.Fatalf("InvalidateFact() error = %v", err)
	}

	// While the fact was still true it must remain queryable.
	during := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	facts, err := s.ListFacts(ctx, ListFactsRequest{Name: "Alice", AsOf: &during})
	if err != nil {
		t.Fatalf("ListFacts() error = %v", err)
	}
	if len(facts) != 1 || facts[0].RelationType != "WORKS_AT" {
		t.Fatalf("Expected the invalidated fact to be visible at a past instant, got %d facts", len(facts))
	}

	// After invalidation it is gone from the current view.
	now := time.Now().UTC().Add(time.Minute)
	facts, err = s.ListFacts(ctx, ListFactsRequest{Name: "Alice", AsOf: &now})
	if err != nil {
		t.Fatalf("ListFacts() error = %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("Expected no currently visible facts, got %d", len(facts))
	}

	// The full log still carries it.
	facts, err = s.ListFacts(ctx, ListFactsRequest{Name: "Alice"})
	if err != nil {
		t.Fatalf("ListFacts() error = %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("Expected the full log to keep the invalidated fact, got %d facts", len(facts))
	}
}

func TestInvalidateFact_NoMatchIsReportedNotError(t *testing.T) {
	graph := newStubGraph()
	s := newManagementService(graph)

	result, err := s.InvalidateFact(context.Background(), InvalidateFactRequest{
		SourceName:   "Alice",
		TargetName:   "Bob",
		RelationType: "KNOWS",
	})
	if err != nil {
		t.Fatalf("InvalidateFact() error = %v", err)
	}
	if result.Outcome != OutcomeNoMatch {
		t.Errorf("Expected no_match outcome, got %s", result.Outcome)
	}
	if len(graph.invalidated) != 0 {
		t.Error("Nothing should have been invalidated")
	}
}

func TestInvalidateFact_StampsMatchingEdge(t *testing.T) {
	graph := newStubGraph()
	graph.edges = []*models.MemoryLink{{
		UUID:         "e1",
		RelationType: "WORKS_AT",
		ValidAt:      models.ValidAlways,
		InvalidAt:    models.StillValid,
	}}
	s := newManagementService(graph)

	result, err := s.InvalidateFact(context.Background(), InvalidateFactRequest{
		SourceName:   "Alice",
		TargetName:   "Acme Corp",
		RelationType: "WORKS_AT",
	})
	if err != nil {
		t.Fatalf("InvalidateFact() error = %v", err)
	}
	if result.Outcome != OutcomeApplied || result.EdgeUUID != "e1" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if graph.edges[0].InvalidAt.Equal(models.StillValid) {
		t.Error("Edge invalid_at was not stamped")
	}
}

func TestUpdateEntity_NothingToChangeIsNoop(t *testing.T) {
	graph := newStubGraph()
	s := newManagementService(graph)

	result, err := s.UpdateEntity(context.Background(), UpdateEntityRequest{Name: "Alice"})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if result.Outcome != OutcomeNoop {
		t.Errorf("Expected noop outcome, got %s", result.Outcome)
	}
	if graph.updated {
		t.Error("Store should not have been touched")
	}
}

func TestUpdateEntity_UnknownEntityIsNoMatch(t *testing.T) {
	graph := newStubGraph()
	graph.updateMatched = false
	s := newManagementService(graph)

	summary := "new summary"
	result, err := s.UpdateEntity(context.Background(), UpdateEntityRequest{Name: "Ghost", Summary: &summary})
	if err != nil {
		t.Fatalf("UpdateEntity() error = %v", err)
	}
	if result.Outcome != OutcomeNoMatch {
		t.Errorf("Expected no_match outcome, got %s", result.Outcome)
	}
}

func TestDeleteEntity_RefusesWithoutCascade(t *testing.T) {
	graph := newStubGraph()
	graph.nodes["alice"] = &models.MemoryObject{UUID: "u-alice", NormalizedName: "alice"}
	graph.edgeCount = 3
	s := newManagementService(graph)

	result, err := s.DeleteEntity(context.Background(), DeleteEntityRequest{Name: "Alice"})
	if err != nil {
		t.Fatalf("DeleteEntity() error = %v", err)
	}
	if result.Outcome != OutcomeRefused {
		t.Errorf("Expected refused outcome, got %s", result.Outcome)
	}
	if result.EdgeCount != 3 {
		t.Errorf("Expected the refusal to report 3 edges, got %d", result.EdgeCount)
	}
	if graph.deleteCalled {
		t.Error("Delete must not run without cascade while edges exist")
	}
}

func TestDeleteEntity_CascadeDeletes(t *testing.T) {
	graph := newStubGraph()
	graph.nodes["alice"] = &models.MemoryObject{UUID: "u-alice", NormalizedName: "alice"}
	graph.edgeCount = 3
	s := newManagementService(graph)

	result, err := s.DeleteEntity(context.Background(), DeleteEntityRequest{Name: "Alice", Cascade: true})
	if err != nil {
		t.Fatalf("DeleteEntity() error = %v", err)
	}
	if result.Outcome != OutcomeApplied || result.EdgesDeleted != 3 {
		t.Errorf("Unexpected result: %+v", result)
	}
}

func TestDeleteEntity_UnknownEntityIsNoMatch(t *testing.T) {
	s := newManagementService(newStubGraph())

	result, err := s.DeleteEntity(context.Background(), DeleteEntityRequest{Name: "Ghost"})
	if err != nil {
		t.Fatalf("DeleteEntity() error = %v", err)
	}
	if result.Outcome != OutcomeNoMatch {
		t.Errorf("Expected no_match outcome, got %s", result.Outcome)
	}
}
