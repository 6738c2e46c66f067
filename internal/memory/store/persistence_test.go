package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// memoryGraph is an in-memory GraphStore with the same merge semantics as
// the real one: nodes keyed on (normalized_name, group_id), edges keyed on
// (uuid, group_id) with create-only writes.
type memoryGraph struct {
	GraphStore

	nodes map[string]*models.MemoryObject // group\x00normalized -> node
	edges map[string]*models.MemoryLink   // group\x00uuid -> edge
	ops   []string

	failNodes bool
	failEdges bool
}

func newMemoryGraph() *memoryGraph {
	return &memoryGraph{
		nodes: make(map[string]*models.MemoryObject),
		edges: make(map[string]*models.MemoryLink),
	}
}

func (g *memoryGraph) nodeKey(groupID, normalized string) string {
	return groupID + "\x00" + normalized
}

func (g *memoryGraph) UpsertNodes(ctx context.Context, nodes []*models.MemoryObject) error {
	g.ops = append(g.ops, "nodes")
	if g.failNodes {
		return errors.New("node write failed")
	}
	for _, node := range nodes {
		key := g.nodeKey(node.GroupID, node.NormalizedName)
		if existing, ok := g.nodes[key]; ok {
			// Identity and immutable fields survive; mutable fields update.
			node.UUID = existing.UUID
			node.CreatedAt = existing.CreatedAt
			existing.Name = node.Name
			if len(node.Embedding) > 0 {
				existing.Embedding = node.Embedding
			}
			if node.Summary != "" {
				existing.Summary = node.Summary
			}
			continue
		}
		stored := *node
		g.nodes[key] = &stored
	}
	return nil
}

func (g *memoryGraph) UpsertEdges(ctx context.Context, edges []*models.MemoryLink) error {
	g.ops = append(g.ops, "edges")
	if g.failEdges {
		return errors.New("edge write failed")
	}
	for _, edge := range edges {
		key := edge.GroupID + "\x00" + edge.UUID
		if _, ok := g.edges[key]; ok {
			continue
		}
		stored := *edge
		g.edges[key] = &stored
	}
	return nil
}

func (g *memoryGraph) EnsureIndexes(ctx context.Context) error {
	g.ops = append(g.ops, "indexes")
	return nil
}

func testNode(name, groupID, uuid string) *models.MemoryObject {
	return &models.MemoryObject{
		UUID:           uuid,
		Name:           name,
		NormalizedName: models.NormalizeName(name),
		GroupID:        groupID,
		Labels:         []string{"Memory", "Concept"},
		CreatedAt:      time.Now().UTC(),
		ValidAt:        models.ValidAlways,
		InvalidAt:      models.StillValid,
	}
}

func TestSave_NodesBeforeEdges(t *testing.T) {
	graph := newMemoryGraph()
	p := NewPersistenceService(graph, nil, logger.New("test", ""))

	nodes := []*models.MemoryObject{testNode("Alice", "g1", "u1"), testNode("Bob", "g1", "u2")}
	edges := []*models.MemoryLink{{UUID: "e1", SourceNodeUUID: "u1", TargetNodeUUID: "u2", RelationType: "KNOWS", Fact: "f", GroupID: "g1"}}

	if err := p.Save(context.Background(), nodes, edges); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(graph.ops) != 2 || graph.ops[0] != "nodes" || graph.ops[1] != "edges" {
		t.Errorf("Expected nodes to be written before edges, got order %v", graph.ops)
	}
}

func TestSave_IsIdempotent(t *testing.T) {
	graph := newMemoryGraph()
	p := NewPersistenceService(graph, nil, logger.New("test", ""))

	save := func(nodeUUID, edgeUUID string) {
		nodes := []*models.MemoryObject{testNode("Alice", "g1", nodeUUID), testNode("Bob", "g1", nodeUUID+"-b")}
		edges := []*models.MemoryLink{{UUID: edgeUUID, SourceNodeUUID: nodeUUID, TargetNodeUUID: nodeUUID + "-b", RelationType: "KNOWS", Fact: "f", GroupID: "g1"}}
		if err := p.Save(context.Background(), nodes, edges); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	save("u1", "e1")
	save("u1", "e1") // identical replay
	if len(graph.nodes) != 2 {
		t.Errorf("Replaying an identical save must not duplicate nodes: got %d", len(graph.nodes))
	}
	if len(graph.edges) != 1 {
		t.Errorf("Replaying an identical edge uuid must not duplicate edges: got %d", len(graph.edges))
	}
}

func TestSave_RemapsEdgeEndpointsToStoredIdentity(t *testing.T) {
	graph := newMemoryGraph()
	p := NewPersistenceService(graph, nil, logger.New("test", ""))

	// First episode establishes Alice with uuid "stored-alice".
	if err := p.Save(context.Background(), []*models.MemoryObject{testNode("Alice", "g1", "stored-alice")}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Second episode built its edge against a provisional uuid.
	nodes := []*models.MemoryObject{testNode("Alice", "g1", "provisional-alice"), testNode("Bob", "g1", "u-bob")}
	edges := []*models.MemoryLink{{UUID: "e1", SourceNodeUUID: "provisional-alice", TargetNodeUUID: "u-bob", RelationType: "KNOWS", Fact: "f", GroupID: "g1"}}
	if err := p.Save(context.Background(), nodes, edges); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	edge := graph.edges["g1\x00e1"]
	if edge == nil {
		t.Fatal("Edge was not stored")
	}
	if edge.SourceNodeUUID != "stored-alice" {
		t.Errorf("Edge endpoint not remapped to stored identity: %q", edge.SourceNodeUUID)
	}
	if nodes[0].UUID != "stored-alice" {
		t.Errorf("Node UUID not rewritten to stored identity: %q", nodes[0].UUID)
	}
}

func TestSave_EmptyEmbeddingDoesNotWipeStoredVector(t *testing.T) {
	graph := newMemoryGraph()
	p := NewPersistenceService(graph, nil, logger.New("test", ""))

	first := testNode("Alice", "g1", "u1")
	first.Embedding = []float32{0.1, 0.2}
	if err := p.Save(context.Background(), []*models.MemoryObject{first}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Repeat sighting whose embed call failed upstream.
	second := testNode("Alice", "g1", "u2")
	if err := p.Save(context.Background(), []*models.MemoryObject{second}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	stored := graph.nodes["g1\x00alice"]
	if stored == nil {
		t.Fatal("Node was not stored")
	}
	if len(stored.Embedding) != 2 {
		t.Errorf("Stored embedding was wiped by an empty refresh: %v", stored.Embedding)
	}
}

func TestSave_SameGroupOnlyMerge(t *testing.T) {
	graph := newMemoryGraph()
	p := NewPersistenceService(graph, nil, logger.New("test", ""))

	if err := p.Save(context.Background(), []*models.MemoryObject{testNode("Alice", "g1", "u1")}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := p.Save(context.Background(), []*models.MemoryObject{testNode("Alice", "g2", "u2")}, nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if len(graph.nodes) != 2 {
		t.Errorf("Same name in different groups must stay distinct: got %d nodes", len(graph.nodes))
	}
}

func TestSave_GraphFailurePropagates(t *testing.T) {
	graph := newMemoryGraph()
	graph.failNodes = true
	p := NewPersistenceService(graph, nil, logger.New("test", ""))

	if err := p.Save(context.Background(), []*models.MemoryObject{testNode("Alice", "g1", "u1")}, nil); err == nil {
		t.Error("Expected node write failure to propagate")
	}

	graph.failNodes = false
	graph.failEdges = true
	edges := []*models.MemoryLink{{UUID: "e1", SourceNodeUUID: "u1", TargetNodeUUID: "u1", RelationType: "R", Fact: "f", GroupID: "g1"}}
	if err := p.Save(context.Background(), []*models.MemoryObject{testNode("Alice", "g1", "u1")}, edges); err == nil {
		t.Error("Expected edge write failure to propagate")
	}
}

// failingIndex always errors; mirroring must stay best-effort.
type failingIndex struct {
	VectorIndex
}

func (f *failingIndex) UpsertNodeEmbedding(ctx context.Context, uuid, groupID string, vector []float32) error {
	return errors.New("index unavailable")
}

func (f *failingIndex) UpsertEdgeEmbedding(ctx context.Context, uuid, groupID string, vector []float32) error {
	return errors.New("index unavailable")
}

func TestSave_IndexFailureDoesNotFailSave(t *testing.T) {
	graph := newMemoryGraph()
	p := NewPersistenceService(graph, &failingIndex{}, logger.New("test", ""))

	node := testNode("Alice", "g1", "u1")
	node.Embedding = []float32{0.1}
	if err := p.Save(context.Background(), []*models.MemoryObject{node}, nil); err != nil {
		t.Errorf("A vector index failure must not fail the save: %v", err)
	}
	if len(graph.nodes) != 1 {
		t.Error("Node was not persisted")
	}
}
