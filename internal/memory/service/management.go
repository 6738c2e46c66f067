package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mnemograph/internal/models"
)

// Outcome classifies what a management operation actually did. Operations
// that find nothing to act on report that instead of failing.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
	OutcomeNoop    Outcome = "noop"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeRefused Outcome = "refused"
)

// Result describes the effect of a management operation.
type Result struct {
	Outcome      Outcome `json:"outcome"`
	Message      string  `json:"message"`
	EdgeUUID     string  `json:"edge_uuid,omitempty"`
	NodesDeleted int     `json:"nodes_deleted,omitempty"`
	EdgesDeleted int     `json:"edges_deleted,omitempty"`
	EdgeCount    int     `json:"edge_count,omitempty"`
}

// AddFactRequest asserts one fact between two entities. ValidAt and
// InvalidAt are temporal tokens: "always", "now" or an RFC3339 timestamp.
type AddFactRequest struct {
	GroupID      string `json:"group_id"`
	SourceName   string `json:"source_name"`
	TargetName   string `json:"target_name"`
	RelationType string `json:"relation_type"`
	Fact         string `json:"fact"`
	ValidAt      string `json:"valid_at"`
	InvalidAt    string `json:"invalid_at"`
}

// InvalidateFactRequest closes the validity interval of the newest
// currently-valid edge matching the triple.
type InvalidateFactRequest struct {
	GroupID      string `json:"group_id"`
	SourceName   string `json:"source_name"`
	TargetName   string `json:"target_name"`
	RelationType string `json:"relation_type"`
}

// UpdateEntityRequest patches an entity's summary and/or label. Nil fields
// are left untouched.
type UpdateEntityRequest struct {
	GroupID string  `json:"group_id"`
	Name    string  `json:"name"`
	Summary *string `json:"summary"`
	Label   *string `json:"label"`
}

// DeleteEntityRequest physically removes an entity. Without Cascade the
// operation refuses when edges are attached.
type DeleteEntityRequest struct {
	GroupID string `json:"group_id"`
	Name    string `json:"name"`
	Cascade bool   `json:"cascade"`
}

// AddFact upserts both endpoint entities and writes the edge. Temporal
// tokens are required; an unparseable token fails the whole operation
// rather than silently widening the validity interval.
func (s *MemoryService) AddFact(ctx context.Context, req AddFactRequest) (*Result, error) {
	if req.SourceName == "" || req.TargetName == "" || req.RelationType == "" {
		return nil, fmt.Errorf("source_name, target_name and relation_type are required")
	}
	if req.GroupID == "" {
		req.GroupID = s.defaultGroupID
	}

	now := time.Now().UTC()
	validAt, err := models.ParseTemporalToken(req.ValidAt, now)
	if err != nil {
		return nil, fmt.Errorf("invalid valid_at: %w", err)
	}
	invalidAt, err := models.ParseInvalidUntilToken(req.InvalidAt, now)
	if err != nil {
		return nil, fmt.Errorf("invalid invalid_at: %w", err)
	}
	if validAt.After(invalidAt) {
		return nil, fmt.Errorf("valid_at %s is after invalid_at %s", models.FormatInstant(validAt), models.FormatInstant(invalidAt))
	}

	// Endpoints first so the edge MERGE always finds them.
	nodes := []*models.MemoryObject{
		s.manualNode(ctx, req.SourceName, req.GroupID, now),
		s.manualNode(ctx, req.TargetName, req.GroupID, now),
	}

	link := &models.MemoryLink{
		UUID:           uuid.NewString(),
		SourceNodeUUID: nodes[0].UUID,
		TargetNodeUUID: nodes[1].UUID,
		RelationType:   req.RelationType,
		Fact:           req.Fact,
		ValidAt:        validAt,
		InvalidAt:      invalidAt,
		CreatedAt:      now,
		GroupID:        req.GroupID,
	}
	if req.Fact != "" {
		if vec, err := s.embedder.Embed(ctx, req.Fact); err != nil {
			s.logger.WithError(err).Warn("failed to embed fact, persisting without embedding")
		} else {
			link.Embedding = vec
		}
	}

	if err := s.persistence.Save(ctx, nodes, []*models.MemoryLink{link}); err != nil {
		return nil, fmt.Errorf("failed to persist fact: %w", err)
	}
	return &Result{
		Outcome:  OutcomeApplied,
		Message:  fmt.Sprintf("fact recorded: %s -[%s]-> %s", req.SourceName, req.RelationType, req.TargetName),
		EdgeUUID: link.UUID,
	}, nil
}

// manualNode builds the minimal node a manually asserted fact needs. The
// upsert key means an existing entity is reused, not duplicated.
func (s *MemoryService) manualNode(ctx context.Context, name, groupID string, now time.Time) *models.MemoryObject {
	node := &models.MemoryObject{
		UUID:           uuid.NewString(),
		Name:           name,
		NormalizedName: models.NormalizeName(name),
		GroupID:        groupID,
		Labels:         []string{"Memory", models.EntityTypeConcept.String()},
		CreatedAt:      now,
		ValidAt:        models.ValidAlways,
		InvalidAt:      models.StillValid,
	}
	if vec, err := s.embedder.Embed(ctx, name); err != nil {
		s.logger.WithError(err).Warn("failed to embed entity name, persisting without embedding")
	} else {
		node.Embedding = vec
	}
	return node
}

// ListFactsRequest lists the outgoing facts of an entity. A nil AsOf
// returns the full temporal log, invalidated facts included.
type ListFactsRequest struct {
	GroupID string
	Name    string
	AsOf    *time.Time
}

// ListFacts returns the entity's outgoing edges, filtered to those visible
// at AsOf when one is given. An unknown entity simply has no facts.
func (s *MemoryService) ListFacts(ctx context.Context, req ListFactsRequest) ([]*models.MemoryLink, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.GroupID == "" {
		req.GroupID = s.defaultGroupID
	}

	edges, err := s.graph.EdgesFrom(ctx, req.GroupID, models.NormalizeName(req.Name), req.AsOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	return edges, nil
}

// InvalidateFact stamps the newest currently-valid matching edge with the
// current instant. No matching edge is a reported no-op, not an error.
func (s *MemoryService) InvalidateFact(ctx context.Context, req InvalidateFactRequest) (*Result, error) {
	if req.SourceName == "" || req.TargetName == "" || req.RelationType == "" {
		return nil, fmt.Errorf("source_name, target_name and relation_type are required")
	}
	if req.GroupID == "" {
		req.GroupID = s.defaultGroupID
	}

	now := time.Now().UTC()
	edge, err := s.graph.FindValidEdge(ctx, req.GroupID,
		models.NormalizeName(req.SourceName), req.RelationType, models.NormalizeName(req.TargetName), now)
	if err != nil {
		return nil, fmt.Errorf("failed to look up edge: %w", err)
	}
	if edge == nil {
		return &Result{
			Outcome: OutcomeNoMatch,
			Message: fmt.Sprintf("no currently valid fact %s -[%s]-> %s", req.SourceName, req.RelationType, req.TargetName),
		}, nil
	}

	if err := s.graph.InvalidateEdge(ctx, req.GroupID, edge.UUID, now); err != nil {
		return nil, fmt.Errorf("failed to invalidate edge: %w", err)
	}
	return &Result{
		Outcome:  OutcomeApplied,
		Message:  "fact invalidated",
		EdgeUUID: edge.UUID,
	}, nil
}

// UpdateEntity patches summary and/or label in place. A request with
// neither field set is a no-op; an unknown entity is reported, not an
// error.
func (s *MemoryService) UpdateEntity(ctx context.Context, req UpdateEntityRequest) (*Result, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.GroupID == "" {
		req.GroupID = s.defaultGroupID
	}
	if req.Summary == nil && req.Label == nil {
		return &Result{Outcome: OutcomeNoop, Message: "nothing to update"}, nil
	}

	matched, err := s.graph.UpdateNode(ctx, req.GroupID, models.NormalizeName(req.Name), req.Summary, req.Label)
	if err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	if !matched {
		return &Result{
			Outcome: OutcomeNoMatch,
			Message: fmt.Sprintf("entity %q not found", req.Name),
		}, nil
	}
	return &Result{Outcome: OutcomeApplied, Message: "entity updated"}, nil
}

// DeleteEntity removes an entity outright. This is the only operation that
// discards history, so an entity with attached edges is refused unless the
// caller explicitly cascades.
func (s *MemoryService) DeleteEntity(ctx context.Context, req DeleteEntityRequest) (*Result, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.GroupID == "" {
		req.GroupID = s.defaultGroupID
	}
	normalized := models.NormalizeName(req.Name)

	node, err := s.graph.GetNodeByName(ctx, req.GroupID, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity: %w", err)
	}
	if node == nil {
		return &Result{
			Outcome: OutcomeNoMatch,
			Message: fmt.Sprintf("entity %q not found", req.Name),
		}, nil
	}

	if !req.Cascade {
		edges, err := s.graph.CountNodeEdges(ctx, req.GroupID, normalized)
		if err != nil {
			return nil, fmt.Errorf("failed to count edges: %w", err)
		}
		if edges > 0 {
			return &Result{
				Outcome:   OutcomeRefused,
				Message:   fmt.Sprintf("entity %q has %d attached facts; re-run with cascade to delete them", req.Name, edges),
				EdgeCount: edges,
			}, nil
		}
	}

	nodesDeleted, edgesDeleted, err := s.graph.DeleteNode(ctx, req.GroupID, normalized, req.Cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to delete entity: %w", err)
	}

	if s.index != nil {
		if err := s.index.DeleteEmbedding(ctx, node.UUID); err != nil {
			s.logger.WithError(err).Warn("failed to delete entity embedding from vector index")
		}
	}

	return &Result{
		Outcome:      OutcomeApplied,
		Message:      "entity deleted",
		NodesDeleted: nodesDeleted,
		EdgesDeleted: edgesDeleted,
	}, nil
}
