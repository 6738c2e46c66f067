package store

import (
	"context"
	"fmt"
	"time"

	neo4jdriver "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"mnemograph/internal/database/neo4j"
	"mnemograph/internal/models"
)

const fulltextIndexName = "memory_object_search"

// Neo4jStore is a GraphStore implementation backed by Neo4j. Nodes carry
// the :Memory label; edges are :MEMORY_LINK relationships. All temporal
// properties are UTC RFC3339 strings so Cypher inequality filters order
// them chronologically.
type Neo4jStore struct {
	client *neo4j.Neo4jClient
}

// NewNeo4jStore creates a new Neo4jStore.
func NewNeo4jStore(client *neo4j.Neo4jClient) *Neo4jStore {
	return &Neo4jStore{client: client}
}

// EnsureIndexes creates the full-text index over entity name and summary.
// CREATE ... IF NOT EXISTS makes the call idempotent and safe to race.
func (s *Neo4jStore) EnsureIndexes(ctx context.Context) error {
	query := fmt.Sprintf(
		"CREATE FULLTEXT INDEX %s IF NOT EXISTS FOR (n:Memory) ON EACH [n.name, n.summary]",
		fulltextIndexName,
	)
	if err := s.client.RunWrite(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to ensure full-text index: %w", err)
	}
	return nil
}

// UpsertNodes merges nodes on (normalized_name, group_id). First sight sets
// every field; a repeat sighting refreshes the name, and overwrites the
// embedding and summary only when the incoming values are non-empty (a
// failed upstream embed must not wipe a stored vector). The UUID of each
// input node is rewritten to the stored identity.
func (s *Neo4jStore) UpsertNodes(ctx context.Context, nodes []*models.MemoryObject) error {
	if len(nodes) == 0 {
		return nil
	}

	params := make([]map[string]interface{}, 0, len(nodes))
	for _, node := range nodes {
		params = append(params, map[string]interface{}{
			"uuid":            node.UUID,
			"name":            node.Name,
			"normalized_name": node.NormalizedName,
			"embedding":       float64Slice(node.Embedding),
			"summary":         node.Summary,
			"group_id":        node.GroupID,
			"labels":          node.Labels,
			"created_at":      models.FormatInstant(node.CreatedAt),
			"valid_at":        models.FormatInstant(node.ValidAt),
			"invalid_at":      models.FormatInstant(node.InvalidAt),
		})
	}

	query := `
	UNWIND $nodes AS node
	MERGE (n:Memory {normalized_name: node.normalized_name, group_id: node.group_id})
	ON CREATE SET n.uuid = node.uuid, n.created_at = node.created_at,
	              n.valid_at = node.valid_at, n.invalid_at = node.invalid_at,
	              n.summary = node.summary, n.labels = node.labels
	SET n.name = node.name
	FOREACH (_ IN CASE WHEN size(coalesce(node.embedding, [])) > 0 THEN [1] ELSE [] END | SET n.embedding = node.embedding)
	FOREACH (_ IN CASE WHEN node.summary <> '' THEN [1] ELSE [] END | SET n.summary = node.summary)
	RETURN node.uuid AS provisional, n.uuid AS stored
	`

	result, err := s.client.ExecuteWrite(ctx, func(tx neo4jdriver.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, query, map[string]interface{}{"nodes": params})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert nodes: %w", err)
	}

	// Remap provisional identities onto the stored ones so subsequent edge
	// writes reference nodes that actually exist.
	stored := make(map[string]string)
	for _, record := range result.([]*neo4jdriver.Record) {
		provisional, _ := record.Get("provisional")
		canonical, _ := record.Get("stored")
		if p, ok := provisional.(string); ok {
			if c, ok := canonical.(string); ok {
				stored[p] = c
			}
		}
	}
	for _, node := range nodes {
		if canonical, ok := stored[node.UUID]; ok {
			node.UUID = canonical
		}
	}
	return nil
}

// UpsertEdges merges edges on (uuid, group_id); a repeated uuid is a no-op,
// distinct uuids for the same fact remain distinct entries of the temporal
// log. Edges whose endpoints are missing are not created.
func (s *Neo4jStore) UpsertEdges(ctx context.Context, edges []*models.MemoryLink) error {
	if len(edges) == 0 {
		return nil
	}

	params := make([]map[string]interface{}, 0, len(edges))
	for _, edge := range edges {
		params = append(params, map[string]interface{}{
			"uuid":          edge.UUID,
			"source_uuid":   edge.SourceNodeUUID,
			"target_uuid":   edge.TargetNodeUUID,
			"relation_type": edge.RelationType,
			"fact":          edge.Fact,
			"embedding":     float64Slice(edge.Embedding),
			"valid_at":      models.FormatInstant(edge.ValidAt),
			"invalid_at":    models.FormatInstant(edge.InvalidAt),
			"created_at":    models.FormatInstant(edge.CreatedAt),
			"sources":       edge.Sources,
			"group_id":      edge.GroupID,
		})
	}

	query := `
	UNWIND $edges AS edge
	MATCH (s:Memory {uuid: edge.source_uuid, group_id: edge.group_id})
	MATCH (t:Memory {uuid: edge.target_uuid, group_id: edge.group_id})
	MERGE (s)-[r:MEMORY_LINK {uuid: edge.uuid, group_id: edge.group_id}]->(t)
	ON CREATE SET r.relation_type = edge.relation_type, r.fact = edge.fact,
	              r.embedding = edge.embedding, r.valid_at = edge.valid_at,
	              r.invalid_at = edge.invalid_at, r.created_at = edge.created_at,
	              r.sources = edge.sources
	`
	if err := s.client.RunWrite(ctx, query, map[string]interface{}{"edges": params}); err != nil {
		return fmt.Errorf("failed to upsert edges: %w", err)
	}
	return nil
}

// FulltextSearchNodes queries the full-text index with the store's native
// relevance scoring.
func (s *Neo4jStore) FulltextSearchNodes(ctx context.Context, groupID, query string, limit int) ([]ScoredNode, error) {
	cypher := fmt.Sprintf(`
	CALL db.index.fulltext.queryNodes("%s", $query) YIELD node, score
	WHERE node.group_id = $group_id
	RETURN node, score
	LIMIT $limit
	`, fulltextIndexName)

	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"query":    query,
		"group_id": groupID,
		"limit":    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("full-text search failed: %w", err)
	}
	return scoredNodesFromRecords(records)
}

// VectorSearchNodes is the exhaustive cosine path: every embedded node in
// the partition is scored. Used when the approximate index is unavailable.
func (s *Neo4jStore) VectorSearchNodes(ctx context.Context, groupID string, vector []float32, limit int, minScore float64) ([]ScoredNode, error) {
	cypher := `
	MATCH (n:Memory {group_id: $group_id})
	WHERE n.embedding IS NOT NULL AND size(n.embedding) > 0
	WITH n, vector.similarity.cosine(n.embedding, $vector) AS score
	WHERE score >= $min_score
	RETURN n AS node, score
	ORDER BY score DESC
	LIMIT $limit
	`
	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"group_id":  groupID,
		"vector":    float64Slice(vector),
		"min_score": minScore,
		"limit":     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("exhaustive vector search failed: %w", err)
	}
	return scoredNodesFromRecords(records)
}

// NodesByUUIDs loads nodes by identity, silently skipping unknown uuids.
func (s *Neo4jStore) NodesByUUIDs(ctx context.Context, groupID string, uuids []string) ([]*models.MemoryObject, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	cypher := `
	MATCH (n:Memory {group_id: $group_id})
	WHERE n.uuid IN $uuids
	RETURN n AS node
	`
	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"group_id": groupID,
		"uuids":    uuids,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes by uuid: %w", err)
	}

	var nodes []*models.MemoryObject
	for _, record := range records {
		value, ok := record.Get("node")
		if !ok {
			continue
		}
		node, err := nodeFromNeo4j(value)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// NodesByEdgeUUIDs loads the endpoint nodes of the given edges. A fact hit
// from the vector index surfaces the entities it connects.
func (s *Neo4jStore) NodesByEdgeUUIDs(ctx context.Context, groupID string, edgeUUIDs []string) ([]*models.MemoryObject, error) {
	if len(edgeUUIDs) == 0 {
		return nil, nil
	}
	cypher := `
	MATCH (s:Memory)-[r:MEMORY_LINK]->(t:Memory)
	WHERE r.group_id = $group_id AND r.uuid IN $uuids
	UNWIND [s, t] AS endpoint
	RETURN DISTINCT endpoint AS node
	`
	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"group_id": groupID,
		"uuids":    edgeUUIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load edge endpoints: %w", err)
	}

	var nodes []*models.MemoryObject
	for _, record := range records {
		value, ok := record.Get("node")
		if !ok {
			continue
		}
		node, err := nodeFromNeo4j(value)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// TraverseNeighborhood expands up to `hops` from nodes textually matching
// the query. With asOf set, every traversed edge must satisfy
// validAt <= asOf < invalidAt.
func (s *Neo4jStore) TraverseNeighborhood(ctx context.Context, groupID, query string, hops, limit int, asOf *time.Time) ([]ScoredNode, error) {
	if hops < 1 {
		hops = 1
	} else if hops > 2 {
		hops = 2
	}

	temporalFilter := ""
	params := map[string]interface{}{
		"query":    query,
		"group_id": groupID,
		"limit":    limit,
	}
	if asOf != nil {
		temporalFilter = "AND ALL(rel IN relationships(path) WHERE rel.valid_at <= $as_of AND $as_of < rel.invalid_at)"
		params["as_of"] = models.FormatInstant(*asOf)
	}

	cypher := fmt.Sprintf(`
	CALL db.index.fulltext.queryNodes("%s", $query) YIELD node, score
	WHERE node.group_id = $group_id
	WITH node, score
	ORDER BY score DESC
	LIMIT 5
	MATCH path = (node)-[:MEMORY_LINK*1..%d]-(neighbor:Memory)
	WHERE neighbor.group_id = $group_id
	%s
	RETURN neighbor AS node, max(score) AS score
	LIMIT $limit
	`, fulltextIndexName, hops, temporalFilter)

	records, err := s.client.CollectRecords(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("graph traversal failed: %w", err)
	}
	return scoredNodesFromRecords(records)
}

// GetNodeByName fetches one node by its dedup key.
func (s *Neo4jStore) GetNodeByName(ctx context.Context, groupID, normalizedName string) (*models.MemoryObject, error) {
	cypher := `
	MATCH (n:Memory {normalized_name: $normalized_name, group_id: $group_id})
	RETURN n AS node
	LIMIT 1
	`
	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"normalized_name": normalizedName,
		"group_id":        groupID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch node: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	value, _ := records[0].Get("node")
	return nodeFromNeo4j(value)
}

// FindValidEdge finds the newest edge for the triple that is valid at now.
func (s *Neo4jStore) FindValidEdge(ctx context.Context, groupID, fromNormalized, relationType, toNormalized string, now time.Time) (*models.MemoryLink, error) {
	cypher := `
	MATCH (s:Memory {normalized_name: $from, group_id: $group_id})
	      -[r:MEMORY_LINK {relation_type: $relation}]->
	      (t:Memory {normalized_name: $to, group_id: $group_id})
	WHERE r.valid_at <= $now AND $now < r.invalid_at
	RETURN r AS rel, s.uuid AS source_uuid, t.uuid AS target_uuid
	ORDER BY r.created_at DESC
	LIMIT 1
	`
	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"from":     fromNormalized,
		"relation": relationType,
		"to":       toNormalized,
		"group_id": groupID,
		"now":      models.FormatInstant(now),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find valid edge: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return linkFromRecord(records[0], groupID)
}

// EdgesFrom lists outgoing edges of a node, optionally point-in-time
// filtered.
func (s *Neo4jStore) EdgesFrom(ctx context.Context, groupID, normalizedName string, asOf *time.Time) ([]*models.MemoryLink, error) {
	temporalFilter := ""
	params := map[string]interface{}{
		"normalized_name": normalizedName,
		"group_id":        groupID,
	}
	if asOf != nil {
		temporalFilter = "WHERE r.valid_at <= $as_of AND $as_of < r.invalid_at"
		params["as_of"] = models.FormatInstant(*asOf)
	}

	cypher := fmt.Sprintf(`
	MATCH (s:Memory {normalized_name: $normalized_name, group_id: $group_id})-[r:MEMORY_LINK]->(t:Memory)
	%s
	RETURN r AS rel, s.uuid AS source_uuid, t.uuid AS target_uuid
	ORDER BY r.created_at
	`, temporalFilter)

	records, err := s.client.CollectRecords(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list outgoing edges: %w", err)
	}

	var links []*models.MemoryLink
	for _, record := range records {
		link, err := linkFromRecord(record, groupID)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, nil
}

// InvalidateEdge stamps invalid_at on the edge; nothing is deleted.
func (s *Neo4jStore) InvalidateEdge(ctx context.Context, groupID, edgeUUID string, at time.Time) error {
	cypher := `
	MATCH ()-[r:MEMORY_LINK {uuid: $uuid, group_id: $group_id}]->()
	SET r.invalid_at = $at
	`
	if err := s.client.RunWrite(ctx, cypher, map[string]interface{}{
		"uuid":     edgeUUID,
		"group_id": groupID,
		"at":       models.FormatInstant(at),
	}); err != nil {
		return fmt.Errorf("failed to invalidate edge: %w", err)
	}
	return nil
}

// UpdateNode patches only the supplied fields.
func (s *Neo4jStore) UpdateNode(ctx context.Context, groupID, normalizedName string, summary, label *string) (bool, error) {
	sets := ""
	params := map[string]interface{}{
		"normalized_name": normalizedName,
		"group_id":        groupID,
	}
	if summary != nil {
		sets += "SET n.summary = $summary\n"
		params["summary"] = *summary
	}
	if label != nil {
		sets += "SET n.labels = [$label]\n"
		params["label"] = *label
	}
	if sets == "" {
		return false, nil
	}

	cypher := fmt.Sprintf(`
	MATCH (n:Memory {normalized_name: $normalized_name, group_id: $group_id})
	%s
	RETURN count(n) AS matched
	`, sets)

	result, err := s.client.ExecuteWrite(ctx, func(tx neo4jdriver.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		matched, _ := record.Get("matched")
		return matched, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to update node: %w", err)
	}
	count, _ := result.(int64)
	return count > 0, nil
}

// CountNodeEdges counts edges attached to a node in either direction.
func (s *Neo4jStore) CountNodeEdges(ctx context.Context, groupID, normalizedName string) (int, error) {
	cypher := `
	MATCH (n:Memory {normalized_name: $normalized_name, group_id: $group_id})-[r:MEMORY_LINK]-()
	RETURN count(r) AS edges
	`
	records, err := s.client.CollectRecords(ctx, cypher, map[string]interface{}{
		"normalized_name": normalizedName,
		"group_id":        groupID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count node edges: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	value, _ := records[0].Get("edges")
	count, _ := value.(int64)
	return int(count), nil
}

// DeleteNode physically removes a node. With cascade its edges go first;
// without cascade the store assumes the caller verified the node is
// isolated.
func (s *Neo4jStore) DeleteNode(ctx context.Context, groupID, normalizedName string, cascade bool) (int, int, error) {
	edges := 0
	if cascade {
		var err error
		edges, err = s.CountNodeEdges(ctx, groupID, normalizedName)
		if err != nil {
			return 0, 0, err
		}
	}

	cypher := `
	MATCH (n:Memory {normalized_name: $normalized_name, group_id: $group_id})
	DELETE n
	RETURN count(n) AS deleted
	`
	if cascade {
		cypher = `
	MATCH (n:Memory {normalized_name: $normalized_name, group_id: $group_id})
	DETACH DELETE n
	RETURN count(n) AS deleted
	`
	}

	result, err := s.client.ExecuteWrite(ctx, func(tx neo4jdriver.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, cypher, map[string]interface{}{
			"normalized_name": normalizedName,
			"group_id":        groupID,
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		deleted, _ := record.Get("deleted")
		return deleted, nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to delete node: %w", err)
	}
	deleted, _ := result.(int64)
	return int(deleted), edges, nil
}

// --- record conversion helpers ---

func scoredNodesFromRecords(records []*neo4jdriver.Record) ([]ScoredNode, error) {
	var hits []ScoredNode
	for _, record := range records {
		value, ok := record.Get("node")
		if !ok {
			continue
		}
		node, err := nodeFromNeo4j(value)
		if err != nil {
			return nil, err
		}
		score := 0.0
		if raw, ok := record.Get("score"); ok {
			if f, ok := raw.(float64); ok {
				score = f
			}
		}
		hits = append(hits, ScoredNode{Node: node, Score: score})
	}
	return hits, nil
}

func nodeFromNeo4j(value interface{}) (*models.MemoryObject, error) {
	n, ok := value.(neo4jdriver.Node)
	if !ok {
		return nil, fmt.Errorf("unexpected record value %T, want neo4j.Node", value)
	}
	props := n.Props

	createdAt, err := instantProp(props, "created_at")
	if err != nil {
		return nil, err
	}
	validAt, err := instantProp(props, "valid_at")
	if err != nil {
		return nil, err
	}
	invalidAt, err := instantProp(props, "invalid_at")
	if err != nil {
		return nil, err
	}

	return &models.MemoryObject{
		UUID:           stringProp(props, "uuid"),
		Name:           stringProp(props, "name"),
		NormalizedName: stringProp(props, "normalized_name"),
		Embedding:      float32SliceProp(props, "embedding"),
		Summary:        stringProp(props, "summary"),
		GroupID:        stringProp(props, "group_id"),
		Labels:         stringSliceProp(props, "labels"),
		CreatedAt:      createdAt,
		ValidAt:        validAt,
		InvalidAt:      invalidAt,
	}, nil
}

func linkFromRecord(record *neo4jdriver.Record, groupID string) (*models.MemoryLink, error) {
	value, ok := record.Get("rel")
	if !ok {
		return nil, fmt.Errorf("record has no 'rel' column")
	}
	rel, ok := value.(neo4jdriver.Relationship)
	if !ok {
		return nil, fmt.Errorf("unexpected record value %T, want neo4j.Relationship", value)
	}
	props := rel.Props

	validAt, err := instantProp(props, "valid_at")
	if err != nil {
		return nil, err
	}
	invalidAt, err := instantProp(props, "invalid_at")
	if err != nil {
		return nil, err
	}
	createdAt, err := instantProp(props, "created_at")
	if err != nil {
		return nil, err
	}

	sourceUUID := ""
	if v, ok := record.Get("source_uuid"); ok {
		sourceUUID, _ = v.(string)
	}
	targetUUID := ""
	if v, ok := record.Get("target_uuid"); ok {
		targetUUID, _ = v.(string)
	}

	return &models.MemoryLink{
		UUID:           stringProp(props, "uuid"),
		SourceNodeUUID: sourceUUID,
		TargetNodeUUID: targetUUID,
		RelationType:   stringProp(props, "relation_type"),
		Fact:           stringProp(props, "fact"),
		Embedding:      float32SliceProp(props, "embedding"),
		ValidAt:        validAt,
		InvalidAt:      invalidAt,
		CreatedAt:      createdAt,
		Sources:        stringSliceProp(props, "sources"),
		GroupID:        groupID,
	}, nil
}

// float64Slice converts an embedding into the element type the bolt
// protocol transports.
func float64Slice(vector []float32) []float64 {
	if vector == nil {
		return nil
	}
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	return out
}

func stringProp(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func instantProp(props map[string]interface{}, key string) (time.Time, error) {
	raw := stringProp(props, key)
	if raw == "" {
		return models.ValidAlways, nil
	}
	return models.ParseInstant(raw)
}

func float32SliceProp(props map[string]interface{}, key string) []float32 {
	raw, ok := props[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

func stringSliceProp(props map[string]interface{}, key string) []string {
	raw, ok := props[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
