package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mnemograph/internal/memory/search"
	"mnemograph/internal/memory/service"
	"mnemograph/internal/models"
	"mnemograph/pkg/logger"
)

// Handler bundles the HTTP endpoint handlers for the memory engine.
type Handler struct {
	memory service.Memory
	logger *logger.Logger
}

// NewHandler creates a new Handler.
func NewHandler(memory service.Memory, log *logger.Logger) *Handler {
	return &Handler{memory: memory, logger: log}
}

// AddEpisodeRequest is the JSON body for single-episode ingestion.
type AddEpisodeRequest struct {
	EpisodeID     string `json:"episode_id"`
	GroupID       string `json:"group_id"`
	Content       string `json:"content" binding:"required"`
	PriorContext  string `json:"prior_context"`
	ReferenceTime string `json:"reference_time"`
}

func (r *AddEpisodeRequest) toEpisode() (*models.Episode, error) {
	episode := &models.Episode{
		EpisodeID:    r.EpisodeID,
		GroupID:      r.GroupID,
		Content:      r.Content,
		PriorContext: r.PriorContext,
	}
	if r.ReferenceTime != "" {
		t, err := models.ParseInstant(r.ReferenceTime)
		if err != nil {
			return nil, err
		}
		episode.ReferenceTime = t
	}
	return episode, nil
}

// AddEpisode ingests one episode synchronously.
func (h *Handler) AddEpisode(c *gin.Context) {
	var req AddEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	episode, err := req.toEpisode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reference_time: " + err.Error()})
		return
	}

	if err := h.memory.AddEpisode(c.Request.Context(), episode); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"episode_id": episode.EpisodeID})
}

// AddEpisodesRequest is the JSON body for batch ingestion.
type AddEpisodesRequest struct {
	Episodes []AddEpisodeRequest `json:"episodes" binding:"required,min=1"`
}

// AddEpisodes ingests a batch of episodes with bounded parallelism.
func (h *Handler) AddEpisodes(c *gin.Context) {
	var req AddEpisodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	episodes := make([]*models.Episode, 0, len(req.Episodes))
	for i := range req.Episodes {
		episode, err := req.Episodes[i].toEpisode()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reference_time: " + err.Error()})
			return
		}
		episodes = append(episodes, episode)
	}

	if err := h.memory.AddEpisodes(c.Request.Context(), episodes); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ingested": len(episodes)})
}

// SearchRequest is the JSON body for hybrid retrieval.
type SearchRequest struct {
	Query   string `json:"query" binding:"required"`
	GroupID string `json:"group_id"`
	Limit   int    `json:"limit"`
	Hops    int    `json:"hops"`
	AsOf    string `json:"as_of"`
	Rerank  bool   `json:"rerank"`
}

// SearchResultItem is one retrieved memory object on the wire.
type SearchResultItem struct {
	UUID    string   `json:"uuid"`
	Name    string   `json:"name"`
	Summary string   `json:"summary,omitempty"`
	Labels  []string `json:"labels"`
	Score   float64  `json:"score"`
}

// Search runs the hybrid retrieval pipeline.
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := search.Options{
		GroupID: req.GroupID,
		Limit:   req.Limit,
		Hops:    req.Hops,
		Rerank:  req.Rerank,
	}
	if req.AsOf != "" {
		t, err := models.ParseInstant(req.AsOf)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid as_of: " + err.Error()})
			return
		}
		opts.AsOf = &t
	}

	results, err := h.memory.Search(c.Request.Context(), req.Query, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]SearchResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, SearchResultItem{
			UUID:    r.Node.UUID,
			Name:    r.Node.Name,
			Summary: r.Node.Summary,
			Labels:  r.Node.Labels,
			Score:   r.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": items})
}

// AddFact records a manually asserted fact.
func (h *Handler) AddFact(c *gin.Context) {
	var req service.AddFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.memory.AddFact(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// FactItem is one relationship edge on the wire.
type FactItem struct {
	UUID         string   `json:"uuid"`
	SourceUUID   string   `json:"source_uuid"`
	TargetUUID   string   `json:"target_uuid"`
	RelationType string   `json:"relation_type"`
	Fact         string   `json:"fact,omitempty"`
	ValidAt      string   `json:"valid_at"`
	InvalidAt    string   `json:"invalid_at"`
	Sources      []string `json:"sources,omitempty"`
}

// ListFacts lists an entity's outgoing facts, optionally as they were at a
// past instant (?as_of=RFC3339).
func (h *Handler) ListFacts(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name query parameter is required"})
		return
	}

	req := service.ListFactsRequest{GroupID: c.Query("group_id"), Name: name}
	if asOf := c.Query("as_of"); asOf != "" {
		t, err := models.ParseInstant(asOf)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid as_of: " + err.Error()})
			return
		}
		req.AsOf = &t
	}

	edges, err := h.memory.ListFacts(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]FactItem, 0, len(edges))
	for _, edge := range edges {
		items = append(items, FactItem{
			UUID:         edge.UUID,
			SourceUUID:   edge.SourceNodeUUID,
			TargetUUID:   edge.TargetNodeUUID,
			RelationType: edge.RelationType,
			Fact:         edge.Fact,
			ValidAt:      models.FormatInstant(edge.ValidAt),
			InvalidAt:    models.FormatInstant(edge.InvalidAt),
			Sources:      edge.Sources,
		})
	}
	c.JSON(http.StatusOK, gin.H{"facts": items})
}

// InvalidateFact closes the validity interval of a matching fact.
func (h *Handler) InvalidateFact(c *gin.Context) {
	var req service.InvalidateFactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.memory.InvalidateFact(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// UpdateEntity patches an entity's summary and/or label.
func (h *Handler) UpdateEntity(c *gin.Context) {
	var req service.UpdateEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.memory.UpdateEntity(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DeleteEntity removes an entity, cascading over its edges when asked to.
func (h *Handler) DeleteEntity(c *gin.Context) {
	var req service.DeleteEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.memory.DeleteEntity(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health is a liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrMemoryDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithError(err).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
