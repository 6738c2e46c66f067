package models

import (
	"strings"
	"time"
)

// MemoryObject is an entity node in the temporal knowledge graph.
// At most one object exists per (NormalizedName, GroupID) pair; the
// persistence layer enforces this with an idempotent upsert rather than a
// hard constraint.
type MemoryObject struct {
	UUID           string    `json:"uuid"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name"`
	Embedding      []float32 `json:"embedding,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	GroupID        string    `json:"group_id"`
	Labels         []string  `json:"labels"`
	CreatedAt      time.Time `json:"created_at"`
	ValidAt        time.Time `json:"valid_at"`
	InvalidAt      time.Time `json:"invalid_at"`
}

// NormalizeName lowercases and trims a display name into the dedup key form.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
