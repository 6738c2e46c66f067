package models

import "time"

// MemoryLink is a relationship edge between two MemoryObjects. Links form an
// append-only temporal log: invalidation sets InvalidAt, it never deletes.
type MemoryLink struct {
	UUID           string    `json:"uuid"`
	SourceNodeUUID string    `json:"source_node_uuid"`
	TargetNodeUUID string    `json:"target_node_uuid"`
	RelationType   string    `json:"relation_type"`
	Fact           string    `json:"fact"`
	Embedding      []float32 `json:"embedding,omitempty"`
	ValidAt        time.Time `json:"valid_at"`
	InvalidAt      time.Time `json:"invalid_at"`
	CreatedAt      time.Time `json:"created_at"`
	Sources        []string  `json:"sources"`
	GroupID        string    `json:"group_id"`
}

// VisibleAt reports whether the link was a true fact at the given instant:
// ValidAt <= asOf < InvalidAt.
func (l *MemoryLink) VisibleAt(asOf time.Time) bool {
	if asOf.Before(l.ValidAt) {
		return false
	}
	return asOf.Before(l.InvalidAt)
}
