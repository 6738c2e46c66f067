package models

import "time"

// Episode is one unit of conversational input handed to the ingestion
// pipeline, either directly over HTTP or through the Kafka consumer.
type Episode struct {
	EpisodeID     string    `json:"episode_id"`
	GroupID       string    `json:"group_id"`
	Content       string    `json:"content"`
	PriorContext  string    `json:"prior_context,omitempty"`
	ReferenceTime time.Time `json:"reference_time"`
}
