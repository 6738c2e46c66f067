package service

import (
	"context"

	"mnemograph/internal/memory/search"
	"mnemograph/internal/models"
)

// NoopMemory is the implementation bound when memory.enabled is false.
// Every operation fails fast with ErrMemoryDisabled so callers get a
// uniform signal instead of partial behavior.
type NoopMemory struct{}

// NewNoopMemory creates a new NoopMemory.
func NewNoopMemory() *NoopMemory {
	return &NoopMemory{}
}

func (n *NoopMemory) AddEpisode(ctx context.Context, episode *models.Episode) error {
	return ErrMemoryDisabled
}

func (n *NoopMemory) AddEpisodes(ctx context.Context, episodes []*models.Episode) error {
	return ErrMemoryDisabled
}

func (n *NoopMemory) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return nil, ErrMemoryDisabled
}

func (n *NoopMemory) AddFact(ctx context.Context, req AddFactRequest) (*Result, error) {
	return nil, ErrMemoryDisabled
}

func (n *NoopMemory) ListFacts(ctx context.Context, req ListFactsRequest) ([]*models.MemoryLink, error) {
	return nil, ErrMemoryDisabled
}

func (n *NoopMemory) InvalidateFact(ctx context.Context, req InvalidateFactRequest) (*Result, error) {
	return nil, ErrMemoryDisabled
}

func (n *NoopMemory) UpdateEntity(ctx context.Context, req UpdateEntityRequest) (*Result, error) {
	return nil, ErrMemoryDisabled
}

func (n *NoopMemory) DeleteEntity(ctx context.Context, req DeleteEntityRequest) (*Result, error) {
	return nil, ErrMemoryDisabled
}
