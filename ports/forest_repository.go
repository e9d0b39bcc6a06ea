package ports

import (
	"context"

	"gocausal/domain/core"
	"gocausal/domain/effect"
)

// ForestRepository stores fitted forests by model ID
type ForestRepository interface {
	Save(ctx context.Context, rec *effect.ModelRecord) error
	Get(ctx context.Context, id core.ModelID) (*effect.ModelRecord, error)
	// List returns the most recent records first, without snapshots
	List(ctx context.Context, limit int) ([]*effect.ModelRecord, error)
	Delete(ctx context.Context, id core.ModelID) error
}
