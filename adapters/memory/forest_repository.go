package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gocausal/domain/core"
	"gocausal/domain/effect"
	"gocausal/internal/errors"
	"gocausal/ports"
)

// forestRepository keeps fitted forests in process memory. It is used when
// no database is configured.
type forestRepository struct {
	mu      sync.RWMutex
	records map[core.ModelID]effect.ModelRecord
}

// NewForestRepository creates an empty in-memory forest repository
func NewForestRepository() ports.ForestRepository {
	return &forestRepository{records: make(map[core.ModelID]effect.ModelRecord)}
}

func (r *forestRepository) Save(ctx context.Context, rec *effect.ModelRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.ID]; exists {
		return errors.DatabaseError(fmt.Sprintf("forest %s already exists", rec.ID))
	}
	stored := *rec
	stored.Snapshot = append([]byte(nil), rec.Snapshot...)
	r.records[rec.ID] = stored
	return nil
}

func (r *forestRepository) Get(ctx context.Context, id core.ModelID) (*effect.ModelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("forest %s", id))
	}
	return &rec, nil
}

func (r *forestRepository) List(ctx context.Context, limit int) ([]*effect.ModelRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	r.mu.RLock()
	out := make([]*effect.ModelRecord, 0, len(r.records))
	for _, rec := range r.records {
		rec.Snapshot = nil
		out = append(out, &rec)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *forestRepository) Delete(ctx context.Context, id core.ModelID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return errors.NotFound(fmt.Sprintf("forest %s", id))
	}
	delete(r.records, id)
	return nil
}
