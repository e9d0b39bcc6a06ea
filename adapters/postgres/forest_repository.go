package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"gocausal/domain/core"
	"gocausal/domain/effect"
	"gocausal/internal/errors"
	"gocausal/ports"
)

// Schema creates the table backing the forest repository
const Schema = `CREATE TABLE IF NOT EXISTS causal_forests (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	num_trees INTEGER NOT NULL,
	num_features INTEGER NOT NULL,
	num_train INTEGER NOT NULL,
	dropped INTEGER NOT NULL DEFAULT 0,
	data_fingerprint TEXT NOT NULL,
	snapshot JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// forestRepository implements the ForestRepository interface
type forestRepository struct {
	db *sqlx.DB
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, errors.Wrap(errors.DatabaseError(err.Error()), "failed to connect to database")
	}
	return db, nil
}

// NewForestRepository creates a new forest repository
func NewForestRepository(db *sqlx.DB) ports.ForestRepository {
	return &forestRepository{db: db}
}

// EnsureSchema creates the causal_forests table if it does not exist
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return dbError(err, "failed to create causal_forests table")
	}
	return nil
}

// Save inserts a fitted forest
func (r *forestRepository) Save(ctx context.Context, rec *effect.ModelRecord) error {
	query := `INSERT INTO causal_forests (
		id, name, num_trees, num_features, num_train, dropped, data_fingerprint, snapshot, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		string(rec.ID), rec.Name, rec.NumTrees, rec.NumFeatures, rec.NumTrain, rec.Dropped,
		string(rec.Fingerprint), string(rec.Snapshot), rec.CreatedAt,
	)
	if err != nil {
		return dbError(err, fmt.Sprintf("failed to save forest %s", rec.ID))
	}
	return nil
}

// Get retrieves a forest with its snapshot
func (r *forestRepository) Get(ctx context.Context, id core.ModelID) (*effect.ModelRecord, error) {
	query := `SELECT id, name, num_trees, num_features, num_train, dropped, data_fingerprint, snapshot, created_at
	FROM causal_forests WHERE id = $1`

	var rec effect.ModelRecord
	if err := r.db.GetContext(ctx, &rec, query, string(id)); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound(fmt.Sprintf("forest %s", id))
		}
		return nil, dbError(err, "failed to get forest")
	}
	return &rec, nil
}

// List returns forest summaries, newest first
func (r *forestRepository) List(ctx context.Context, limit int) ([]*effect.ModelRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, name, num_trees, num_features, num_train, dropped, data_fingerprint, created_at
	FROM causal_forests
	ORDER BY created_at DESC
	LIMIT $1`

	var records []*effect.ModelRecord
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, dbError(err, "failed to list forests")
	}
	return records, nil
}

// Delete removes a forest
func (r *forestRepository) Delete(ctx context.Context, id core.ModelID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM causal_forests WHERE id = $1`, string(id))
	if err != nil {
		return dbError(err, "failed to delete forest")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbError(err, "failed to delete forest")
	}
	if n == 0 {
		return errors.NotFound(fmt.Sprintf("forest %s", id))
	}
	return nil
}

func dbError(err error, message string) error {
	return errors.Wrap(errors.DatabaseError(err.Error()), message)
}
