package effect

import (
	"encoding/json"
	"time"

	"gocausal/domain/core"
)

// ModelRecord is a persisted fitted forest. Snapshot holds the serialized
// forest; the other fields are summary columns for listing.
type ModelRecord struct {
	ID          core.ModelID    `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	NumTrees    int             `json:"num_trees" db:"num_trees"`
	NumFeatures int             `json:"num_features" db:"num_features"`
	NumTrain    int             `json:"num_train" db:"num_train"`
	Dropped     int             `json:"dropped" db:"dropped"`
	Fingerprint core.Hash       `json:"data_fingerprint" db:"data_fingerprint"`
	Snapshot    json.RawMessage `json:"-" db:"snapshot"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
