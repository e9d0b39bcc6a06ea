package forest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gocausal/domain/effect"
	"gocausal/internal/errors"
)

// SnapshotVersion is bumped whenever the serialized layout changes.
const SnapshotVersion = 1

// Snapshot is the serializable form of a fitted forest.
type Snapshot struct {
	Version     int            `json:"version"`
	Config      effect.Config  `json:"config"`
	NumFeatures int            `json:"num_features"`
	NumTrain    int            `json:"num_train"`
	Report      BuildReport    `json:"report"`
	Trees       []TreeSnapshot `json:"trees"`
}

// TreeSnapshot is one tree's node arena and honest partition.
type TreeSnapshot struct {
	Nodes      []Node `json:"nodes"`
	Splitting  []int  `json:"splitting"`
	Estimation []int  `json:"estimation"`
}

// Snapshot captures a fitted forest.
func (f *CausalForest) Snapshot() (*Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.fitted {
		return nil, errNotFitted()
	}

	s := &Snapshot{
		Version:     SnapshotVersion,
		Config:      f.cfg,
		NumFeatures: f.numFeatures,
		NumTrain:    f.numTrain,
		Report:      f.report,
		Trees:       make([]TreeSnapshot, len(f.trees)),
	}
	for i, t := range f.trees {
		s.Trees[i] = TreeSnapshot{Nodes: t.nodes, Splitting: t.splitting, Estimation: t.estimation}
	}
	return s, nil
}

// FromSnapshot rebuilds a read-only fitted forest. The arena of every tree
// is checked so a corrupt snapshot cannot cause out-of-range walks.
func FromSnapshot(s *Snapshot, opts ...Option) (*CausalForest, error) {
	if s.Version != SnapshotVersion {
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported snapshot version %d", s.Version))
	}
	if len(s.Trees) == 0 || s.NumFeatures < 1 {
		return nil, errors.InvalidInput("snapshot has no trees")
	}

	f, err := New(s.Config, opts...)
	if err != nil {
		return nil, err
	}

	trees := make([]*CausalTree, len(s.Trees))
	for i, ts := range s.Trees {
		t, err := treeFromSnapshot(ts, s.NumFeatures, s.NumTrain)
		if err != nil {
			return nil, errors.Wrapf(err, "tree %d", i)
		}
		trees[i] = t
	}

	f.trees = trees
	f.numFeatures = s.NumFeatures
	f.numTrain = s.NumTrain
	f.report = s.Report
	f.fitted = true
	return f, nil
}

func treeFromSnapshot(ts TreeSnapshot, k, numTrain int) (*CausalTree, error) {
	if len(ts.Nodes) == 0 {
		return nil, errors.InvalidInput("empty node arena")
	}
	var depth int
	for i, n := range ts.Nodes {
		if n.Depth > depth {
			depth = n.Depth
		}
		if n.IsLeaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= k {
			return nil, errors.InvalidInput(fmt.Sprintf("node %d splits on feature %d of %d", i, n.Feature, k))
		}
		// Children always follow their parent in growth order.
		if n.Left <= i || n.Left >= len(ts.Nodes) || n.Right <= i || n.Right >= len(ts.Nodes) {
			return nil, errors.InvalidInput(fmt.Sprintf("node %d has out-of-range children", i))
		}
	}

	sub := make([]int, 0, len(ts.Splitting)+len(ts.Estimation))
	for _, idx := range append(append([]int(nil), ts.Splitting...), ts.Estimation...) {
		if idx < 0 || idx >= numTrain {
			return nil, errors.InvalidInput(fmt.Sprintf("sample index %d outside %d training rows", idx, numTrain))
		}
		sub = append(sub, idx)
	}
	sort.Ints(sub)

	return &CausalTree{
		nodes:       ts.Nodes,
		subsample:   sub,
		splitting:   ts.Splitting,
		estimation:  ts.Estimation,
		numFeatures: k,
		depth:       depth,
	}, nil
}

// WriteJSON encodes the snapshot of a fitted forest.
func (f *CausalForest) WriteJSON(w io.Writer) error {
	s, err := f.Snapshot()
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(s)
}

// ReadJSON decodes a snapshot and rebuilds the forest.
func ReadJSON(r io.Reader, opts ...Option) (*CausalForest, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, errors.Wrap(errors.InvalidInput(err.Error()), "decode forest snapshot")
	}
	return FromSnapshot(&s, opts...)
}
