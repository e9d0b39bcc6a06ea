// Package forest implements honest causal forests: trees grown with a
// treatment-effect heterogeneity criterion on one half of each subsample
// and leaf effects estimated on the other half, averaged over trees.
package forest

import (
	"context"
	"sync"

	"gocausal/domain/effect"
	"gocausal/internal"
	"gocausal/internal/errors"
	"gocausal/internal/metrics"
	"gocausal/ports"
)

// CausalForest is a fitted ensemble of causal trees. It is built once by
// Fit and is safe for concurrent reads afterwards.
type CausalForest struct {
	cfg     effect.Config
	rng     ports.RNGPort
	logger  *internal.Logger
	metrics *metrics.ForestMetrics

	mu          sync.RWMutex
	fitted      bool
	building    bool
	trees       []*CausalTree
	numFeatures int
	numTrain    int
	report      BuildReport
}

// Option customises a CausalForest.
type Option func(*CausalForest)

// WithRNG sets the seed source for tree slots. Fitting requires it;
// forests restored only for prediction may omit it.
func WithRNG(r ports.RNGPort) Option {
	return func(f *CausalForest) { f.rng = r }
}

// WithLogger sets the logger used for build reporting.
func WithLogger(l *internal.Logger) Option {
	return func(f *CausalForest) { f.logger = l }
}

// WithMetrics records build and prediction counters.
func WithMetrics(m *metrics.ForestMetrics) Option {
	return func(f *CausalForest) { f.metrics = m }
}

// New validates cfg and returns an unfitted forest.
func New(cfg effect.Config, opts ...Option) (*CausalForest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &CausalForest{
		cfg:    cfg,
		logger: internal.DefaultLogger.WithComponent("forest"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fit validates the raw arrays and grows the forest.
func (f *CausalForest) Fit(ctx context.Context, x [][]float64, t, y []float64) error {
	data, err := effect.NewDataset(x, t, y)
	if err != nil {
		return err
	}
	return f.FitDataset(ctx, data)
}

// FitDataset grows the forest on an already validated dataset. It fails
// with INVALID_INPUT when the sample cannot support a single valid split
// under MinLeaf, and with ESTIMATION_ERROR only if every tree slot failed.
// Trees lost to estimation failures are reported through Report.
func (f *CausalForest) FitDataset(ctx context.Context, data *effect.Dataset) error {
	n := data.Rows()
	if n < 2*f.cfg.MinLeaf {
		return errors.Newf(errors.CodeInvalidInput, "%d observations cannot form a split with min_leaf=%d (need at least %d)", n, f.cfg.MinLeaf, 2*f.cfg.MinLeaf)
	}
	if f.rng == nil {
		return errors.InternalError("forest has no RNG port; construct it with WithRNG")
	}

	f.mu.Lock()
	if f.fitted || f.building {
		f.mu.Unlock()
		return errors.InvalidInput("forest is already fitted")
	}
	f.building = true
	f.mu.Unlock()

	builder := NewBuilder(f.rng, f.logger, f.metrics)
	trees, report, err := builder.Build(ctx, data, f.cfg)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.building = false
	if err != nil {
		return errors.Wrap(err, "forest build failed")
	}

	f.trees = trees
	f.report = report
	f.numFeatures = data.Cols()
	f.numTrain = n
	f.fitted = true
	return nil
}

// Predict returns τ̂(x) for every query row: the unweighted mean of the
// per-tree leaf estimates.
func (f *CausalForest) Predict(x [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkQuery(x); err != nil {
		return nil, err
	}

	out := make([]float64, len(x))
	for i, row := range x {
		var sum float64
		for _, tree := range f.trees {
			sum += tree.PredictLeaf(row)
		}
		out[i] = sum / float64(len(f.trees))
	}
	f.metrics.RecordPredictions(len(x))
	return out, nil
}

func (f *CausalForest) checkQuery(x [][]float64) error {
	if !f.fitted {
		return errNotFitted()
	}
	for i, row := range x {
		if len(row) != f.numFeatures {
			return errors.Newf(errors.CodeInvalidInput, "query row %d has %d features, forest was trained on %d", i, len(row), f.numFeatures)
		}
	}
	return nil
}

func errNotFitted() error {
	return errors.NotFitted("forest has not been fitted")
}

// Fitted reports whether Fit has completed successfully.
func (f *CausalForest) Fitted() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fitted
}

// Config returns the fit-time configuration.
func (f *CausalForest) Config() effect.Config { return f.cfg }

// NumTrees is the number of trees that survived the build.
func (f *CausalForest) NumTrees() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.trees)
}

// NumFeatures is the training covariate dimensionality.
func (f *CausalForest) NumFeatures() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.numFeatures
}

// NumTrain is the number of training rows.
func (f *CausalForest) NumTrain() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.numTrain
}

// Report describes how the build went, including dropped tree slots.
func (f *CausalForest) Report() BuildReport {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.report
}

// Trees returns the fitted trees in slot order. Callers must not modify them.
func (f *CausalForest) Trees() []*CausalTree {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.trees
}
