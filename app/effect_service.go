package app

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"gocausal/domain/core"
	"gocausal/domain/effect"
	"gocausal/internal"
	"gocausal/internal/errors"
	"gocausal/internal/forest"
	"gocausal/internal/metrics"
	"gocausal/ports"
)

// EffectService fits causal forests, persists them and serves predictions
type EffectService struct {
	repo     ports.ForestRepository
	rngPort  ports.RNGPort
	metrics  *metrics.ForestMetrics
	defaults effect.Config
	logger   *internal.Logger

	mu     sync.RWMutex
	loaded map[core.ModelID]*forest.CausalForest
}

// FitRequest carries training data and optional config overrides. Config
// is a JSON object whose keys replace the matching service defaults.
type FitRequest struct {
	Name   string          `json:"name"`
	X      [][]float64     `json:"x"`
	T      []float64       `json:"t"`
	Y      []float64       `json:"y"`
	Config json.RawMessage `json:"config,omitempty"`
}

// ModelSummary describes a fitted forest
type ModelSummary struct {
	Model      effect.ModelRecord `json:"model"`
	Config     effect.Config      `json:"config"`
	Report     forest.BuildReport `json:"report"`
	Importance []float64          `json:"importance"`
	ATE        float64            `json:"ate"`
}

// PredictResult holds per-row effect estimates. Variance is zero unless
// it was requested.
type PredictResult struct {
	ModelID   core.ModelID      `json:"model_id"`
	Estimates []effect.Estimate `json:"estimates"`
}

// NewEffectService creates an effect service
func NewEffectService(repo ports.ForestRepository, rngPort ports.RNGPort, m *metrics.ForestMetrics, defaults effect.Config) *EffectService {
	return &EffectService{
		repo:     repo,
		rngPort:  rngPort,
		metrics:  m,
		defaults: defaults,
		logger:   internal.DefaultLogger.WithComponent("effect-service"),
		loaded:   make(map[core.ModelID]*forest.CausalForest),
	}
}

// Fit grows a forest on the request data and stores it
func (s *EffectService) Fit(ctx context.Context, req FitRequest) (*ModelSummary, error) {
	cfg, err := s.resolveConfig(req.Config)
	if err != nil {
		return nil, err
	}

	data, err := effect.NewDataset(req.X, req.T, req.Y)
	if err != nil {
		return nil, err
	}
	f, err := forest.New(cfg,
		forest.WithRNG(s.rngPort),
		forest.WithMetrics(s.metrics),
		forest.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	if err := f.FitDataset(ctx, data); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.WriteJSON(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize forest")
	}

	report := f.Report()
	rec := &effect.ModelRecord{
		ID:          core.NewModelID(),
		Name:        req.Name,
		NumTrees:    f.NumTrees(),
		NumFeatures: f.NumFeatures(),
		NumTrain:    data.Rows(),
		Dropped:     report.Dropped,
		Fingerprint: fingerprint(req),
		Snapshot:    json.RawMessage(buf.Bytes()),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, errors.Wrap(err, "failed to store forest")
	}

	s.mu.Lock()
	s.loaded[rec.ID] = f
	s.mu.Unlock()

	s.logger.Info("fitted forest %s: %d trees on %d rows (%d dropped)", rec.ID, rec.NumTrees, rec.NumTrain, rec.Dropped)
	return summarize(rec, f)
}

// resolveConfig overlays the request's config keys on the defaults
func (s *EffectService) resolveConfig(raw json.RawMessage) (effect.Config, error) {
	cfg := s.defaults
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return cfg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return effect.Config{}, errors.Newf(errors.CodeInvalidInput, "invalid forest config: %v", err)
	}
	return cfg, nil
}

// Get returns the summary of a stored forest
func (s *EffectService) Get(ctx context.Context, id core.ModelID) (*ModelSummary, error) {
	f, rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return summarize(rec, f)
}

// List returns stored forests, newest first
func (s *EffectService) List(ctx context.Context, limit int) ([]*effect.ModelRecord, error) {
	return s.repo.List(ctx, limit)
}

// Delete removes a stored forest
func (s *EffectService) Delete(ctx context.Context, id core.ModelID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.loaded, id)
	s.mu.Unlock()
	return nil
}

// Predict estimates τ(x) for each query row, with infinitesimal jackknife
// variances when withVariance is set
func (s *EffectService) Predict(ctx context.Context, id core.ModelID, x [][]float64, withVariance bool) (*PredictResult, error) {
	f, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &PredictResult{ModelID: id}
	if withVariance {
		result.Estimates, err = f.PredictWithVariance(x)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	taus, err := f.Predict(x)
	if err != nil {
		return nil, err
	}
	result.Estimates = make([]effect.Estimate, len(taus))
	for i, tau := range taus {
		result.Estimates[i] = effect.Estimate{Tau: tau}
	}
	return result, nil
}

// load returns the forest for id, decoding its snapshot on first use
func (s *EffectService) load(ctx context.Context, id core.ModelID) (*forest.CausalForest, *effect.ModelRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	f, ok := s.loaded[id]
	s.mu.RUnlock()
	if ok {
		return f, rec, nil
	}

	f, err = forest.ReadJSON(bytes.NewReader(rec.Snapshot),
		forest.WithRNG(s.rngPort),
		forest.WithMetrics(s.metrics),
		forest.WithLogger(s.logger),
	)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to restore forest %s", id)
	}

	s.mu.Lock()
	s.loaded[id] = f
	s.mu.Unlock()
	s.logger.Debug("restored forest %s from snapshot", id)
	return f, rec, nil
}

func summarize(rec *effect.ModelRecord, f *forest.CausalForest) (*ModelSummary, error) {
	ate, err := f.AverageTreatmentEffect()
	if err != nil {
		return nil, err
	}
	summary := &ModelSummary{
		Model:      *rec,
		Config:     f.Config(),
		Report:     f.Report(),
		Importance: f.VariableImportance(),
		ATE:        ate,
	}
	return summary, nil
}

func fingerprint(req FitRequest) core.Hash {
	rows := make([][]float64, 0, len(req.X)+2)
	rows = append(rows, req.X...)
	return core.FingerprintColumns(append(rows, req.T, req.Y)...)
}
