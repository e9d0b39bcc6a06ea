package forest

import (
	"gonum.org/v1/gonum/floats"

	"gocausal/domain/effect"
	"gocausal/internal/errors"
)

// PredictWithVariance returns τ̂(x) together with an infinitesimal
// jackknife variance computed from each tree's subsample membership:
//
//	V(x) = Σ_i Cov_b(N_bi, τ_b(x))²
//
// where N_bi counts how often observation i was drawn for tree b. The
// finite-sample correction is not applied.
func (f *CausalForest) PredictWithVariance(x [][]float64) ([]effect.Estimate, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkQuery(x); err != nil {
		return nil, err
	}
	if len(f.trees) < 2 {
		return nil, errors.EstimationFailed("variance needs at least two trees")
	}

	b := float64(len(f.trees))
	taus := make([]float64, len(f.trees))
	cov := make([]float64, f.numTrain)
	out := make([]effect.Estimate, len(x))

	for r, row := range x {
		for i, tree := range f.trees {
			taus[i] = tree.PredictLeaf(row)
		}
		mean := floats.Sum(taus) / b

		for i := range cov {
			cov[i] = 0
		}
		// Σ_b (N_bi - N̄_i)(τ_b - τ̄) reduces to Σ_b N_bi (τ_b - τ̄).
		for i, tree := range f.trees {
			centred := taus[i] - mean
			for _, idx := range tree.subsample {
				cov[idx] += centred
			}
		}
		floats.Scale(1/b, cov)

		out[r] = effect.Estimate{Tau: mean, Variance: floats.Dot(cov, cov)}
	}
	f.metrics.RecordPredictions(len(x))
	return out, nil
}
