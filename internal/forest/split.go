package forest

import (
	"sort"

	"gocausal/domain/effect"
)

// SplitDecision is the outcome of evaluating one node. Valid is false when
// no candidate split satisfies the per-arm leaf constraints.
type SplitDecision struct {
	Feature   int
	Threshold float64
	Score     float64
	Valid     bool
}

// NoSplit is the sentinel decision that turns a node into a leaf.
var NoSplit = SplitDecision{Feature: -1}

// SplitEvaluator scores candidate (feature, threshold) splits of a node's
// splitting-half samples with the transformed-outcome heterogeneity
// criterion
//
//	Z = Y*(T-p) / (p*(1-p))
//	score = nL*nR/(nL+nR) * (mean_L(Z) - mean_R(Z))^2
//
// and keeps the highest score. It never mutates its inputs.
type SplitEvaluator struct {
	data       *effect.Dataset
	minLeaf    int
	mode       effect.PropensityMode
	propensity float64
}

// NewSplitEvaluator creates an evaluator. globalPropensity is only used
// when mode is effect.PropensityGlobal.
func NewSplitEvaluator(data *effect.Dataset, minLeaf int, mode effect.PropensityMode, globalPropensity float64) *SplitEvaluator {
	if minLeaf < 1 {
		minLeaf = 1
	}
	return &SplitEvaluator{
		data:       data,
		minLeaf:    minLeaf,
		mode:       mode,
		propensity: globalPropensity,
	}
}

// Evaluate returns the best split of indices over the candidate features.
// A candidate is admissible only if both children keep at least minLeaf
// treated and minLeaf control samples. Ties keep the earliest candidate in
// feature order, then threshold order.
func (e *SplitEvaluator) Evaluate(indices []int, features []int) SplitDecision {
	n := len(indices)
	if n < 2*e.minLeaf {
		return NoSplit
	}

	p := e.propensityOf(indices)
	if p <= 0 || p >= 1 {
		return NoSplit
	}
	scale := 1 / (p * (1 - p))

	var totalZ float64
	var totalTreated int
	for _, idx := range indices {
		totalZ += e.pseudoOutcome(idx, p, scale)
		if e.data.Treated(idx) {
			totalTreated++
		}
	}
	totalControl := n - totalTreated
	if totalTreated < 2*e.minLeaf || totalControl < 2*e.minLeaf {
		return NoSplit
	}

	best := NoSplit
	order := make([]int, n)
	for _, f := range features {
		copy(order, indices)
		sort.SliceStable(order, func(a, b int) bool {
			return e.data.Value(order[a], f) < e.data.Value(order[b], f)
		})
		if e.data.Value(order[0], f) == e.data.Value(order[n-1], f) {
			continue
		}

		var sumZ float64
		var treatedL int
		for i := 0; i < n-1; i++ {
			idx := order[i]
			sumZ += e.pseudoOutcome(idx, p, scale)
			if e.data.Treated(idx) {
				treatedL++
			}

			x := e.data.Value(idx, f)
			if x == e.data.Value(order[i+1], f) {
				continue
			}

			nL := i + 1
			nR := n - nL
			controlL := nL - treatedL
			treatedR := totalTreated - treatedL
			controlR := totalControl - controlL
			if treatedL < e.minLeaf || controlL < e.minLeaf || treatedR < e.minLeaf || controlR < e.minLeaf {
				continue
			}

			diff := sumZ/float64(nL) - (totalZ-sumZ)/float64(nR)
			score := float64(nL) * float64(nR) / float64(n) * diff * diff
			if !best.Valid || score > best.Score {
				best = SplitDecision{Feature: f, Threshold: x, Score: score, Valid: true}
			}
		}
	}
	return best
}

func (e *SplitEvaluator) propensityOf(indices []int) float64 {
	if e.mode == effect.PropensityGlobal {
		return e.propensity
	}
	return treatedFraction(e.data, indices)
}

func (e *SplitEvaluator) pseudoOutcome(idx int, p, scale float64) float64 {
	return e.data.Y[idx] * (e.data.T[idx] - p) * scale
}

func treatedFraction(data *effect.Dataset, indices []int) float64 {
	if len(indices) == 0 {
		return 0
	}
	var treated int
	for _, idx := range indices {
		if data.Treated(idx) {
			treated++
		}
	}
	return float64(treated) / float64(len(indices))
}
