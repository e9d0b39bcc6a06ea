package forest

// VariableImportance returns, per feature, the share of depth-weighted
// split counts across all trees. A split at depth d counts 1/(d+1). The
// result sums to 1 unless no tree split at all, in which case it is all
// zeros.
func (f *CausalForest) VariableImportance() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	imp := make([]float64, f.numFeatures)
	var total float64
	for _, tree := range f.trees {
		for _, n := range tree.nodes {
			if n.IsLeaf {
				continue
			}
			w := 1 / float64(n.Depth+1)
			imp[n.Feature] += w
			total += w
		}
	}
	if total == 0 {
		return imp
	}
	for i := range imp {
		imp[i] /= total
	}
	return imp
}

// AverageTreatmentEffect summarises the forest with one number: per tree,
// the leaf effects weighted by leaf estimation size, averaged over trees.
func (f *CausalForest) AverageTreatmentEffect() (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.fitted {
		return 0, errNotFitted()
	}

	var sum float64
	for _, tree := range f.trees {
		var weighted float64
		var size int
		for _, n := range tree.nodes {
			if !n.IsLeaf {
				continue
			}
			w := n.Treated + n.Control
			weighted += float64(w) * n.Tau
			size += w
		}
		sum += weighted / float64(size)
	}
	return sum / float64(len(f.trees)), nil
}
