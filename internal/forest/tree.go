package forest

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"

	"gocausal/domain/effect"
	"gocausal/internal/errors"
)

// Node is one record of a tree's node arena. An internal node sends
// x[Feature] <= Threshold to Left and everything else to Right. A leaf
// keeps its cached effect and arm counts. Samples lists the estimation
// rows routed to the leaf; it is a fit-time view that snapshots do not
// persist, since TreeSnapshot.Estimation already records the half.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Depth     int     `json:"depth"`
	IsLeaf    bool    `json:"leaf"`
	Tau       float64 `json:"tau"`
	Treated   int     `json:"treated"`
	Control   int     `json:"control"`
	Samples   []int   `json:"-"`
}

// CausalTree is a single honest causal tree. It is immutable once grown.
type CausalTree struct {
	nodes       []Node
	subsample   []int
	splitting   []int
	estimation  []int
	numFeatures int
	depth       int
}

// GrowTree grows one honest tree on the given subsample. The subsample is
// partitioned once into a splitting half (chooses the structure) and an
// estimation half (fills the leaves). Copies of a bootstrap-duplicated
// observation always land in the same half.
//
// An EstimationError is returned when any leaf's estimation samples lack a
// treatment arm; the tree must then be discarded.
func GrowTree(data *effect.Dataset, subsample []int, cfg effect.Config, rng *rand.Rand) (*CausalTree, error) {
	if len(subsample) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("subsample of %d observations is too small", len(subsample)))
	}

	splitting, estimation := honestPartition(subsample, cfg.SplittingSize(len(subsample)), rng)

	g := &grower{
		data:       data,
		cfg:        cfg,
		rng:        rng,
		eval:       NewSplitEvaluator(data, cfg.MinLeaf, cfg.Propensity, treatedFraction(data, splitting)),
		k:          data.Cols(),
		candidates: cfg.NumCandidateFeatures(data.Cols()),
	}
	if _, err := g.grow(splitting, estimation, 0); err != nil {
		return nil, err
	}

	sub := append([]int(nil), subsample...)
	sort.Ints(sub)
	return &CausalTree{
		nodes:       g.nodes,
		subsample:   sub,
		splitting:   splitting,
		estimation:  estimation,
		numFeatures: g.k,
		depth:       g.maxDepth,
	}, nil
}

// honestPartition shuffles the distinct observations of subsample and
// assigns whole groups of copies to the splitting half until it holds at
// least want entries. Both returned slices are sorted.
func honestPartition(subsample []int, want int, rng *rand.Rand) (splitting, estimation []int) {
	counts := make(map[int]int, len(subsample))
	distinct := make([]int, 0, len(subsample))
	for _, idx := range subsample {
		if counts[idx] == 0 {
			distinct = append(distinct, idx)
		}
		counts[idx]++
	}
	sort.Ints(distinct)
	rng.Shuffle(len(distinct), func(i, j int) { distinct[i], distinct[j] = distinct[j], distinct[i] })

	for _, idx := range distinct {
		dst := &estimation
		if len(splitting) < want {
			dst = &splitting
		}
		for c := 0; c < counts[idx]; c++ {
			*dst = append(*dst, idx)
		}
	}
	sort.Ints(splitting)
	sort.Ints(estimation)
	return splitting, estimation
}

type grower struct {
	data       *effect.Dataset
	cfg        effect.Config
	rng        *rand.Rand
	eval       *SplitEvaluator
	k          int
	candidates int
	nodes      []Node
	maxDepth   int
}

func (g *grower) grow(splitting, estimation []int, depth int) (int, error) {
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{Depth: depth})
	if depth > g.maxDepth {
		g.maxDepth = depth
	}

	if depth >= g.cfg.MaxDepth || len(splitting) < 2*g.cfg.MinLeaf {
		return id, g.makeLeaf(id, estimation)
	}
	decision := g.eval.Evaluate(splitting, g.candidateFeatures())
	if !decision.Valid {
		return id, g.makeLeaf(id, estimation)
	}

	splitL, splitR := route(g.data, splitting, decision.Feature, decision.Threshold)
	estL, estR := route(g.data, estimation, decision.Feature, decision.Threshold)

	left, err := g.grow(splitL, estL, depth+1)
	if err != nil {
		return id, err
	}
	right, err := g.grow(splitR, estR, depth+1)
	if err != nil {
		return id, err
	}

	g.nodes[id] = Node{
		Feature:   decision.Feature,
		Threshold: decision.Threshold,
		Left:      left,
		Right:     right,
		Depth:     depth,
	}
	return id, nil
}

func (g *grower) candidateFeatures() []int {
	if g.candidates >= g.k {
		all := make([]int, g.k)
		for i := range all {
			all[i] = i
		}
		return all
	}
	picked := g.rng.Perm(g.k)[:g.candidates]
	sort.Ints(picked)
	return picked
}

func (g *grower) makeLeaf(id int, estimation []int) error {
	var treated, control []float64
	for _, idx := range estimation {
		if g.data.Treated(idx) {
			treated = append(treated, g.data.Y[idx])
		} else {
			control = append(control, g.data.Y[idx])
		}
	}

	meanT, err := stats.Mean(treated)
	if err != nil {
		return errors.EstimationFailed(fmt.Sprintf("leaf at depth %d has no treated estimation samples", g.nodes[id].Depth))
	}
	meanC, err := stats.Mean(control)
	if err != nil {
		return errors.EstimationFailed(fmt.Sprintf("leaf at depth %d has no control estimation samples", g.nodes[id].Depth))
	}

	g.nodes[id] = Node{
		Feature: -1,
		Left:    -1,
		Right:   -1,
		Depth:   g.nodes[id].Depth,
		IsLeaf:  true,
		Tau:     meanT - meanC,
		Treated: len(treated),
		Control: len(control),
		Samples: append([]int(nil), estimation...),
	}
	return nil
}

// route applies one split rule to a set of indices.
func route(data *effect.Dataset, indices []int, feature int, threshold float64) (left, right []int) {
	for _, idx := range indices {
		if data.Value(idx, feature) <= threshold {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}
	return left, right
}

// LeafIndex walks x to its leaf and returns the leaf's arena index.
func (t *CausalTree) LeafIndex(x []float64) int {
	idx := 0
	for {
		n := &t.nodes[idx]
		if n.IsLeaf {
			return idx
		}
		if x[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// PredictLeaf returns the cached effect of the leaf x falls into.
func (t *CausalTree) PredictLeaf(x []float64) float64 {
	return t.nodes[t.LeafIndex(x)].Tau
}

// Nodes exposes the node arena; the root is element 0. Callers must not
// modify it.
func (t *CausalTree) Nodes() []Node { return t.nodes }

// Subsample returns the sorted observation indices drawn for this tree,
// repeated for bootstrap duplicates.
func (t *CausalTree) Subsample() []int { return t.subsample }

// SplittingIndices returns the sorted split-selection half.
func (t *CausalTree) SplittingIndices() []int { return t.splitting }

// EstimationIndices returns the sorted leaf-estimation half.
func (t *CausalTree) EstimationIndices() []int { return t.estimation }

// Depth is the depth of the deepest node; a single leaf has depth 0.
func (t *CausalTree) Depth() int { return t.depth }

// NumFeatures is the covariate dimensionality the tree was grown on.
func (t *CausalTree) NumFeatures() int { return t.numFeatures }

// NumLeaves counts terminal nodes.
func (t *CausalTree) NumLeaves() int {
	var leaves int
	for i := range t.nodes {
		if t.nodes[i].IsLeaf {
			leaves++
		}
	}
	return leaves
}
