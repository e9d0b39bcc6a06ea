package forest

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocausal/adapters/rng"
	"gocausal/domain/effect"
	"gocausal/internal"
	"gocausal/internal/errors"
	"gocausal/internal/testkit"
)

func newTestForest(t *testing.T, cfg effect.Config) *CausalForest {
	t.Helper()
	f, err := New(cfg,
		WithRNG(rng.NewSeededAdapter()),
		WithLogger(internal.NewLogger(internal.LogLevelError)),
	)
	require.NoError(t, err)
	return f
}

func queryGrid() [][]float64 {
	var q [][]float64
	for _, a := range []float64{0.05, 0.3, 0.5, 0.7, 0.95} {
		for _, b := range []float64{0.1, 0.6, 0.9} {
			q = append(q, []float64{a, b})
		}
	}
	return q
}

func TestPureTreatmentEffect(t *testing.T) {
	_, data := generated(t, func(c *testkit.CausalGeneratorConfig) {
		c.Scenario = testkit.ScenarioPure
		c.Rows = 1000
		c.Features = 2
	})

	cfg := testConfig()
	cfg.NumTrees = 10
	cfg.MinLeaf = 5
	cfg.MaxDepth = 10
	f := newTestForest(t, cfg)
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	preds, err := f.Predict(queryGrid())
	require.NoError(t, err)
	require.Len(t, preds, len(queryGrid()))
	for _, p := range preds {
		assert.InDelta(t, 1.0, p, 0.05)
	}
}

func TestFitRejectsTooFewRows(t *testing.T) {
	_, data := generated(t, func(c *testkit.CausalGeneratorConfig) { c.Rows = 20 })

	cfg := testConfig()
	cfg.MinLeaf = 15
	f := newTestForest(t, cfg)

	err := f.Fit(context.Background(), data.X, data.T, data.Y)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidInput(err))
	assert.False(t, f.Fitted())
}

func TestFitRequiresRNG(t *testing.T) {
	_, data := generated(t, nil)
	f, err := New(testConfig(), WithLogger(internal.NewLogger(internal.LogLevelError)))
	require.NoError(t, err)

	err = f.Fit(context.Background(), data.X, data.T, data.Y)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInternalError))
	assert.False(t, f.Fitted())

	// A forest without an RNG can still be fitted once one is supplied.
	WithRNG(rng.NewSeededAdapter())(f)
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))
	assert.True(t, f.Fitted())
}

func TestFitRejectsBadInput(t *testing.T) {
	f := newTestForest(t, testConfig())
	err := f.Fit(context.Background(), [][]float64{{1}, {2}}, []float64{0, 0.5}, []float64{1, 2})
	assert.True(t, errors.IsInvalidInput(err))

	err = f.Fit(context.Background(), [][]float64{{1}, {2}}, []float64{0, 1}, []float64{1})
	assert.True(t, errors.IsInvalidInput(err))
}

func TestConstantCovariateGivesNaiveEstimate(t *testing.T) {
	n := 1000
	noise := rand.New(rand.NewSource(11))
	x := make([][]float64, n)
	tr := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{7}
		tr[i] = float64((i / 3) % 2)
		y[i] = 3 + 2*tr[i] + 0.5*noise.NormFloat64()
	}

	cfg := testConfig()
	cfg.NumTrees = 50
	f := newTestForest(t, cfg)
	require.NoError(t, f.Fit(context.Background(), x, tr, y))

	for _, tree := range f.Trees() {
		assert.Len(t, tree.Nodes(), 1)
	}

	preds, err := f.Predict([][]float64{{-5}, {7}, {1e6}})
	require.NoError(t, err)
	ds := mustDataset(t, x, tr, y)

	// Each root-only tree reports the naive effect of its own estimation
	// half, so the forest matches the full-sample naive effect only up to
	// subsampling error (sd about 0.01 here).
	var perTree float64
	for _, tree := range f.Trees() {
		perTree += tree.Nodes()[0].Tau
	}
	perTree /= float64(len(f.Trees()))
	for _, p := range preds {
		assert.Equal(t, preds[0], p)
		assert.InDelta(t, perTree, p, 1e-9)
		assert.InDelta(t, ds.NaiveEffect(), p, 0.05)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	_, data := generated(t, nil)

	cfg := testConfig()
	cfg.NumWorkers = 1
	a := newTestForest(t, cfg)
	require.NoError(t, a.Fit(context.Background(), data.X, data.T, data.Y))

	cfg.NumWorkers = 8
	b := newTestForest(t, cfg)
	require.NoError(t, b.Fit(context.Background(), data.X, data.T, data.Y))

	pa, err := a.Predict(queryGrid())
	require.NoError(t, err)
	pb, err := b.Predict(queryGrid())
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestPredictErrors(t *testing.T) {
	f := newTestForest(t, testConfig())

	_, err := f.Predict(queryGrid())
	assert.True(t, errors.IsNotFitted(err))
	_, err = f.PredictWithVariance(queryGrid())
	assert.True(t, errors.IsNotFitted(err))
	_, err = f.AverageTreatmentEffect()
	assert.True(t, errors.IsNotFitted(err))

	_, data := generated(t, nil)
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	_, err = f.Predict([][]float64{{0.5, 0.5, 0.5}})
	assert.True(t, errors.IsInvalidInput(err))

	err = f.Fit(context.Background(), data.X, data.T, data.Y)
	assert.True(t, errors.IsInvalidInput(err), "a fitted forest is immutable")
}

func TestPredictIsIdempotent(t *testing.T) {
	_, data := generated(t, nil)
	f := newTestForest(t, testConfig())
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	before, err := f.Snapshot()
	require.NoError(t, err)

	first, err := f.Predict(queryGrid())
	require.NoError(t, err)
	second, err := f.Predict(queryGrid())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := f.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	empty, err := f.Predict(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConstantEffectConcentrates(t *testing.T) {
	_, data := generated(t, func(c *testkit.CausalGeneratorConfig) {
		c.Scenario = testkit.ScenarioConstant
		c.Rows = 2000
		c.Effect = 2
	})
	cfg := testConfig()
	cfg.NumTrees = 40
	f := newTestForest(t, cfg)
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	var sum float64
	var leaves int
	for _, tree := range f.Trees() {
		for _, n := range tree.Nodes() {
			if n.IsLeaf {
				sum += n.Tau
				leaves++
			}
		}
	}
	assert.InDelta(t, 2.0, sum/float64(leaves), 0.15)

	preds, err := f.Predict(queryGrid())
	require.NoError(t, err)
	for _, p := range preds {
		assert.InDelta(t, 2.0, p, 0.3)
	}

	ate, err := f.AverageTreatmentEffect()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, ate, 0.15)
}

func TestStepEffectIsDetected(t *testing.T) {
	_, data := generated(t, func(c *testkit.CausalGeneratorConfig) {
		c.Scenario = testkit.ScenarioStep
		c.Rows = 2000
		c.Effect = 2
	})
	cfg := testConfig()
	cfg.NumTrees = 40
	f := newTestForest(t, cfg)
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	preds, err := f.Predict([][]float64{{0.1, 0.5}, {0.9, 0.5}})
	require.NoError(t, err)
	assert.Greater(t, preds[1]-preds[0], 1.0)

	imp := f.VariableImportance()
	require.Len(t, imp, 2)
	assert.Greater(t, imp[0], imp[1])
	assert.InDelta(t, 1.0, imp[0]+imp[1], 1e-9)

	ate, err := f.AverageTreatmentEffect()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ate, 0.25)
}

func TestPredictWithVariance(t *testing.T) {
	_, data := generated(t, nil)
	f := newTestForest(t, testConfig())
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	est, err := f.PredictWithVariance(queryGrid())
	require.NoError(t, err)
	preds, err := f.Predict(queryGrid())
	require.NoError(t, err)

	require.Len(t, est, len(preds))
	for i := range est {
		assert.InDelta(t, preds[i], est[i].Tau, 1e-12)
		assert.GreaterOrEqual(t, est[i].Variance, 0.0)
	}
}

func TestVarianceNeedsTwoTrees(t *testing.T) {
	_, data := generated(t, nil)
	cfg := testConfig()
	cfg.NumTrees = 1
	f := newTestForest(t, cfg)
	require.NoError(t, f.Fit(context.Background(), data.X, data.T, data.Y))

	_, err := f.PredictWithVariance(queryGrid())
	assert.True(t, errors.IsEstimation(err))
}

func TestImportanceWithoutSplits(t *testing.T) {
	n := 100
	x := make([][]float64, n)
	tr := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{1, 2}
		tr[i] = float64(i % 2)
		y[i] = tr[i]
	}
	f := newTestForest(t, testConfig())
	require.NoError(t, f.Fit(context.Background(), x, tr, y))
	assert.Equal(t, []float64{0, 0}, f.VariableImportance())
}
