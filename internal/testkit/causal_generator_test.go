package testkit

import (
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCausalDataGenerator_Basic(t *testing.T) {
	config := DefaultCausalGeneratorConfig()
	config.Rows = 500

	data, err := NewCausalDataGenerator(config).Generate()
	require.NoError(t, err)

	assert.Len(t, data.X, 500)
	assert.Len(t, data.T, 500)
	assert.Len(t, data.Y, 500)
	for i, row := range data.X {
		assert.Len(t, row, config.Features)
		assert.Contains(t, []float64{0, 1}, data.T[i])
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}

	share, err := stats.Mean(data.T)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, share, 0.08)
}

func TestCausalDataGenerator_Deterministic(t *testing.T) {
	config := DefaultCausalGeneratorConfig()
	config.Rows = 50

	a, err := NewCausalDataGenerator(config).Generate()
	require.NoError(t, err)
	b, err := NewCausalDataGenerator(config).Generate()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	config.Seed++
	c, err := NewCausalDataGenerator(config).Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.X, c.X)
}

func TestCausalDataGenerator_Scenarios(t *testing.T) {
	tests := []struct {
		scenario Scenario
		x        []float64
		want     float64
	}{
		{ScenarioPure, []float64{0.9}, 1},
		{ScenarioConstant, []float64{0.1}, 2},
		{ScenarioStep, []float64{0.4}, 0},
		{ScenarioStep, []float64{0.6}, 2},
		{ScenarioLinear, []float64{0.25}, 0.5},
	}
	for _, tt := range tests {
		t.Run(string(tt.scenario), func(t *testing.T) {
			config := DefaultCausalGeneratorConfig()
			config.Scenario = tt.scenario
			assert.Equal(t, tt.want, NewCausalDataGenerator(config).TrueEffect(tt.x))
		})
	}
}

func TestCausalDataGenerator_PureOutcomeEqualsTreatment(t *testing.T) {
	config := DefaultCausalGeneratorConfig()
	config.Scenario = ScenarioPure
	config.Rows = 100

	data, err := NewCausalDataGenerator(config).Generate()
	require.NoError(t, err)
	assert.Equal(t, data.T, data.Y)
}

func TestCausalDataGenerator_Rejects(t *testing.T) {
	config := DefaultCausalGeneratorConfig()
	config.Propensity = 1
	_, err := NewCausalDataGenerator(config).Generate()
	assert.Error(t, err)

	_, err = ParseScenario("spiral")
	assert.Error(t, err)
	sc, err := ParseScenario("linear")
	require.NoError(t, err)
	assert.Equal(t, ScenarioLinear, sc)
}
