package testkit

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Scenario names a treatment-effect surface for synthetic data.
type Scenario string

const (
	// ScenarioPure sets Y = T exactly: effect 1, no baseline, no noise.
	ScenarioPure Scenario = "pure"
	// ScenarioConstant has the same effect everywhere.
	ScenarioConstant Scenario = "constant"
	// ScenarioStep has the effect only where x0 > 0.5.
	ScenarioStep Scenario = "step"
	// ScenarioLinear scales the effect with x0.
	ScenarioLinear Scenario = "linear"
)

// CausalGeneratorConfig controls synthetic observational data generation
type CausalGeneratorConfig struct {
	Rows       int
	Features   int
	Propensity float64
	Effect     float64
	Noise      float64
	Scenario   Scenario
	Seed       uint64
}

// DefaultCausalGeneratorConfig is a 1000x2 randomized experiment with a
// step effect of 2.
func DefaultCausalGeneratorConfig() CausalGeneratorConfig {
	return CausalGeneratorConfig{
		Rows:       1000,
		Features:   2,
		Propensity: 0.5,
		Effect:     2,
		Noise:      0.1,
		Scenario:   ScenarioStep,
		Seed:       42,
	}
}

// SyntheticData holds generated arrays together with the true effect of
// every row.
type SyntheticData struct {
	X       [][]float64
	T       []float64
	Y       []float64
	TrueTau []float64
}

// CausalDataGenerator produces reproducible datasets with known effects.
type CausalDataGenerator struct {
	config CausalGeneratorConfig
}

// NewCausalDataGenerator creates a generator
func NewCausalDataGenerator(config CausalGeneratorConfig) *CausalDataGenerator {
	return &CausalDataGenerator{config: config}
}

// Generate draws covariates uniformly on [0,1), assigns treatment with the
// configured propensity and builds Y = x0 + T*τ(x) + noise.
func (g *CausalDataGenerator) Generate() (*SyntheticData, error) {
	c := g.config
	if c.Rows < 2 || c.Features < 1 {
		return nil, fmt.Errorf("need at least 2 rows and 1 feature, got %dx%d", c.Rows, c.Features)
	}
	if c.Propensity <= 0 || c.Propensity >= 1 {
		return nil, fmt.Errorf("propensity must be in (0,1), got %v", c.Propensity)
	}

	src := rand.NewPCG(c.Seed, c.Seed^0x5DEECE66D)
	uniform := distuv.Uniform{Min: 0, Max: 1, Src: src}
	assign := distuv.Bernoulli{P: c.Propensity, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: c.Noise, Src: src}

	data := &SyntheticData{
		X:       make([][]float64, c.Rows),
		T:       make([]float64, c.Rows),
		Y:       make([]float64, c.Rows),
		TrueTau: make([]float64, c.Rows),
	}
	for i := 0; i < c.Rows; i++ {
		row := make([]float64, c.Features)
		for j := range row {
			row[j] = uniform.Rand()
		}
		t := assign.Rand()
		tau := g.TrueEffect(row)

		data.X[i] = row
		data.T[i] = t
		data.TrueTau[i] = tau
		if c.Scenario == ScenarioPure {
			data.Y[i] = t
			continue
		}
		y := row[0] + t*tau
		if c.Noise > 0 {
			y += noise.Rand()
		}
		data.Y[i] = y
	}
	return data, nil
}

// TrueEffect is τ(x) under the configured scenario.
func (g *CausalDataGenerator) TrueEffect(x []float64) float64 {
	switch g.config.Scenario {
	case ScenarioPure:
		return 1
	case ScenarioStep:
		if x[0] > 0.5 {
			return g.config.Effect
		}
		return 0
	case ScenarioLinear:
		return g.config.Effect * x[0]
	default:
		return g.config.Effect
	}
}

// ParseScenario validates a scenario name.
func ParseScenario(s string) (Scenario, error) {
	switch sc := Scenario(s); sc {
	case ScenarioPure, ScenarioConstant, ScenarioStep, ScenarioLinear:
		return sc, nil
	}
	return "", fmt.Errorf("unknown scenario %q (want pure, constant, step or linear)", s)
}
