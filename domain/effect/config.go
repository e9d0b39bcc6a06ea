package effect

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"

	"gocausal/internal/errors"
)

// PropensityMode selects how the treatment propensity used by the
// transformed-outcome criterion is estimated.
type PropensityMode string

const (
	// PropensityNode uses the treated fraction of the node being split.
	PropensityNode PropensityMode = "node"
	// PropensityGlobal uses the treated fraction of the tree's splitting half.
	PropensityGlobal PropensityMode = "global"
)

// Config is the fit-time configuration of a causal forest.
type Config struct {
	NumTrees          int            `json:"num_trees" yaml:"num_trees" validate:"gte=1"`
	SplitRatio        float64        `json:"split_ratio" yaml:"split_ratio" validate:"gt=0,lt=1"`
	MinLeaf           int            `json:"min_leaf" yaml:"min_leaf" validate:"gte=1"`
	MaxDepth          int            `json:"max_depth" yaml:"max_depth" validate:"gte=1"`
	NumWorkers        int            `json:"num_workers" yaml:"num_workers" validate:"gte=1"`
	Seed              int64          `json:"seed" yaml:"seed"`
	SubsampleFraction float64        `json:"subsample_fraction" yaml:"subsample_fraction" validate:"gt=0,lte=1"`
	Bootstrap         bool           `json:"bootstrap" yaml:"bootstrap"`
	FeatureFraction   float64        `json:"feature_fraction" yaml:"feature_fraction" validate:"gt=0,lte=1"`
	Propensity        PropensityMode `json:"propensity" yaml:"propensity" validate:"oneof=node global"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		NumTrees:          100,
		SplitRatio:        0.5,
		MinLeaf:           5,
		MaxDepth:          10,
		NumWorkers:        runtime.NumCPU(),
		Seed:              42,
		SubsampleFraction: 0.5,
		Bootstrap:         false,
		FeatureFraction:   1.0,
		Propensity:        PropensityNode,
	}
}

var validate = validator.New()

// Validate checks option ranges and returns a CONFIG_INVALID error naming
// every offending field.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, "config validation failed")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s=%s, got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return errors.ConfigInvalid("invalid forest config: " + strings.Join(fields, "; "))
}

// SubsampleSize is the number of observations drawn per tree from n rows.
func (c Config) SubsampleSize(n int) int {
	if c.Bootstrap {
		return n
	}
	size := int(c.SubsampleFraction * float64(n))
	if size < 2 {
		size = 2
	}
	if size > n {
		size = n
	}
	return size
}

// SplittingSize is the share of a subsample of the given size used for
// split selection; the rest is the estimation half.
func (c Config) SplittingSize(subsample int) int {
	s := int(c.SplitRatio * float64(subsample))
	if s < 1 {
		s = 1
	}
	if s > subsample-1 {
		s = subsample - 1
	}
	return s
}

// NumCandidateFeatures is how many of k features are examined per node.
func (c Config) NumCandidateFeatures(k int) int {
	m := int(c.FeatureFraction*float64(k) + 0.5)
	if m < 1 {
		m = 1
	}
	if m > k {
		m = k
	}
	return m
}
