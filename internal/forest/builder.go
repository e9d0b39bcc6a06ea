package forest

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"gocausal/domain/effect"
	"gocausal/internal"
	"gocausal/internal/errors"
	"gocausal/internal/metrics"
	"gocausal/ports"
)

// maxAttempts is the first try plus one resample-and-retry.
const maxAttempts = 2

// BuildReport summarises one forest build.
type BuildReport struct {
	Requested    int           `json:"requested"`
	Grown        int           `json:"grown"`
	Retried      int           `json:"retried"`
	Dropped      int           `json:"dropped"`
	DroppedSlots []int         `json:"dropped_slots,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// Builder grows the trees of a forest on a fixed-size worker pool.
type Builder struct {
	rng     ports.RNGPort
	logger  *internal.Logger
	metrics *metrics.ForestMetrics
}

// NewBuilder creates a builder. metrics may be nil.
func NewBuilder(rng ports.RNGPort, logger *internal.Logger, m *metrics.ForestMetrics) *Builder {
	return &Builder{rng: rng, logger: logger, metrics: m}
}

type slotResult struct {
	tree     *CausalTree
	attempts int
	err      error
}

// Build grows cfg.NumTrees trees. Slot i always uses seeds derived from
// (cfg.Seed, i, attempt), so the result does not depend on NumWorkers or
// on completion order. Trees are returned in slot order with dropped slots
// removed. A cancelled context discards all work.
func (b *Builder) Build(ctx context.Context, data *effect.Dataset, cfg effect.Config) ([]*CausalTree, BuildReport, error) {
	start := time.Now()
	report := BuildReport{Requested: cfg.NumTrees}
	results := make([]slotResult, cfg.NumTrees)

	workers := cfg.NumWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > cfg.NumTrees {
		workers = cfg.NumTrees
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < cfg.NumTrees; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := b.growSlot(data, cfg, i)
				if res.err != nil && !errors.IsEstimation(res.err) {
					return errors.Wrapf(res.err, "tree %d", i)
				}
				results[i] = res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		b.logger.Warn("forest build aborted after %v: %v", time.Since(start), err)
		return nil, report, err
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	trees := make([]*CausalTree, 0, cfg.NumTrees)
	for i, res := range results {
		if res.attempts > 1 {
			report.Retried++
		}
		if res.tree == nil {
			report.Dropped++
			report.DroppedSlots = append(report.DroppedSlots, i)
			b.logger.Warn("tree %d dropped after %d attempts: %v", i, res.attempts, res.err)
			continue
		}
		trees = append(trees, res.tree)
	}
	report.Grown = len(trees)
	report.Duration = time.Since(start)
	b.metrics.RecordBuild(report.Grown, report.Retried, report.Dropped, report.Duration)

	if len(trees) == 0 {
		return nil, report, errors.EstimationFailed(fmt.Sprintf("all %d trees failed leaf estimation", cfg.NumTrees))
	}
	if report.Dropped > 0 {
		b.logger.Warn("forest built with %d of %d trees (%d dropped)", report.Grown, report.Requested, report.Dropped)
	} else {
		b.logger.Info("forest built with %d trees in %v (%d retried)", report.Grown, report.Duration, report.Retried)
	}
	return trees, report, nil
}

func (b *Builder) growSlot(data *effect.Dataset, cfg effect.Config, slot int) slotResult {
	var res slotResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res.attempts = attempt + 1
		rng := b.rng.TreeStream(cfg.Seed, slot, attempt)
		sub := drawSubsample(rng, data.Rows(), cfg)

		tree, err := GrowTree(data, sub, cfg, rng)
		if err == nil {
			res.tree, res.err = tree, nil
			return res
		}
		res.err = err
		if !errors.IsEstimation(err) {
			return res
		}
		b.logger.Debug("tree %d attempt %d failed: %v", slot, attempt, err)
	}
	return res
}

// drawSubsample draws the per-tree observation indices: n draws with
// replacement when bootstrapping, otherwise a simple random sample.
func drawSubsample(rng *rand.Rand, n int, cfg effect.Config) []int {
	size := cfg.SubsampleSize(n)
	if cfg.Bootstrap {
		sub := make([]int, size)
		for i := range sub {
			sub[i] = rng.Intn(n)
		}
		return sub
	}
	return rng.Perm(n)[:size]
}
