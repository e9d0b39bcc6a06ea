package ports

import (
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// SeedFor derives the seed of one tree-growing attempt. It depends only
	// on its arguments, never on scheduling, so forests are reproducible for
	// any worker count.
	SeedFor(baseSeed int64, treeIndex, attempt int) int64

	// TreeStream returns a fresh generator seeded with SeedFor. Each stream is
	// owned by a single goroutine.
	TreeStream(baseSeed int64, treeIndex, attempt int) *rand.Rand
}
