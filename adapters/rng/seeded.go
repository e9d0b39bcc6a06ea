package rng

import (
	"math/rand"

	"gocausal/ports"
)

// SeededAdapter implements ports.RNGPort with a splitmix64 derivation of
// (base seed, tree index, attempt).
type SeededAdapter struct{}

// NewSeededAdapter creates the default deterministic RNG adapter
func NewSeededAdapter() ports.RNGPort {
	return SeededAdapter{}
}

// SeedFor mixes the three inputs so neighbouring tree indices and retry
// attempts get unrelated streams.
func (SeededAdapter) SeedFor(baseSeed int64, treeIndex, attempt int) int64 {
	h := mix(uint64(baseSeed))
	h = mix(h ^ uint64(treeIndex+1))
	h = mix(h ^ (uint64(attempt+1) << 32))
	return int64(h >> 1)
}

// TreeStream creates a deterministic RNG stream for one tree attempt
func (a SeededAdapter) TreeStream(baseSeed int64, treeIndex, attempt int) *rand.Rand {
	return rand.New(rand.NewSource(a.SeedFor(baseSeed, treeIndex, attempt)))
}

// mix is the splitmix64 finalizer.
func mix(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
