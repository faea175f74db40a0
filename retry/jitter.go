package retry

import (
	"math/rand/v2"
	"sync"
)

// Jitter is a shared source of backoff randomness. One instance is created
// by the application root and injected everywhere a delay is computed, so
// tests can pin the sequence with a seed.
//
// Safe for concurrent use by any number of processors: the underlying
// generator is guarded by a mutex.
type Jitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitter returns a Jitter with a randomly seeded generator.
func NewJitter() *Jitter {
	return &Jitter{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededJitter returns a Jitter with a deterministic sequence.
// Intended for tests that assert exact delays.
func NewSeededJitter(seed1, seed2 uint64) *Jitter {
	return &Jitter{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Intn returns a uniform random int in [0, n).
func (j *Jitter) Intn(n int) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rng.IntN(n)
}
