package sources

import (
	"math/rand/v2"
	"sync"
)

// Shuffler reorders a chain in place.
type Shuffler interface {
	Shuffle(chain []Source)
}

// RandShuffler is a Shuffler safe for concurrent use by scan workers.
type RandShuffler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewShuffler returns a deterministic shuffler for a non-zero seed and a
// randomly seeded one otherwise.
func NewShuffler(seed uint64) *RandShuffler {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandShuffler{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandShuffler) Shuffle(chain []Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(chain), func(i, j int) { chain[i], chain[j] = chain[j], chain[i] })
}

// NoShuffle keeps registry order. Useful for tests and the improve flow.
type NoShuffle struct{}

func (NoShuffle) Shuffle([]Source) {}
