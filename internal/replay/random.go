package replay

import (
	"math/rand/v2"
	"sync"

	"github.com/spaolacci/murmur3"
)

// RandomSource yields draws from Uniform(0,1).
type RandomSource interface {
	NextUnit() float64
}

type globalSource struct{}

func (globalSource) NextUnit() float64 { return rand.Float64() }

// NewRandomSource returns a source backed by the runtime's global generator.
func NewRandomSource() RandomSource {
	return globalSource{}
}

type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *seededSource) NextUnit() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// SeedFromString returns a reproducible source seeded by hashing seed.
func SeedFromString(seed string) RandomSource {
	h1, h2 := murmur3.Sum128([]byte(seed))
	return &seededSource{rng: rand.New(rand.NewPCG(h1, h2))}
}

// Sequence replays fixed draws in order and then repeats the last one.
// An empty sequence always draws 1, which never triggers a failure.
type Sequence struct {
	mu     sync.Mutex
	values []float64
	draws  int
}

// NewSequence creates a fixed draw sequence.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) NextUnit() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draws++
	if len(s.values) == 0 {
		return 1
	}
	i := s.draws - 1
	if i >= len(s.values) {
		i = len(s.values) - 1
	}
	return s.values[i]
}

// Draws returns how many draws have been made.
func (s *Sequence) Draws() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draws
}
