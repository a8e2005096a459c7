package entropy

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
)

// Source yields uniform draws in [0, 1).
type Source interface {
	Float64() float64
}

// Source kinds accepted by FromConfig.
const (
	KindSeeded    = "seeded"
	KindCrypto    = "crypto"
	KindRandomOrg = "random_org"
)

// Seeded is a deterministic PCG stream. Not safe for concurrent use.
type Seeded struct {
	seed uint64
	rng  *rand.Rand
}

// NewSeeded creates a reproducible source. Two sources with the same seed
// produce identical draw sequences.
func NewSeeded(seed uint64) *Seeded {
	return &Seeded{
		seed: seed,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Float64 returns the next draw in [0, 1).
func (s *Seeded) Float64() float64 {
	return s.rng.Float64()
}

// Seed returns the seed the stream was created with.
func (s *Seeded) Seed() uint64 {
	return s.seed
}

// Crypto draws from crypto/rand.
type Crypto struct{}

// Float64 returns a draw in [0, 1).
func (Crypto) Float64() float64 {
	return cryptoFloat64()
}

// Sequence replays a fixed list of draws, wrapping around when exhausted.
// Used to pin the exact outcome of shuffles and coin flips.
type Sequence struct {
	mu    sync.Mutex
	draws []float64
	pos   int
}

// NewSequence creates a replay source. Panics on an empty list or a draw
// outside [0, 1).
func NewSequence(draws ...float64) *Sequence {
	if len(draws) == 0 {
		panic("entropy: empty sequence")
	}
	for _, d := range draws {
		if d < 0 || d >= 1 {
			panic(fmt.Sprintf("entropy: draw %v outside [0, 1)", d))
		}
	}
	return &Sequence{draws: append([]float64(nil), draws...)}
}

// Float64 returns the next draw in the sequence.
func (s *Sequence) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draws[s.pos%len(s.draws)]
	s.pos++
	return d
}

// Consumed returns how many draws have been taken.
func (s *Sequence) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// FromConfig builds a source by kind. A zero seed for the seeded kind is
// replaced with a crypto-derived one, which is logged so the run can be replayed.
func FromConfig(kind string, seed uint64, apiKey string) (Source, error) {
	switch kind {
	case "", KindSeeded:
		if seed == 0 {
			seed = uint64(cryptoFloat64() * float64(1<<53))
			slog.Info("generated entropy seed", "seed", seed)
		}
		return NewSeeded(seed), nil
	case KindCrypto:
		return Crypto{}, nil
	case KindRandomOrg:
		c := NewClient(apiKey)
		if !c.Enabled() {
			slog.Warn("random.org key not set, falling back to crypto/rand")
			return Crypto{}, nil
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown entropy source %q", kind)
	}
}
