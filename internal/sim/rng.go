package sim

import "math/rand/v2"

// Stream is the single source of randomness of a run. The scheduler owns
// exactly one Stream; every draw of a simulation goes through it, so two
// runs with the same seed consume the variates in the same order and
// produce identical trajectories.
//
// Intn satisfies the site-selection interface of the mixture.
type Stream interface {
	// Float64 returns a uniform variate in [0, 1).
	Float64() float64
	// Exp returns an exponential waiting time with the given rate.
	Exp(rate float64) float64
	// Intn returns a uniform integer in [0, n). n must be positive.
	Intn(n int) int
}

type pcgStream struct {
	r *rand.Rand
}

// NewStream returns a PCG-backed Stream seeded with seed.
func NewStream(seed uint64) Stream {
	return &pcgStream{r: rand.New(rand.NewPCG(seed, seed<<32|seed>>32))}
}

func (s *pcgStream) Float64() float64 { return s.r.Float64() }

func (s *pcgStream) Exp(rate float64) float64 { return s.r.ExpFloat64() / rate }

func (s *pcgStream) Intn(n int) int { return s.r.IntN(n) }
