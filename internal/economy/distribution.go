package economy

import (
	"fmt"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/yardsale/internal/entropy"
)

// Distribution names how starting wealth is spread across the population.
type Distribution string

const (
	DistEqual   Distribution = "equal"   // Everyone starts with the initial amount
	DistUniform Distribution = "uniform" // Independent uniform draws, rescaled
	DistNoise   Distribution = "noise"   // Smooth simplex noise along the agent index, rescaled
)

// noiseFrequency controls how quickly neighbouring agents' wealth decorrelates.
const noiseFrequency = 0.07

// InitialWealth allocates a wealth vector of n agents whose total is n*amount.
// spread in (0, 1] sets the amplitude of the noise distribution and is ignored
// by the others.
func InitialWealth(kind Distribution, n int, amount, spread float64, src entropy.Source) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("initial wealth: population must be positive, got %d", n)
	}

	w := make([]float64, n)
	switch kind {
	case "", DistEqual:
		for i := range w {
			w[i] = amount
		}
		return w, nil

	case DistUniform:
		for i := range w {
			// 1-draw lies in (0, 1] so nobody starts broke.
			w[i] = amount * (1 - src.Float64())
		}

	case DistNoise:
		if spread <= 0 || spread > 1 {
			spread = 0.5
		}
		seed := int64(src.Float64() * float64(1<<53))
		noise := opensimplex.NewNormalized(seed)
		for i := range w {
			v := noise.Eval2(float64(i)*noiseFrequency, 0)
			w[i] = amount * (1 - spread + 2*spread*v)
		}

	default:
		return nil, fmt.Errorf("initial wealth: unknown distribution %q", kind)
	}

	rescale(w, float64(n)*amount)
	return w, nil
}

// rescale multiplies every entry so the vector sums to target.
func rescale(w []float64, target float64) {
	sum := Total(w)
	if sum <= 0 {
		return
	}
	f := target / sum
	for i := range w {
		w[i] *= f
	}
}
