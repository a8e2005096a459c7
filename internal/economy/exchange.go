package economy

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/talgya/yardsale/internal/entropy"
)

// ErrSizeMismatch is returned when the permutation and wealth vector disagree on
// the population size.
var ErrSizeMismatch = errors.New("permutation and wealth length differ")

// Rates are the transfer percentages applied to the poorer party's wealth.
type Rates struct {
	GainPct float64 `json:"gain_pct" yaml:"gain_pct"` // Poorer agent wins the flip
	LossPct float64 `json:"loss_pct" yaml:"loss_pct"` // Poorer agent loses the flip
}

// Transfer describes the outcome of one pairwise exchange.
type Transfer struct {
	Richer int     `json:"richer"`
	Poorer int     `json:"poorer"`
	Win    bool    `json:"win"` // true when the poorer agent gained
	Delta  float64 `json:"delta"`
}

// Exchange runs one yard sale between agents a and b. The poorer of the two is
// determined by current wealth; on a tie b is treated as the poorer. A coin below
// 0.5 is a win for the poorer agent. Exactly Delta moves between the two.
func Exchange(wealth []float64, a, b int, rates Rates, coin float64) Transfer {
	richer, poorer := a, b
	if wealth[b] > wealth[a] {
		richer, poorer = b, a
	}

	t := Transfer{Richer: richer, Poorer: poorer, Win: coin < 0.5}
	if t.Win {
		t.Delta = wealth[poorer] * rates.GainPct / 100
		wealth[poorer] += t.Delta
		wealth[richer] -= t.Delta
	} else {
		t.Delta = wealth[poorer] * rates.LossPct / 100
		wealth[richer] += t.Delta
		wealth[poorer] -= t.Delta
	}
	return t
}

// Play executes one round over a freshly shuffled permutation: position i of the
// first half trades with position i+half of the second half. With an odd
// population the last agent in perm sits the round out. One coin is drawn per
// pair, in pair order. Returns the total wealth after the round.
func Play(perm []int, wealth []float64, rates Rates, src entropy.Source) (float64, error) {
	if len(perm) != len(wealth) {
		return 0, fmt.Errorf("play: %w (perm %d, wealth %d)", ErrSizeMismatch, len(perm), len(wealth))
	}

	half := len(perm) / 2
	for i := 0; i < half; i++ {
		Exchange(wealth, perm[i], perm[i+half], rates, src.Float64())
	}
	return Total(wealth), nil
}

// SittingOut returns the agent excluded from the round for this permutation,
// or -1 when the population is even.
func SittingOut(perm []int) int {
	if len(perm)%2 == 0 {
		return -1
	}
	return perm[len(perm)-1]
}

// Total sums the wealth vector in index order.
func Total(wealth []float64) float64 {
	return lo.Sum(wealth)
}
