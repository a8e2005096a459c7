// Package economy implements the yard sale exchange: pairing by unbiased shuffle,
// the zero-sum pairwise transfer, starting wealth distributions and inequality stats.
package economy

import (
	"github.com/samber/lo"

	"github.com/talgya/yardsale/internal/entropy"
)

// Identity returns the permutation buffer [0, 1, ..., n-1].
func Identity(n int) []int {
	if n <= 0 {
		return []int{}
	}
	return lo.Range(n)
}

// Shuffle permutes perm in place with the Durstenfeld form of Fisher–Yates,
// walking from the last position down to 1. Exactly len(perm)-1 draws are consumed.
func Shuffle(perm []int, src entropy.Source) {
	for i := len(perm) - 1; i > 0; i-- {
		j := int(src.Float64() * float64(i+1))
		if j > i {
			// Guards a draw that rounds up to 1.0 after scaling.
			j = i
		}
		perm[i], perm[j] = perm[j], perm[i]
	}
}
