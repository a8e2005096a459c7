package economy

import (
	"math"
	"slices"

	"github.com/samber/lo"
)

// Stats summarises how concentrated the wealth vector is.
type Stats struct {
	Total        float64 `json:"total"`
	Mean         float64 `json:"mean"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Gini         float64 `json:"gini"`          // 0 = perfect equality, →1 = one agent holds all
	Richest      int     `json:"richest"`       // Agent index holding Max
	RichestShare float64 `json:"richest_share"` // Max / Total
	Top10Share   float64 `json:"top10_share"`   // Share held by the richest tenth (rounded up)
}

// Summarize computes Stats for a wealth vector. An empty vector yields zero Stats
// with Richest = -1.
func Summarize(wealth []float64) Stats {
	if len(wealth) == 0 {
		return Stats{Richest: -1}
	}

	st := Stats{Total: Total(wealth), Min: wealth[0], Max: wealth[0]}
	for i, w := range wealth {
		if w > st.Max {
			st.Max = w
			st.Richest = i
		}
		if w < st.Min {
			st.Min = w
		}
	}
	n := float64(len(wealth))
	st.Mean = st.Total / n
	if st.Total <= 0 {
		return st
	}

	st.RichestShare = st.Max / st.Total
	st.Gini = gini(wealth, st.Total)

	sorted := slices.Clone(wealth)
	slices.Sort(sorted)
	top := int(math.Ceil(n / 10))
	st.Top10Share = lo.Sum(sorted[len(sorted)-top:]) / st.Total
	return st
}

// gini uses the sorted-rank form: G = 2·Σ i·x_i / (n·Σx) − (n+1)/n, i 1-based.
func gini(wealth []float64, total float64) float64 {
	sorted := slices.Clone(wealth)
	slices.Sort(sorted)
	n := float64(len(sorted))
	weighted := 0.0
	for i, x := range sorted {
		weighted += float64(i+1) * x
	}
	return 2*weighted/(n*total) - (n+1)/n
}
