package economy

import (
	"fmt"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/yardsale/internal/entropy"
)

var defaultRates = Rates{GainPct: 20, LossPct: 17}

func equalWealth(n int, amount float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = amount
	}
	return w
}

func TestShuffleIsPermutation(t *testing.T) {
	src := entropy.NewSeeded(1)
	for n := 0; n <= 33; n++ {
		perm := Identity(n)
		for round := 0; round < 5; round++ {
			Shuffle(perm, src)
			sorted := slices.Clone(perm)
			slices.Sort(sorted)
			require.Equal(t, Identity(n), sorted, "n=%d round=%d", n, round)
		}
	}
}

func TestShuffleConsumesOneDrawPerPosition(t *testing.T) {
	src := entropy.NewSequence(0.5)
	Shuffle(Identity(7), src)
	assert.Equal(t, 6, src.Consumed())

	src = entropy.NewSequence(0.5)
	Shuffle(Identity(1), src)
	Shuffle(Identity(0), src)
	assert.Equal(t, 0, src.Consumed())
}

func TestShuffleHighDrawStaysInRange(t *testing.T) {
	perm := Identity(4)
	Shuffle(perm, entropy.NewSequence(math.Nextafter(1, 0)))
	// j == i at every step, so nothing moves.
	assert.Equal(t, []int{0, 1, 2, 3}, perm)
}

// Chi-square over the 3! orderings. Critical value for 5 degrees of freedom at
// p = 0.001 is 20.515.
func TestShuffleIsUnbiased(t *testing.T) {
	const trials = 60000
	src := entropy.NewSeeded(20240607)
	counts := make(map[string]int)
	for i := 0; i < trials; i++ {
		perm := Identity(3)
		Shuffle(perm, src)
		counts[fmt.Sprint(perm)]++
	}
	require.Len(t, counts, 6)

	expected := float64(trials) / 6
	chi := 0.0
	for _, c := range counts {
		d := float64(c) - expected
		chi += d * d / expected
	}
	assert.Less(t, chi, 20.515, "counts: %v", counts)
}

func TestExchangeWinMovesFromRicherToPoorer(t *testing.T) {
	w := []float64{200, 50}
	tr := Exchange(w, 0, 1, defaultRates, 0.1)
	assert.Equal(t, Transfer{Richer: 0, Poorer: 1, Win: true, Delta: 10}, tr)
	assert.Equal(t, []float64{190, 60}, w)
}

func TestExchangeLossMovesFromPoorerToRicher(t *testing.T) {
	w := []float64{50, 200}
	tr := Exchange(w, 0, 1, defaultRates, 0.5)
	assert.Equal(t, 1, tr.Richer)
	assert.Equal(t, 0, tr.Poorer)
	assert.False(t, tr.Win)
	assert.InDelta(t, 8.5, tr.Delta, 1e-12)
	assert.InDelta(t, 41.5, w[0], 1e-12)
	assert.InDelta(t, 208.5, w[1], 1e-12)
}

func TestExchangeTieTreatsSecondAsPoorer(t *testing.T) {
	w := []float64{100, 100}
	tr := Exchange(w, 0, 1, defaultRates, 0.0)
	assert.Equal(t, 0, tr.Richer)
	assert.Equal(t, 1, tr.Poorer)
	assert.Equal(t, []float64{80, 120}, w)
}

func TestExchangeIsZeroSumPerPair(t *testing.T) {
	src := entropy.NewSeeded(9)
	for i := 0; i < 1000; i++ {
		a, b := 1+src.Float64()*1000, 1+src.Float64()*1000
		w := []float64{a, b}
		tr := Exchange(w, 0, 1, defaultRates, src.Float64())

		gotRicher := w[tr.Richer] - []float64{a, b}[tr.Richer]
		gotPoorer := w[tr.Poorer] - []float64{a, b}[tr.Poorer]
		require.InDelta(t, 0, gotRicher+gotPoorer, 1e-9*(a+b))
		if tr.Win {
			require.InDelta(t, tr.Delta, gotPoorer, 1e-9*(a+b))
		} else {
			require.InDelta(t, tr.Delta, gotRicher, 1e-9*(a+b))
		}
	}
}

func TestPlayConservesTotal(t *testing.T) {
	src := entropy.NewSeeded(3)
	for _, n := range []int{2, 5, 10, 101} {
		w := equalWealth(n, 100)
		perm := Identity(n)
		for round := 0; round < 200; round++ {
			before := Total(w)
			Shuffle(perm, src)
			after, err := Play(perm, w, defaultRates, src)
			require.NoError(t, err)
			require.InDelta(t, before, after, 1e-9*before, "n=%d round=%d", n, round)
		}
	}
}

func TestPlayOddPopulationSitsOneOut(t *testing.T) {
	src := entropy.NewSeeded(11)
	for trial := 0; trial < 50; trial++ {
		w := equalWealth(5, 100)
		perm := Identity(5)
		Shuffle(perm, src)
		_, err := Play(perm, w, defaultRates, src)
		require.NoError(t, err)

		unchanged := 0
		for i, v := range w {
			if v == 100 {
				unchanged++
				assert.Equal(t, SittingOut(perm), i)
			}
		}
		require.Equal(t, 1, unchanged)
	}
	assert.Equal(t, -1, SittingOut(Identity(4)))
}

func TestPlayDrawsOneCoinPerPair(t *testing.T) {
	src := entropy.NewSequence(0.3)
	_, err := Play(Identity(7), equalWealth(7, 100), defaultRates, src)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Consumed())
}

// Shuffle draws 0.0, 0.5, 0.9 give perm [3 2 1 0]; pairs (3,1) and (2,0) are
// tied so agents 1 and 0 are the poorer side. Coin 0.25 wins, 0.75 loses.
func TestPlayDeterministicReference(t *testing.T) {
	src := entropy.NewSequence(0.0, 0.5, 0.9, 0.25, 0.75)
	w := equalWealth(4, 100)
	perm := Identity(4)

	Shuffle(perm, src)
	require.Equal(t, []int{3, 2, 1, 0}, perm)

	total, err := Play(perm, w, defaultRates, src)
	require.NoError(t, err)
	assert.Equal(t, []float64{83, 120, 117, 80}, w)
	assert.Equal(t, 400.0, total)
}

func TestPlayRejectsSizeMismatch(t *testing.T) {
	w := equalWealth(4, 100)
	_, err := Play(Identity(3), w, defaultRates, entropy.NewSequence(0.1))
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Equal(t, equalWealth(4, 100), w)
}

func TestInitialWealthKeepsTotal(t *testing.T) {
	for _, kind := range []Distribution{DistEqual, DistUniform, DistNoise} {
		w, err := InitialWealth(kind, 250, 100, 0.6, entropy.NewSeeded(5))
		require.NoError(t, err, kind)
		require.Len(t, w, 250)
		assert.InDelta(t, 25000, Total(w), 1e-6, kind)
		for _, v := range w {
			require.Greater(t, v, 0.0, kind)
		}
	}

	w, err := InitialWealth(DistEqual, 3, 100, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 100, 100}, w)

	_, err = InitialWealth("pareto", 3, 100, 0, nil)
	assert.Error(t, err)
	_, err = InitialWealth(DistEqual, 0, 100, 0, nil)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	st := Summarize([]float64{100, 100, 100, 100})
	assert.Equal(t, 400.0, st.Total)
	assert.InDelta(t, 0, st.Gini, 1e-12)
	assert.Equal(t, 0.25, st.RichestShare)

	st = Summarize([]float64{0, 0, 0, 400})
	assert.Equal(t, 3, st.Richest)
	assert.Equal(t, 1.0, st.RichestShare)
	assert.InDelta(t, 0.75, st.Gini, 1e-12)
	assert.Equal(t, 1.0, st.Top10Share)
	assert.Equal(t, 0.0, st.Min)

	assert.Equal(t, -1, Summarize(nil).Richest)
}
