// Package engine runs the yard sale: the simulation state and its per-tick
// driver, the cadence that invokes it, and the controller that ties both to
// renderers and outputs.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/talgya/yardsale/internal/economy"
	"github.com/talgya/yardsale/internal/entropy"
)

// ErrPrecondition marks a malformed simulation state or input. The call that
// returns it has not mutated anything.
var ErrPrecondition = errors.New("precondition violated")

// Simulation holds the complete state of one run. It is not safe for
// concurrent use; Controller serialises access.
type Simulation struct {
	params Params
	src    entropy.Source

	wealth []float64 // Agent index → wealth
	start  []float64 // Wealth each agent was allocated at reset
	perm   []int     // Pairing buffer, reshuffled before every play

	tracked int       // Agent whose history is recorded
	traceX  []int     // Trace sequence numbers
	traceY  []float64 // Tracked agent's wealth before each play

	iterations int     // Plays completed
	total      float64 // Sum of wealth after the latest play
}

// Frame is what one tick hands to renderers and outputs. All slices are copies.
type Frame struct {
	RunID         string        `json:"run_id,omitempty"`
	Agents        []int         `json:"agents"`
	Wealth        []float64     `json:"wealth"`
	TraceX        []int         `json:"trace_x"`
	TraceY        []float64     `json:"trace_y"`
	Tracked       int           `json:"tracked"`
	RunningTotal  float64       `json:"running_total"`
	ExpectedTotal float64       `json:"expected_total"`
	Iterations    int           `json:"iterations"`
	Stats         economy.Stats `json:"stats"`
	RichestStart  float64       `json:"richest_start"` // Starting wealth of Stats.Richest
	Oligarch      bool          `json:"oligarch,omitempty"`
}

// Snapshot is the full persisted state of a run.
type Snapshot struct {
	Params       Params    `json:"params"`
	Wealth       []float64 `json:"wealth"`
	Start        []float64 `json:"start"`
	Perm         []int     `json:"perm"`
	Tracked      int       `json:"tracked"`
	TraceX       []int     `json:"trace_x"`
	TraceY       []float64 `json:"trace_y"`
	Iterations   int       `json:"iterations"`
	RunningTotal float64   `json:"running_total"`
}

// New creates a simulation initialised from p.
func New(p Params, src entropy.Source) (*Simulation, error) {
	s := &Simulation{src: src}
	if err := s.Reset(p); err != nil {
		return nil, err
	}
	return s, nil
}

// Reset replaces all state with a fresh run from p: wealth allocated per the
// distribution, identity permutation, a newly drawn tracked agent, and an empty
// trace and counter. On error the previous state is left untouched.
func (s *Simulation) Reset(p Params) error {
	if p.People <= 0 {
		return fmt.Errorf("reset: %w: people must be positive, got %d", ErrPrecondition, p.People)
	}

	tracked := int(s.src.Float64() * float64(p.People))
	if tracked >= p.People {
		tracked = p.People - 1
	}
	wealth, err := economy.InitialWealth(p.Distribution, p.People, p.InitialAmount, p.Spread, s.src)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	s.params = p
	s.wealth = wealth
	s.start = slices.Clone(wealth)
	s.perm = economy.Identity(p.People)
	s.tracked = tracked
	s.traceX = nil
	s.traceY = nil
	s.iterations = 0
	s.total = economy.Total(wealth)

	slog.Debug("simulation reset",
		"people", p.People,
		"initial_amount", p.InitialAmount,
		"distribution", p.Distribution,
		"tracked", tracked,
	)
	return nil
}

// Update applies new parameters. Rates and plays per tick change in place;
// a different population, starting amount or distribution forces a Reset.
// Returns true when the run was reset.
func (s *Simulation) Update(p Params) (bool, error) {
	if p.People != s.params.People ||
		p.InitialAmount != s.params.InitialAmount ||
		p.Distribution != s.params.Distribution ||
		p.Spread != s.params.Spread {
		return true, s.Reset(p)
	}
	s.params = p
	return false, nil
}

// Advance runs PlaysPerTick plays. Before each play the tracked agent's current
// wealth is appended to the trace, then the population is shuffled and paired.
// The iteration counter moves by PlaysPerTick once the batch completes.
func (s *Simulation) Advance() (Frame, error) {
	if err := s.check(); err != nil {
		return Frame{}, fmt.Errorf("advance: %w", err)
	}

	rates := s.params.Rates()
	for j := 0; j < s.params.PlaysPerTick; j++ {
		s.traceX = append(s.traceX, len(s.traceX))
		s.traceY = append(s.traceY, s.wealth[s.tracked])

		economy.Shuffle(s.perm, s.src)
		total, err := economy.Play(s.perm, s.wealth, rates, s.src)
		if err != nil {
			// Unreachable after check; lengths never change mid-batch.
			return Frame{}, fmt.Errorf("advance: %w", err)
		}
		s.total = total
	}
	s.iterations += s.params.PlaysPerTick

	return s.Frame(), nil
}

// check validates the invariants Advance relies on.
func (s *Simulation) check() error {
	n := s.params.People
	switch {
	case n <= 0:
		return fmt.Errorf("%w: population %d", ErrPrecondition, n)
	case len(s.wealth) != n:
		return fmt.Errorf("%w: wealth length %d, population %d", ErrPrecondition, len(s.wealth), n)
	case len(s.perm) != n:
		return fmt.Errorf("%w: permutation length %d, population %d", ErrPrecondition, len(s.perm), n)
	case s.tracked < 0 || s.tracked >= n:
		return fmt.Errorf("%w: tracked agent %d outside population %d", ErrPrecondition, s.tracked, n)
	case s.params.PlaysPerTick <= 0:
		return fmt.Errorf("%w: plays per tick %d", ErrPrecondition, s.params.PlaysPerTick)
	}
	return nil
}

// Frame returns a copy of the current state for rendering.
func (s *Simulation) Frame() Frame {
	f := Frame{
		Agents:        economy.Identity(len(s.wealth)),
		Wealth:        slices.Clone(s.wealth),
		TraceX:        slices.Clone(s.traceX),
		TraceY:        slices.Clone(s.traceY),
		Tracked:       s.tracked,
		RunningTotal:  s.total,
		ExpectedTotal: s.params.ExpectedTotal(),
		Iterations:    s.iterations,
		Stats:         economy.Summarize(s.wealth),
	}
	if r := f.Stats.Richest; r >= 0 && r < len(s.start) {
		f.RichestStart = s.start[r]
	}
	return f
}

// Params returns the parameters currently in effect.
func (s *Simulation) Params() Params { return s.params }

// Tracked returns the tracked agent index.
func (s *Simulation) Tracked() int { return s.tracked }

// Iterations returns the number of plays completed.
func (s *Simulation) Iterations() int { return s.iterations }

// RunningTotal returns total wealth after the latest play.
func (s *Simulation) RunningTotal() float64 { return s.total }

// Wealth returns a copy of the wealth vector.
func (s *Simulation) Wealth() []float64 { return slices.Clone(s.wealth) }

// StartingWealth returns a copy of the wealth allocated at reset.
func (s *Simulation) StartingWealth() []float64 { return slices.Clone(s.start) }

// TraceLen returns the number of recorded trace points.
func (s *Simulation) TraceLen() int { return len(s.traceX) }

// Snapshot captures the full state.
func (s *Simulation) Snapshot() Snapshot {
	return Snapshot{
		Params:       s.params,
		Wealth:       slices.Clone(s.wealth),
		Start:        slices.Clone(s.start),
		Perm:         slices.Clone(s.perm),
		Tracked:      s.tracked,
		TraceX:       slices.Clone(s.traceX),
		TraceY:       slices.Clone(s.traceY),
		Iterations:   s.iterations,
		RunningTotal: s.total,
	}
}

// Restore replaces the state with snap after checking it is consistent.
func (s *Simulation) Restore(snap Snapshot) error {
	n := snap.Params.People
	switch {
	case n <= 0 || len(snap.Wealth) != n || len(snap.Perm) != n:
		return fmt.Errorf("restore: %w: population %d, wealth %d, perm %d",
			ErrPrecondition, n, len(snap.Wealth), len(snap.Perm))
	case snap.Tracked < 0 || snap.Tracked >= n:
		return fmt.Errorf("restore: %w: tracked agent %d", ErrPrecondition, snap.Tracked)
	case len(snap.Start) != 0 && len(snap.Start) != n:
		return fmt.Errorf("restore: %w: starting wealth %d, population %d", ErrPrecondition, len(snap.Start), n)
	case len(snap.TraceX) != len(snap.TraceY):
		return fmt.Errorf("restore: %w: trace lengths %d and %d",
			ErrPrecondition, len(snap.TraceX), len(snap.TraceY))
	}

	seen := make([]bool, n)
	for _, idx := range snap.Perm {
		if idx < 0 || idx >= n || seen[idx] {
			return fmt.Errorf("restore: %w: permutation is not a permutation of [0, %d)", ErrPrecondition, n)
		}
		seen[idx] = true
	}

	s.params = snap.Params
	s.wealth = slices.Clone(snap.Wealth)
	s.start = slices.Clone(snap.Start) // Empty for runs saved before starting wealth was kept
	s.perm = slices.Clone(snap.Perm)
	s.tracked = snap.Tracked
	s.traceX = slices.Clone(snap.TraceX)
	s.traceY = slices.Clone(snap.TraceY)
	s.iterations = snap.Iterations
	s.total = snap.RunningTotal
	return nil
}
