package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/yardsale/internal/economy"
)

// Default run parameters.
const (
	DefaultPeople        = 100
	DefaultPlaysPerTick  = 100
	DefaultInitialAmount = 100.0
	DefaultGainPct       = 20.0
	DefaultLossPct       = 17.0
)

// ErrInvalidParams is returned by Params.Validate.
var ErrInvalidParams = errors.New("invalid parameters")

// Params are the inputs a run is initialised from.
type Params struct {
	People        int                  `json:"people" yaml:"people"`
	PlaysPerTick  int                  `json:"plays_per_tick" yaml:"plays_per_tick"`
	InitialAmount float64              `json:"initial_amount" yaml:"initial_amount"`
	GainPct       float64              `json:"gain_pct" yaml:"gain_pct"`
	LossPct       float64              `json:"loss_pct" yaml:"loss_pct"`
	Distribution  economy.Distribution `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	Spread        float64              `json:"spread,omitempty" yaml:"spread,omitempty"` // Noise amplitude, (0, 1]
}

// DefaultParams returns the classic setup: 100 agents with $100 each,
// 100 plays per tick, +20% / −17%.
func DefaultParams() Params {
	return Params{
		People:        DefaultPeople,
		PlaysPerTick:  DefaultPlaysPerTick,
		InitialAmount: DefaultInitialAmount,
		GainPct:       DefaultGainPct,
		LossPct:       DefaultLossPct,
		Distribution:  economy.DistEqual,
	}
}

// Rates returns the exchange percentages.
func (p Params) Rates() economy.Rates {
	return economy.Rates{GainPct: p.GainPct, LossPct: p.LossPct}
}

// ExpectedTotal is the wealth the population holds for the whole run.
func (p Params) ExpectedTotal() float64 {
	return float64(p.People) * p.InitialAmount
}

// Validate checks the ranges the boundary layer must enforce before handing
// parameters to the simulation.
func (p Params) Validate() error {
	switch {
	case p.People <= 0:
		return fmt.Errorf("%w: people must be positive, got %d", ErrInvalidParams, p.People)
	case p.PlaysPerTick <= 0:
		return fmt.Errorf("%w: plays_per_tick must be positive, got %d", ErrInvalidParams, p.PlaysPerTick)
	case p.InitialAmount <= 0:
		return fmt.Errorf("%w: initial_amount must be positive, got %v", ErrInvalidParams, p.InitialAmount)
	case p.GainPct <= 0 || p.GainPct >= 100:
		return fmt.Errorf("%w: gain_pct must be in (0, 100), got %v", ErrInvalidParams, p.GainPct)
	case p.LossPct <= 0 || p.LossPct >= 100:
		return fmt.Errorf("%w: loss_pct must be in (0, 100), got %v", ErrInvalidParams, p.LossPct)
	}
	switch p.Distribution {
	case "", economy.DistEqual, economy.DistUniform, economy.DistNoise:
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidParams, p.Distribution)
	}
	return nil
}
