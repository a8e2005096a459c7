package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/yardsale/internal/entropy"
)

// Renderer draws what a tick produced. Implementations live outside the core;
// they receive copies and may keep them.
type Renderer interface {
	RenderDistribution(agents []int, wealth []float64)
	RenderTrace(x []int, y []float64, tracked int)
}

// Controller owns a Simulation and its cadence. It serialises every access to
// the simulation, fans each tick out to renderers and frame hooks, and handles
// the start/stop/reset control signals.
type Controller struct {
	// OligarchShare stops the cadence once one agent holds at least this share
	// of total wealth. Zero disables the check.
	OligarchShare float64

	ctl   sync.Mutex // Serialises Start and Stop
	mu    sync.Mutex
	sim   *Simulation
	runID uuid.UUID

	eng       *Engine
	renderers []Renderer
	hooks     []func(Frame)
	onRun     []func(uuid.UUID, Params)
}

// NewController initialises a run from p.
func NewController(p Params, src entropy.Source) (*Controller, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	sim, err := New(p, src)
	if err != nil {
		return nil, err
	}
	c := &Controller{
		sim:   sim,
		runID: uuid.New(),
		eng:   NewEngine(),
	}
	c.eng.OnTick = func(uint64) {
		if _, err := c.Tick(); err != nil {
			slog.Error("tick failed, stopping cadence", "run", c.RunID(), "error", err)
			c.eng.Halt()
		}
	}
	slog.Info("run initialised", "run", c.runID, "people", p.People, "tracked", sim.Tracked())
	return c, nil
}

// AddRenderer registers a renderer called once per tick.
func (c *Controller) AddRenderer(r Renderer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renderers = append(c.renderers, r)
}

// OnFrame registers a hook called once per tick after the renderers.
func (c *Controller) OnFrame(fn func(Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// OnNewRun registers a hook called with the run ID and parameters every time
// a reset starts a new run.
func (c *Controller) OnNewRun(fn func(uuid.UUID, Params)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRun = append(c.onRun, fn)
}

// newRunLocked assigns a fresh run ID and returns the hooks to notify once
// c.mu is released.
func (c *Controller) newRunLocked() []func(uuid.UUID, Params) {
	c.runID = uuid.New()
	return slices.Clone(c.onRun)
}

func notifyNewRun(hooks []func(uuid.UUID, Params), id uuid.UUID, p Params) {
	for _, fn := range hooks {
		fn(id, p)
	}
}

// Tick performs one synchronous invocation: a batch of plays, then rendering
// and output hooks. The cadence calls it; headless runs call it directly.
func (c *Controller) Tick() (Frame, error) {
	c.mu.Lock()
	f, err := c.sim.Advance()
	if err != nil {
		c.mu.Unlock()
		return Frame{}, err
	}
	f.RunID = c.runID.String()
	if c.OligarchShare > 0 && f.Stats.RichestShare >= c.OligarchShare {
		f.Oligarch = true
	}
	renderers := slices.Clone(c.renderers)
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()

	for _, r := range renderers {
		r.RenderDistribution(f.Agents, f.Wealth)
		r.RenderTrace(f.TraceX, f.TraceY, f.Tracked)
	}
	for _, fn := range hooks {
		fn(f)
	}

	if f.Oligarch {
		slog.Info("oligarch emerged",
			"run", f.RunID,
			"agent", f.Stats.Richest,
			"wealth", f.Stats.Max,
			"started_with", f.RichestStart,
			"share", fmt.Sprintf("%.3f", f.Stats.RichestShare),
			"iterations", f.Iterations,
		)
		c.eng.Halt()
	}
	return f, nil
}

// Start consumes fresh parameters and begins the cadence. If the population
// setup is unchanged the run resumes with the new rates; otherwise it is
// reset. A no-op returning false when already running.
func (c *Controller) Start(p Params, every time.Duration) (bool, error) {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.eng.Running() {
		return false, nil
	}
	if err := p.Validate(); err != nil {
		return false, err
	}

	c.mu.Lock()
	reset, err := c.sim.Update(p)
	var notify []func(uuid.UUID, Params)
	id := c.runID
	if err == nil && reset {
		notify = c.newRunLocked()
		id = c.runID
		slog.Info("population changed, run reset", "run", id, "people", p.People)
	}
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	notifyNewRun(notify, id, p)

	return c.eng.Start(every), nil
}

// Stop halts the cadence, waiting for an in-flight tick. No-op when idle.
func (c *Controller) Stop() bool {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	return c.eng.Stop()
}

// Reset re-initialises the run from p under a new run ID. The cadence, if
// running, keeps going on the fresh state.
func (c *Controller) Reset(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if err := c.sim.Reset(p); err != nil {
		c.mu.Unlock()
		return err
	}
	notify := c.newRunLocked()
	id := c.runID
	slog.Info("run reset", "run", id, "people", p.People, "tracked", c.sim.Tracked())
	c.mu.Unlock()

	notifyNewRun(notify, id, p)
	return nil
}

// Running reports whether the cadence is active.
func (c *Controller) Running() bool {
	return c.eng.Running()
}

// Interval returns the cadence of the latest start.
func (c *Controller) Interval() time.Duration {
	return c.eng.Interval()
}

// RunID identifies the current run; it changes on every reset.
func (c *Controller) RunID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Params returns the parameters in effect.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sim.Params()
}

// Frame returns the current state without advancing.
func (c *Controller) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.sim.Frame()
	f.RunID = c.runID.String()
	return f
}

// Snapshot captures the current run for persistence.
func (c *Controller) Snapshot() (uuid.UUID, Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID, c.sim.Snapshot()
}

// Restore resumes a persisted run.
func (c *Controller) Restore(runID uuid.UUID, snap Snapshot) error {
	if err := snap.Params.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sim.Restore(snap); err != nil {
		return err
	}
	c.runID = runID
	slog.Info("run restored", "run", runID, "iterations", snap.Iterations)
	return nil
}
