package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the cadence used when none is given.
const DefaultInterval = 200 * time.Millisecond

// Engine invokes OnTick on a fixed cadence. It is either idle or running; at
// most one tick is ever in flight, and stopping takes effect between ticks.
type Engine struct {
	// OnTick runs once per cadence beat with the engine's tick count.
	OnTick func(tick uint64)

	tick atomic.Uint64

	mu       sync.Mutex
	running  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{} // Closed when the current loop exits
}

// NewEngine creates an idle engine.
func NewEngine() *Engine {
	return &Engine{interval: DefaultInterval}
}

// Start begins invoking OnTick every interval. A non-positive interval ticks
// back to back. Returns false, and changes nothing, if already running.
func (e *Engine) Start(interval time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := e.done
	done := make(chan struct{})

	e.running = true
	e.interval = interval
	e.cancel = cancel
	e.done = done

	go e.loop(ctx, interval, prev, done)
	slog.Info("cadence started", "interval", interval, "tick", e.tick.Load())
	return true
}

// Halt requests a stop without waiting for an in-flight tick. Safe to call
// from inside OnTick. Returns false if already idle.
func (e *Engine) Halt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return false
	}
	e.running = false
	e.cancel()
	slog.Info("cadence stopped", "tick", e.tick.Load())
	return true
}

// Stop halts the cadence and waits for any in-flight tick to finish. Must not
// be called from inside OnTick; use Halt there. Returns false if already idle.
func (e *Engine) Stop() bool {
	stopped := e.Halt()

	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
	return stopped
}

// Running reports whether the cadence is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Interval returns the cadence of the latest Start.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// Tick returns the number of beats delivered so far.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// loop waits for the previous loop to drain so ticks never overlap across a
// quick stop/start, then beats until ctx is cancelled.
func (e *Engine) loop(ctx context.Context, interval time.Duration, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		<-prev
	}

	if interval <= 0 {
		for ctx.Err() == nil {
			e.step()
		}
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			e.step()
		}
	}
}

// step advances the engine by one beat.
func (e *Engine) step() {
	t := e.tick.Add(1)
	if e.OnTick != nil {
		e.OnTick(t)
	}
}
