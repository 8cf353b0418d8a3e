package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the runner's duty-cycle position.
type State int

const (
	// StateIdle: no timer armed; the runner sleeps until notified.
	StateIdle State = iota
	// StateScheduled: a periodic tick is armed.
	StateScheduled
	// StateRunning: a reconciliation pass is executing.
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// PassFunc executes one reconciliation pass and reports how many rows are
// still pending. Errors are caught here, at the top of the pass; they are
// logged and never propagate further.
type PassFunc func(ctx context.Context) (remaining int, err error)

// Runner owns one sync duty cycle: wake, drain, sleep. All passes for a
// family run on the runner's single goroutine, so a notification arriving
// mid-pass coalesces into one follow-up pass instead of interleaving writes.
type Runner struct {
	name     string
	interval time.Duration
	pass     PassFunc

	wake chan struct{}

	mu    sync.Mutex
	state State

	done chan struct{}
}

// NewRunner creates a runner for one entity family.
func NewRunner(name string, interval time.Duration, pass PassFunc) *Runner {
	return &Runner{
		name:     name,
		interval: interval,
		pass:     pass,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the duty cycle. The timer is armed unconditionally and an
// immediate pass is queued, so rows left pending by a previous process get
// drained even if their notification was missed.
func (r *Runner) Start(ctx context.Context) {
	r.setState(StateScheduled)
	r.Notify()
	go r.loop(ctx)
}

// Notify queues a pass. Safe from any goroutine; signals coalesce.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// State returns the current duty-cycle position.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Done is closed when the runner has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	armed := true

	for {
		select {
		case <-ctx.Done():
			r.setState(StateIdle)
			return
		case <-r.wake:
			if armed && !timer.Stop() {
				<-timer.C
			}
			armed = false
		case <-timer.C:
			armed = false
		}

		r.setState(StateRunning)
		remaining, err := r.pass(ctx)
		if err != nil {
			slog.Error("sync pass failed", "cycle", r.name, "err", err)
		} else if remaining > 0 {
			slog.Debug("sync pass left rows pending", "cycle", r.name, "remaining", remaining)
		}

		if err != nil || remaining > 0 {
			timer.Reset(r.interval)
			armed = true
			r.setState(StateScheduled)
		} else {
			r.setState(StateIdle)
		}
	}
}
