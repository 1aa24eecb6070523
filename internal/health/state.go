// Package health tracks whether load-balancer targets should receive traffic.
//
// Each target owns a small state machine. A target starts unknown and only becomes
// routable after HealthyThreshold consecutive passing checks; it leaves the routable
// state after UnhealthyThreshold consecutive failures.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// State is the routing state of a target.
type State string

// Target states.
const (
	StateUnknown   State = "unknown"
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// Events driving the state machine.
const (
	EventPromote = "promote"
	EventDemote  = "demote"
)

// Thresholds are the consecutive results needed to change state.
type Thresholds struct {
	Healthy   int
	Unhealthy int
}

func (t Thresholds) validate() error {
	if t.Healthy <= 0 || t.Unhealthy <= 0 {
		return fmt.Errorf("thresholds must be > 0, got healthy=%d unhealthy=%d", t.Healthy, t.Unhealthy)
	}
	return nil
}

// Transition describes one state change of a target.
type Transition struct {
	Target string
	From   State
	To     State
}

// Tracker is the state machine of a single target. It is safe for concurrent use.
type Tracker struct {
	target     string
	thresholds Thresholds

	mu        sync.Mutex
	machine   *fsm.FSM
	successes int
	failures  int
	last      *Transition
}

// NewTracker returns a tracker in the unknown state.
func NewTracker(target string, thresholds Thresholds) (*Tracker, error) {
	if err := thresholds.validate(); err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	t := &Tracker{target: target, thresholds: thresholds}
	t.machine = fsm.NewFSM(
		string(StateUnknown),
		fsm.Events{
			{Name: EventPromote, Src: []string{string(StateUnknown), string(StateUnhealthy)}, Dst: string(StateHealthy)},
			{Name: EventDemote, Src: []string{string(StateUnknown), string(StateHealthy)}, Dst: string(StateUnhealthy)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				t.last = &Transition{Target: t.target, From: State(e.Src), To: State(e.Dst)}
			},
		},
	)
	return t, nil
}

// Target returns the tracked target name.
func (t *Tracker) Target() string { return t.target }

// State returns the current state.
func (t *Tracker) State() State {
	return State(t.machine.Current())
}

// Routable reports whether the target should receive traffic.
func (t *Tracker) Routable() bool {
	return t.State() == StateHealthy
}

// Observe records one check result. It returns the transition it caused, if any.
func (t *Tracker) Observe(ctx context.Context, passed bool) (*Transition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := ""
	if passed {
		t.successes++
		t.failures = 0
		if t.successes >= t.thresholds.Healthy && t.State() != StateHealthy {
			event = EventPromote
		}
	} else {
		t.failures++
		t.successes = 0
		if t.failures >= t.thresholds.Unhealthy && t.State() != StateUnhealthy {
			event = EventDemote
		}
	}
	if event == "" {
		return nil, nil
	}

	t.last = nil
	if err := t.machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil, nil
		}
		return nil, fmt.Errorf("target %s: %w", t.target, err)
	}
	return t.last, nil
}

// Counts returns the current consecutive success and failure counts.
func (t *Tracker) Counts() (successes, failures int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.successes, t.failures
}
