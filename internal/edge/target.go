// Package edge declares the internet-facing load balancer, its listener and the
// target group fronting the compute pool.
package edge

import (
	"fmt"
	"strings"
	"time"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
)

// HealthCheck is the target-group health-check policy.
type HealthCheck struct {
	Path               string
	Interval           time.Duration
	Timeout            time.Duration
	HealthyThreshold   int
	UnhealthyThreshold int
}

// DefaultHealthCheck returns the policy used when none is configured.
func DefaultHealthCheck() HealthCheck {
	return HealthCheck{
		Path:               "/",
		Interval:           30 * time.Second,
		Timeout:            5 * time.Second,
		HealthyThreshold:   5,
		UnhealthyThreshold: 2,
	}
}

// Health-check timing accepted by the load balancer. Both are whole seconds.
const (
	MinInterval = 5 * time.Second
	MaxInterval = 300 * time.Second
	MinTimeout  = 2 * time.Second
	MaxTimeout  = 120 * time.Second
)

// Validate rejects non-positive thresholds, timings the load balancer cannot
// express, a timeout that does not fit in the interval, and relative paths.
func (h HealthCheck) Validate() error {
	var problems []string
	if h.HealthyThreshold <= 0 {
		problems = append(problems, fmt.Sprintf("healthy threshold must be > 0, got %d", h.HealthyThreshold))
	}
	if h.UnhealthyThreshold <= 0 {
		problems = append(problems, fmt.Sprintf("unhealthy threshold must be > 0, got %d", h.UnhealthyThreshold))
	}
	if h.Interval < MinInterval || h.Interval > MaxInterval || h.Interval%time.Second != 0 {
		problems = append(problems, fmt.Sprintf("interval must be whole seconds in [%s, %s], got %s", MinInterval, MaxInterval, h.Interval))
	}
	if h.Timeout < MinTimeout || h.Timeout > MaxTimeout || h.Timeout%time.Second != 0 {
		problems = append(problems, fmt.Sprintf("timeout must be whole seconds in [%s, %s], got %s", MinTimeout, MaxTimeout, h.Timeout))
	} else if h.Timeout >= h.Interval {
		problems = append(problems, fmt.Sprintf("timeout %s must be shorter than interval %s", h.Timeout, h.Interval))
	}
	if !strings.HasPrefix(h.Path, "/") {
		problems = append(problems, fmt.Sprintf("path %q must start with /", h.Path))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", tierstack.ErrInvalidHealthCheck, strings.Join(problems, "; "))
	}
	return nil
}

// Target is a registered member of a target group.
type Target struct {
	ID   graph.ID
	Port int
}

// TargetGroup is a pool of targets sharing one port and health-check policy.
type TargetGroup struct {
	ID     graph.ID
	Port   int
	Health HealthCheck

	members []Target
}

// NewTargetGroup validates the policy and returns an empty group.
func NewTargetGroup(id graph.ID, port int, health HealthCheck) (*TargetGroup, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("target group %s: port %d out of range", id, port)
	}
	if err := health.Validate(); err != nil {
		return nil, fmt.Errorf("target group %s: %w", id, err)
	}
	return &TargetGroup{ID: id, Port: port, Health: health}, nil
}

// Register adds a member. The member must listen on the group's port.
func (tg *TargetGroup) Register(t Target) error {
	if t.Port != tg.Port {
		return fmt.Errorf("%w: %s listens on %d, group %s forwards to %d", tierstack.ErrPortMismatch, t.ID, t.Port, tg.ID, tg.Port)
	}
	for _, m := range tg.members {
		if m.ID == t.ID {
			return fmt.Errorf("target %s is already registered with %s", t.ID, tg.ID)
		}
	}
	tg.members = append(tg.members, t)
	return nil
}

// Members returns the registered targets in registration order.
func (tg *TargetGroup) Members() []Target {
	return append([]Target(nil), tg.members...)
}
