// Package provision applies an ordered resource graph through a backend and reports
// the outcome of every resource.
package provision

import (
	"context"
	"sync"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
)

// Backend creates the resources of a graph in the given order.
//
// A backend must not start a resource before every resource it references has been
// created. Per-resource failures are reported in the Report; the returned error is
// reserved for failures of the backend itself, such as cancellation.
type Backend interface {
	Apply(ctx context.Context, g *graph.Graph, order []graph.ID) (*Report, error)
}

// Record is the outcome of one resource.
type Record struct {
	ID         graph.ID
	Kind       graph.Kind
	Status     tierstack.ResourceStatus
	PhysicalID string
	Err        error
}

// Report collects per-resource records and the attributes of created resources.
type Report struct {
	DeploymentID string
	Resolved     graph.Resolved

	mu      sync.Mutex
	order   []graph.ID
	records map[graph.ID]*Record
	created []graph.ID
}

// NewReport returns a report with every ID pending.
func NewReport(deploymentID string, g *graph.Graph, order []graph.ID) *Report {
	r := &Report{
		DeploymentID: deploymentID,
		Resolved:     graph.Resolved{},
		order:        append([]graph.ID(nil), order...),
		records:      make(map[graph.ID]*Record, len(order)),
	}
	for _, id := range order {
		n, _ := g.Node(id)
		r.records[id] = &Record{ID: id, Kind: n.Kind, Status: tierstack.StatusPending}
	}
	return r
}

// MarkCreated records a created resource and its attributes.
func (r *Report) MarkCreated(id graph.ID, physicalID string, attributes map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.record(id)
	rec.Status = tierstack.StatusCreated
	rec.PhysicalID = physicalID
	r.Resolved.Set(id, graph.AttrRef, physicalID)
	for k, v := range attributes {
		r.Resolved.Set(id, k, v)
	}
	r.created = append(r.created, id)
}

// MarkFailed records a backend error for a resource.
func (r *Report) MarkFailed(id graph.ID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.record(id)
	rec.Status = tierstack.StatusFailed
	rec.Err = err
}

// MarkSkipped records a resource that was not attempted because a reference was not created.
func (r *Report) MarkSkipped(id graph.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(id).Status = tierstack.StatusSkipped
}

func (r *Report) record(id graph.ID) *Record {
	rec, ok := r.records[id]
	if !ok {
		rec = &Record{ID: id, Status: tierstack.StatusPending}
		r.records[id] = rec
		r.order = append(r.order, id)
	}
	return rec
}

// Status returns the status of a resource.
func (r *Report) Status(id graph.ID) tierstack.ResourceStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		return rec.Status
	}
	return tierstack.StatusPending
}

// Records returns copies of every record in plan order.
func (r *Report) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out
}

// Snapshot returns a copy of the resolved attributes.
func (r *Report) Snapshot() graph.Resolved {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(graph.Resolved, len(r.Resolved))
	for id, attrs := range r.Resolved {
		for k, v := range attrs {
			out.Set(id, k, v)
		}
	}
	return out
}

// Created returns the created IDs in creation order.
func (r *Report) Created() []graph.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]graph.ID(nil), r.created...)
}

// Err returns a *tierstack.PartialProvisioningFailure if any resource was not
// created, and nil otherwise.
func (r *Report) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	complete := true
	statuses := make(map[string]tierstack.ResourceStatus, len(r.records))
	var failures []tierstack.ResourceFailure
	for _, id := range r.order {
		rec := r.records[id]
		statuses[string(id)] = rec.Status
		if rec.Status != tierstack.StatusCreated {
			complete = false
		}
		if rec.Err != nil {
			failures = append(failures, tierstack.ResourceFailure{Resource: string(id), Err: rec.Err})
		}
	}
	if complete {
		return nil
	}
	return &tierstack.PartialProvisioningFailure{Statuses: statuses, Failures: failures}
}
