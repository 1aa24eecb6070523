package topology

import (
	"context"
	"errors"
	"fmt"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/compute"
	"github.com/lex00/tierstack-go/internal/datatier"
	"github.com/lex00/tierstack-go/internal/edge"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/images"
	"github.com/lex00/tierstack-go/internal/network"
	"github.com/lex00/tierstack-go/internal/provision"
)

const tierTag = "tierstack:tier"

// Binding names an output and the deferred value it reports.
type Binding struct {
	Name        string
	Description string
	Value       graph.Deferred
	ExportName  string
}

// Plan is an assembled, ordered topology ready to be rendered or applied.
type Plan struct {
	Inputs   Inputs
	Graph    *graph.Graph
	Order    []graph.ID
	Bindings []Binding

	Layout   network.Layout
	Network  network.Network
	Policy   access.Policy
	Groups   access.Groups
	Pool     compute.Pool
	Router   edge.Router
	Database datatier.Database
}

// Assemble validates the inputs, runs every composition stage and orders the merged
// graph. Every fatal error is returned here, before anything is provisioned.
func Assemble(ctx context.Context, in Inputs, resolver images.Resolver) (*Plan, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	bc := graph.NewBuildContext(in.Stack)

	layout, err := network.Partition(network.AddressSpace{Base: in.CIDR, Zones: in.Zones}, network.DefaultTiers(in.TierMask))
	if err != nil {
		return nil, fmt.Errorf("partitioning network: %w", err)
	}
	nw, err := network.Declare(bc.With(tierTag, "network"), layout)
	if err != nil {
		return nil, fmt.Errorf("declaring network: %w", err)
	}

	policy, err := access.Build(in.Boundaries(), in.Paths())
	if err != nil {
		return nil, fmt.Errorf("building access policy: %w", err)
	}
	groups := access.Declare(bc.With(tierTag, "access"), policy, nw.VPC)

	pool, err := compute.Declare(ctx, bc.With(tierTag, "compute"), in.Compute, nw, groups, resolver)
	if err != nil {
		return nil, fmt.Errorf("declaring compute pool: %w", err)
	}

	router, err := edge.Declare(bc.With(tierTag, "edge"), edge.Spec{
		Port:     in.ListenerPort,
		Health:   in.Health,
		Tier:     network.TierPublic,
		Boundary: access.BoundaryEdge,
	}, nw, groups, pool)
	if err != nil {
		return nil, fmt.Errorf("declaring edge: %w", err)
	}

	db, err := datatier.Declare(bc.With(tierTag, "data"), in.Database, nw, groups)
	if err != nil {
		return nil, fmt.Errorf("declaring data tier: %w", err)
	}

	g := graph.New()
	for _, f := range []graph.Fragment{nw.Fragment, groups.Fragment, pool.Fragment, router.Fragment, db.Fragment} {
		if err := g.Merge(f); err != nil {
			return nil, err
		}
	}
	order, err := g.Order()
	if err != nil {
		return nil, err
	}

	return &Plan{
		Inputs:   in,
		Graph:    g,
		Order:    order,
		Bindings: bindings(nw, pool, router, db),
		Layout:   layout,
		Network:  nw,
		Policy:   policy,
		Groups:   groups,
		Pool:     pool,
		Router:   router,
		Database: db,
	}, nil
}

func bindings(nw network.Network, pool compute.Pool, router edge.Router, db datatier.Database) []Binding {
	out := []Binding{
		{Name: "VPCId", Description: "VPC ID", Value: graph.RefTo(nw.VPC)},
		{Name: "ALBDNSName", Description: "ALB DNS Name", Value: router.DNSName()},
	}
	for i, inst := range pool.Instances {
		out = append(out, Binding{
			Name:        fmt.Sprintf("EC2Instance%dId", i+1),
			Description: fmt.Sprintf("EC2 Instance %d ID", i+1),
			Value:       graph.RefTo(inst.ID),
		})
	}
	out = append(out, Binding{Name: "RDSEndpoint", Description: "RDS Endpoint", Value: db.Address()})
	for i := range out {
		out[i].ExportName = out[i].Name
	}
	return out
}

// Levels returns the plan's resources grouped by dependency depth.
func (p *Plan) Levels() [][]graph.ID {
	return p.Graph.Levels(p.Order)
}

// EmitOutputs resolves every binding. Bindings that cannot be resolved are reported
// with ErrUnresolvedOutput; the resolved subset is returned either way.
func (p *Plan) EmitOutputs(resolved graph.Resolved) (map[string]string, error) {
	out := make(map[string]string, len(p.Bindings))
	var errs []error
	for _, b := range p.Bindings {
		v, err := resolved.Lookup(b.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("output %s: %w", b.Name, err))
			continue
		}
		out[b.Name] = v
	}
	return out, errors.Join(errs...)
}

// Deployment is the result of applying a plan.
type Deployment struct {
	Report  *provision.Report
	Outputs map[string]string
}

// Deploy applies the plan through backend and emits outputs from what was created.
// Resources that were created stay in place when some others fail; the returned
// error then matches ErrPartialProvisioning and, for outputs that could not be
// emitted, ErrUnresolvedOutput.
func Deploy(ctx context.Context, plan *Plan, backend provision.Backend) (*Deployment, error) {
	report, err := backend.Apply(ctx, plan.Graph, plan.Order)
	if report == nil {
		if err == nil {
			err = fmt.Errorf("backend returned no report")
		}
		return nil, err
	}

	outputs, outErr := plan.EmitOutputs(report.Snapshot())
	d := &Deployment{Report: report, Outputs: outputs}
	return d, errors.Join(err, report.Err(), outErr)
}

// Result converts a deployment into the CLI result shape.
func (d *Deployment) Result(err error) tierstack.DeployResult {
	res := tierstack.DeployResult{Success: err == nil, Outputs: d.Outputs}
	if d.Report != nil {
		res.DeploymentID = d.Report.DeploymentID
		for _, rec := range d.Report.Records() {
			r := tierstack.DeployResource{Name: string(rec.ID), Status: rec.Status, PhysicalID: rec.PhysicalID}
			if rec.Err != nil {
				r.Error = rec.Err.Error()
			}
			res.Resources = append(res.Resources, r)
		}
	}
	if err != nil {
		res.Errors = []string{err.Error()}
	}
	return res
}
