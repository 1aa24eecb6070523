package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
)

const accountID = "123456789012"

var physicalPrefixes = map[graph.Kind]string{
	graph.KindVPC:                   "vpc-",
	graph.KindInternetGateway:       "igw-",
	graph.KindGatewayAttachment:     "IGW|",
	graph.KindSubnet:                "subnet-",
	graph.KindRouteTable:            "rtb-",
	graph.KindRoute:                 "rtb-route-",
	graph.KindRouteTableAssociation: "rtbassoc-",
	graph.KindEIP:                   "eipalloc-",
	graph.KindNATGateway:            "nat-",
	graph.KindSecurityGroup:         "sg-",
	graph.KindSecurityGroupIngress:  "sgr-",
	graph.KindInstance:              "i-",
}

var enginePorts = map[string]string{
	"mysql":    "3306",
	"mariadb":  "3306",
	"postgres": "5432",
}

// Resource is a resource held by the in-memory backend.
type Resource struct {
	ID         graph.ID
	Kind       graph.Kind
	PhysicalID string
	Properties map[string]any
	Attributes map[string]string
}

// MemoryBackend creates resources in process. It assigns physical identifiers and
// the attributes real resources expose, which makes it suitable for tests, dry runs
// and failure drills.
type MemoryBackend struct {
	Region string

	// FailOn makes creation of the named resources fail with the given error.
	FailOn map[graph.ID]error

	// Concurrency limits parallel creations within a level. Zero means unlimited.
	Concurrency int

	logger zerolog.Logger

	mu   sync.Mutex
	live map[graph.ID]Resource
}

// NewMemoryBackend returns a backend for region.
func NewMemoryBackend(region string, logger zerolog.Logger) *MemoryBackend {
	return &MemoryBackend{
		Region: region,
		FailOn: make(map[graph.ID]error),
		logger: logger.With().Str("component", "provision").Logger(),
		live:   make(map[graph.ID]Resource),
	}
}

// Apply creates the graph level by level. Resources within a level run concurrently.
// A resource whose references were not all created is skipped. Cancellation stops
// scheduling new levels; resources already created stay in the report.
func (b *MemoryBackend) Apply(ctx context.Context, g *graph.Graph, order []graph.ID) (*Report, error) {
	if len(order) != g.Len() {
		return nil, fmt.Errorf("order has %d resources, graph has %d", len(order), g.Len())
	}
	report := NewReport(uuid.NewString(), g, order)
	log := b.logger.With().Str("deployment_id", report.DeploymentID).Logger()
	log.Info().Int("resources", len(order)).Msg("applying plan")

	for depth, level := range g.Levels(order) {
		if err := ctx.Err(); err != nil {
			log.Warn().Int("level", depth).Msg("apply cancelled")
			return report, err
		}

		resolved := report.Snapshot()
		var eg errgroup.Group
		if b.Concurrency > 0 {
			eg.SetLimit(b.Concurrency)
		}
		for _, id := range level {
			node, ok := g.Node(id)
			if !ok {
				return report, fmt.Errorf("resource %s is not in the graph", id)
			}
			if blocker, blocked := b.blockedBy(report, node); blocked {
				report.MarkSkipped(id)
				log.Warn().Str("resource", string(id)).Str("blocked_by", string(blocker)).Msg("resource skipped")
				continue
			}
			eg.Go(func() error {
				b.create(ctx, log, report, resolved, node)
				return nil
			})
		}
		_ = eg.Wait()
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	log.Info().Int("created", len(report.Created())).Msg("plan applied")
	return report, nil
}

func (b *MemoryBackend) blockedBy(report *Report, node graph.Node) (graph.ID, bool) {
	for _, ref := range node.References() {
		if report.Status(ref) != tierstack.StatusCreated {
			return ref, true
		}
	}
	return "", false
}

func (b *MemoryBackend) create(ctx context.Context, log zerolog.Logger, report *Report, resolved graph.Resolved, node graph.Node) {
	if ctx.Err() != nil {
		return
	}
	if err, ok := b.FailOn[node.ID]; ok {
		report.MarkFailed(node.ID, err)
		log.Error().Str("resource", string(node.ID)).Str("type", string(node.Kind)).Err(err).Msg("resource failed")
		return
	}

	props, err := resolved.Substitute(node.Properties, b.zoneName)
	if err != nil {
		report.MarkFailed(node.ID, err)
		log.Error().Str("resource", string(node.ID)).Err(err).Msg("resource failed")
		return
	}
	properties, _ := props.(map[string]any)

	res := b.materialize(node, properties)
	b.mu.Lock()
	b.live[node.ID] = res
	b.mu.Unlock()

	report.MarkCreated(node.ID, res.PhysicalID, res.Attributes)
	log.Debug().
		Str("resource", string(node.ID)).
		Str("type", string(node.Kind)).
		Str("physical_id", res.PhysicalID).
		Msg("resource created")
}

func (b *MemoryBackend) zoneName(index int) string {
	return fmt.Sprintf("%s%c", b.Region, 'a'+index)
}

func (b *MemoryBackend) materialize(node graph.Node, props map[string]any) Resource {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	name := strings.ToLower(string(node.ID))
	attrs := make(map[string]string)
	str := func(key string) string {
		s, _ := props[key].(string)
		return s
	}

	var physical string
	switch node.Kind {
	case graph.KindLoadBalancer:
		physical = b.arn("elasticloadbalancing", "loadbalancer/app/"+name+"/"+suffix[:16])
		attrs["DNSName"] = fmt.Sprintf("%s-%s.%s.elb.amazonaws.com", name, suffix[:8], b.Region)
		attrs["LoadBalancerFullName"] = "app/" + name + "/" + suffix[:16]
	case graph.KindTargetGroup:
		physical = b.arn("elasticloadbalancing", "targetgroup/"+name+"/"+suffix[:16])
		attrs["TargetGroupFullName"] = "targetgroup/" + name + "/" + suffix[:16]
	case graph.KindListener:
		physical = b.arn("elasticloadbalancing", "listener/app/"+name+"/"+suffix[:16])
		attrs["ListenerArn"] = physical
	case graph.KindDBSubnetGroup:
		physical = name + "-" + suffix[:8]
	case graph.KindDBInstance:
		physical = name + "-" + suffix[:12]
		attrs["Endpoint.Address"] = fmt.Sprintf("%s.c%s.%s.rds.amazonaws.com", physical, suffix[12:24], b.Region)
		attrs["Endpoint.Port"] = enginePorts[str("Engine")]
	default:
		physical = physicalPrefixes[node.Kind] + suffix[:17]
	}

	switch node.Kind {
	case graph.KindVPC:
		attrs["CidrBlock"] = str("CidrBlock")
		attrs["DefaultSecurityGroup"] = "sg-" + suffix[8:25]
	case graph.KindSubnet:
		attrs["AvailabilityZone"] = str("AvailabilityZone")
		attrs["CidrBlock"] = str("CidrBlock")
	case graph.KindSecurityGroup:
		attrs["GroupId"] = physical
		attrs["VpcId"] = str("VpcId")
	case graph.KindEIP:
		attrs["AllocationId"] = physical
	case graph.KindInstance:
		attrs["AvailabilityZone"] = str("AvailabilityZone")
	}

	return Resource{ID: node.ID, Kind: node.Kind, PhysicalID: physical, Properties: props, Attributes: attrs}
}

func (b *MemoryBackend) arn(service, resource string) string {
	return fmt.Sprintf("arn:aws:%s:%s:%s:%s", service, b.Region, accountID, resource)
}

// Resource returns a live resource.
func (b *MemoryBackend) Resource(id graph.ID) (Resource, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.live[id]
	return r, ok
}

// Live returns the sorted IDs of every live resource.
func (b *MemoryBackend) Live() []graph.ID {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]graph.ID, 0, len(b.live))
	for id := range b.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Teardown deletes the resources a report created, newest first, and returns the
// IDs in deletion order.
func (b *MemoryBackend) Teardown(ctx context.Context, report *Report) ([]graph.ID, error) {
	created := report.Created()
	deleted := make([]graph.ID, 0, len(created))
	for i := len(created) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		id := created[i]
		b.mu.Lock()
		delete(b.live, id)
		b.mu.Unlock()
		deleted = append(deleted, id)
		b.logger.Debug().Str("resource", string(id)).Msg("resource deleted")
	}
	b.logger.Info().Str("deployment_id", report.DeploymentID).Int("deleted", len(deleted)).Msg("teardown complete")
	return deleted, nil
}
