package edge

import (
	"fmt"

	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/compute"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/network"
	"github.com/lex00/tierstack-go/internal/serialize"
)

// Logical IDs of the edge resources.
const (
	LoadBalancerID graph.ID = "LoadBalancer"
	ListenerID     graph.ID = "Listener"
	TargetGroupID  graph.ID = "TargetGroup"
)

// DNSNameAttribute is the load-balancer attribute holding its public DNS name.
const DNSNameAttribute = "DNSName"

// Spec configures the edge.
type Spec struct {
	// Port is the listener port.
	Port     int
	Health   HealthCheck
	Tier     string
	Boundary string
}

// Listener is bound to one load balancer and one port and forwards to its target groups.
type Listener struct {
	ID           graph.ID
	LoadBalancer graph.ID
	Port         int
	TargetGroups []graph.ID
}

// Router is the declared edge.
type Router struct {
	Fragment     graph.Fragment
	LoadBalancer graph.ID
	Listener     Listener
	TargetGroup  *TargetGroup
}

// DNSName returns a deferred reference to the load balancer's DNS name.
func (r Router) DNSName() graph.Deferred {
	return graph.Attr(r.LoadBalancer, DNSNameAttribute)
}

type loadBalancerProps struct {
	Scheme         string           `json:"Scheme"`
	Type           string           `json:"Type"`
	Subnets        []graph.Deferred `json:"Subnets"`
	SecurityGroups []graph.Deferred `json:"SecurityGroups"`
	Tags           []graph.Tag      `json:"Tags,omitempty"`
}

type targetGroupProps struct {
	Port                       int            `json:"Port"`
	Protocol                   string         `json:"Protocol"`
	TargetType                 string         `json:"TargetType"`
	VpcId                      graph.Deferred `json:"VpcId"`
	Targets                    []targetProps  `json:"Targets,omitempty"`
	HealthCheckEnabled         bool           `json:"HealthCheckEnabled"`
	HealthCheckPath            string         `json:"HealthCheckPath"`
	HealthCheckProtocol        string         `json:"HealthCheckProtocol"`
	HealthCheckIntervalSeconds int            `json:"HealthCheckIntervalSeconds"`
	HealthCheckTimeoutSeconds  int            `json:"HealthCheckTimeoutSeconds"`
	HealthyThresholdCount      int            `json:"HealthyThresholdCount"`
	UnhealthyThresholdCount    int            `json:"UnhealthyThresholdCount"`
	Matcher                    matcherProps   `json:"Matcher"`
	Tags                       []graph.Tag    `json:"Tags,omitempty"`
}

type targetProps struct {
	Id   graph.Deferred `json:"Id"`
	Port int            `json:"Port"`
}

type matcherProps struct {
	HttpCode string `json:"HttpCode"`
}

type listenerProps struct {
	LoadBalancerArn graph.Deferred `json:"LoadBalancerArn"`
	Port            int            `json:"Port"`
	Protocol        string         `json:"Protocol"`
	DefaultActions  []actionProps  `json:"DefaultActions"`
}

type actionProps struct {
	Type           string         `json:"Type"`
	TargetGroupArn graph.Deferred `json:"TargetGroupArn"`
}

// Declare emits an internet-facing application load balancer in the edge tier, one
// target group with every pool instance registered on the pool's port, and one HTTP
// listener forwarding to it.
func Declare(bc graph.BuildContext, spec Spec, nw network.Network, groups access.Groups, pool compute.Pool) (Router, error) {
	if spec.Port < 1 || spec.Port > 65535 {
		return Router{}, fmt.Errorf("listener port %d out of range", spec.Port)
	}
	subnets := nw.SubnetIDs(spec.Tier)
	if len(subnets) == 0 {
		return Router{}, fmt.Errorf("edge tier %q has no subnets", spec.Tier)
	}
	securityGroup, err := groups.GroupID(spec.Boundary)
	if err != nil {
		return Router{}, err
	}
	if len(pool.Instances) == 0 {
		return Router{}, fmt.Errorf("compute pool has no instances to register")
	}

	tg, err := NewTargetGroup(TargetGroupID, pool.Port, spec.Health)
	if err != nil {
		return Router{}, err
	}
	for _, inst := range pool.Instances {
		if err := tg.Register(Target{ID: inst.ID, Port: inst.Port}); err != nil {
			return Router{}, err
		}
	}

	lbSubnets := make([]graph.Deferred, len(subnets))
	for i, s := range subnets {
		lbSubnets[i] = graph.RefTo(s)
	}
	lb := graph.Node{
		ID:   LoadBalancerID,
		Kind: graph.KindLoadBalancer,
		Properties: serialize.MustResource(loadBalancerProps{
			Scheme:         "internet-facing",
			Type:           "application",
			Subnets:        lbSubnets,
			SecurityGroups: []graph.Deferred{securityGroup},
			Tags:           bc.Tags(LoadBalancerID),
		}),
		Labels: labels(spec.Tier),
	}
	// The load balancer cannot become active before its subnets are routable.
	for _, s := range subnets {
		if route, ok := nw.DefaultRoute(s); ok {
			lb.DependsOn = append(lb.DependsOn, route)
		}
	}

	var targets []targetProps
	for _, m := range tg.Members() {
		targets = append(targets, targetProps{Id: graph.RefTo(m.ID), Port: m.Port})
	}
	health := spec.Health
	tgNode := graph.Node{
		ID:   TargetGroupID,
		Kind: graph.KindTargetGroup,
		Properties: serialize.MustResource(targetGroupProps{
			Port:                       tg.Port,
			Protocol:                   "HTTP",
			TargetType:                 "instance",
			VpcId:                      graph.RefTo(nw.VPC),
			Targets:                    targets,
			HealthCheckEnabled:         true,
			HealthCheckPath:            health.Path,
			HealthCheckProtocol:        "HTTP",
			HealthCheckIntervalSeconds: int(health.Interval.Seconds()),
			HealthCheckTimeoutSeconds:  int(health.Timeout.Seconds()),
			HealthyThresholdCount:      health.HealthyThreshold,
			UnhealthyThresholdCount:    health.UnhealthyThreshold,
			Matcher:                    matcherProps{HttpCode: "200"},
			Tags:                       bc.Tags(TargetGroupID),
		}),
		Labels: labels(""),
	}

	listener := Listener{ID: ListenerID, LoadBalancer: LoadBalancerID, Port: spec.Port, TargetGroups: []graph.ID{TargetGroupID}}
	var actions []actionProps
	for _, id := range listener.TargetGroups {
		actions = append(actions, actionProps{Type: "forward", TargetGroupArn: graph.RefTo(id)})
	}
	listenerNode := graph.Node{
		ID:   ListenerID,
		Kind: graph.KindListener,
		Properties: serialize.MustResource(listenerProps{
			LoadBalancerArn: graph.RefTo(LoadBalancerID),
			Port:            spec.Port,
			Protocol:        "HTTP",
			DefaultActions:  actions,
		}),
		Labels: labels(""),
	}

	return Router{
		Fragment:     graph.NewFragment(lb, tgNode, listenerNode),
		LoadBalancer: LoadBalancerID,
		Listener:     listener,
		TargetGroup:  tg,
	}, nil
}

func labels(tier string) map[string]string {
	l := map[string]string{graph.LabelComponent: "edge"}
	if tier != "" {
		l[graph.LabelTier] = tier
	}
	return l
}
