// Package graph holds the resource arena shared by every composition stage.
//
// Stages return immutable Fragments of Nodes. The assembler merges them into one
// Graph keyed by logical ID, and cross-resource references are stored as Deferred
// values naming the ID and attribute they need rather than as pointers.
package graph

import (
	"sort"
	"strings"
)

// ID is the logical name of a resource, unique within a Graph.
type ID string

// Kind is the CloudFormation resource type of a node.
type Kind string

// Resource kinds produced by the composition stages.
const (
	KindVPC                   Kind = "AWS::EC2::VPC"
	KindInternetGateway       Kind = "AWS::EC2::InternetGateway"
	KindGatewayAttachment     Kind = "AWS::EC2::VPCGatewayAttachment"
	KindSubnet                Kind = "AWS::EC2::Subnet"
	KindRouteTable            Kind = "AWS::EC2::RouteTable"
	KindRoute                 Kind = "AWS::EC2::Route"
	KindRouteTableAssociation Kind = "AWS::EC2::SubnetRouteTableAssociation"
	KindEIP                   Kind = "AWS::EC2::EIP"
	KindNATGateway            Kind = "AWS::EC2::NatGateway"
	KindSecurityGroup         Kind = "AWS::EC2::SecurityGroup"
	KindSecurityGroupIngress  Kind = "AWS::EC2::SecurityGroupIngress"
	KindInstance              Kind = "AWS::EC2::Instance"
	KindLoadBalancer          Kind = "AWS::ElasticLoadBalancingV2::LoadBalancer"
	KindTargetGroup           Kind = "AWS::ElasticLoadBalancingV2::TargetGroup"
	KindListener              Kind = "AWS::ElasticLoadBalancingV2::Listener"
	KindDBSubnetGroup         Kind = "AWS::RDS::DBSubnetGroup"
	KindDBInstance            Kind = "AWS::RDS::DBInstance"
)

// Service returns the service segment of the kind, e.g. "EC2" for AWS::EC2::VPC.
func (k Kind) Service() string {
	parts := strings.Split(string(k), "::")
	if len(parts) != 3 {
		return "Other"
	}
	return parts[1]
}

// ShortName returns the type segment of the kind, e.g. "VPC" for AWS::EC2::VPC.
func (k Kind) ShortName() string {
	parts := strings.Split(string(k), "::")
	return parts[len(parts)-1]
}

// Well-known node labels.
const (
	LabelTier      = "tier"
	LabelComponent = "component"
	LabelZone      = "zone"
)

// Node is one declared resource.
type Node struct {
	ID         ID
	Kind       Kind
	Properties map[string]any

	// DependsOn lists ordering-only dependencies that are not visible in Properties.
	DependsOn []ID

	DeletionPolicy      string
	UpdateReplacePolicy string

	Labels map[string]string
}

// Edge is a dependency of one node on another.
type Edge struct {
	To        ID
	Attribute string
	Explicit  bool
}

// Edges returns the node's dependencies sorted by target. A target referenced
// several ways is reported once, preferring an attribute reference.
func (n Node) Edges() []Edge {
	byTarget := make(map[ID]Edge)
	walkDeferred(n.Properties, func(d Deferred) {
		e, seen := byTarget[d.Resource]
		if !seen || e.Explicit || (e.Attribute == AttrRef && d.Attribute != AttrRef) {
			byTarget[d.Resource] = Edge{To: d.Resource, Attribute: d.Attribute}
		}
	})
	for _, dep := range n.DependsOn {
		if _, seen := byTarget[dep]; !seen {
			byTarget[dep] = Edge{To: dep, Explicit: true}
		}
	}

	edges := make([]Edge, 0, len(byTarget))
	for _, e := range byTarget {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	return edges
}

// References returns the sorted IDs this node depends on.
func (n Node) References() []ID {
	edges := n.Edges()
	ids := make([]ID, len(edges))
	for i, e := range edges {
		ids[i] = e.To
	}
	return ids
}

// Label returns the value of a label, or "" if unset.
func (n Node) Label(key string) string {
	return n.Labels[key]
}

// clone returns a deep copy so fragments and graphs never share mutable state.
func (n Node) clone() Node {
	out := n
	out.Properties = cloneMap(n.Properties)
	if n.DependsOn != nil {
		out.DependsOn = append([]ID(nil), n.DependsOn...)
	}
	if n.Labels != nil {
		out.Labels = make(map[string]string, len(n.Labels))
		for k, v := range n.Labels {
			out.Labels[k] = v
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// walkDeferred calls fn for every Deferred value nested in v.
func walkDeferred(v any, fn func(Deferred)) {
	switch val := v.(type) {
	case Deferred:
		fn(val)
	case *Deferred:
		if val != nil {
			fn(*val)
		}
	case map[string]any:
		for _, elem := range val {
			walkDeferred(elem, fn)
		}
	case []any:
		for _, elem := range val {
			walkDeferred(elem, fn)
		}
	case []Deferred:
		for _, elem := range val {
			fn(elem)
		}
	}
}
