// Package access derives per-boundary security-group rules from declared traffic paths.
//
// Inbound traffic is denied unless a path names it; each boundary's rule set holds
// exactly one rule per distinct declared path and nothing else.
package access

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	tierstack "github.com/lex00/tierstack-go"
)

// AnyIPv4 is the principal for traffic originating anywhere on the IPv4 internet.
const AnyIPv4 = "0.0.0.0/0"

// Standard boundary names.
const (
	BoundaryEdge    = "edge"
	BoundaryCompute = "compute"
	BoundaryData    = "data"
)

// Protocol is an IP protocol name as accepted by security-group rules.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
	// All matches every protocol and port.
	All Protocol = "-1"
)

// Boundary is a named security boundary (one security group).
type Boundary struct {
	Name        string
	Description string

	// RequiresExternal marks boundaries that must be reachable from the internet.
	RequiresExternal bool

	// AllowAllOutbound grants unrestricted egress. When false the boundary has no egress.
	AllowAllOutbound bool
}

// Path is an intended flow of traffic into a boundary.
type Path struct {
	// Source is a boundary name or AnyIPv4.
	Source      string
	Destination string
	Protocol    Protocol
	Port        int
	Description string
}

// Rule is one inbound permission.
type Rule struct {
	Source      string
	Destination string
	Protocol    Protocol
	Port        int
	Description string
}

// External reports whether the rule admits traffic from outside the VPC.
func (r Rule) External() bool {
	return r.Source == AnyIPv4
}

func (r Rule) key() string {
	return fmt.Sprintf("%s|%s|%s|%d", r.Source, r.Destination, r.Protocol, r.Port)
}

// Policy is the derived rule set. It is read-only after Build returns.
type Policy struct {
	boundaries []Boundary
	inbound    map[string][]Rule
}

// Boundaries returns the boundaries in declared order.
func (p Policy) Boundaries() []Boundary {
	return append([]Boundary(nil), p.boundaries...)
}

// Boundary returns the named boundary.
func (p Policy) Boundary(name string) (Boundary, bool) {
	for _, b := range p.boundaries {
		if b.Name == name {
			return b, true
		}
	}
	return Boundary{}, false
}

// Inbound returns the inbound rules of a boundary in path declaration order.
func (p Policy) Inbound(boundary string) []Rule {
	return append([]Rule(nil), p.inbound[boundary]...)
}

// Rules returns every rule, grouped by boundary in declared order.
func (p Policy) Rules() []Rule {
	var out []Rule
	for _, b := range p.boundaries {
		out = append(out, p.inbound[b.Name]...)
	}
	return out
}

// Sources returns the sorted principals allowed into a boundary on any port.
func (p Policy) Sources(boundary string) []string {
	s := sets.New[string]()
	for _, r := range p.inbound[boundary] {
		s.Insert(r.Source)
	}
	return sets.List(s)
}

// Permits reports whether traffic from source to destination on port is allowed.
func (p Policy) Permits(source, destination string, protocol Protocol, port int) bool {
	for _, r := range p.inbound[destination] {
		if r.Source != source {
			continue
		}
		if r.Protocol == All || (r.Protocol == protocol && r.Port == port) {
			return true
		}
	}
	return false
}

// Build validates the paths against the boundaries and returns the minimal rule set.
// Duplicate paths collapse into one rule. A path into a boundary that requires
// external reachability fails with ErrPolicyCycle when its source cannot itself be
// reached from the internet through the declared paths.
func Build(boundaries []Boundary, paths []Path) (Policy, error) {
	names := sets.New[string]()
	for _, b := range boundaries {
		if b.Name == "" {
			return Policy{}, fmt.Errorf("boundary name is required")
		}
		if b.Name == AnyIPv4 {
			return Policy{}, fmt.Errorf("boundary name %s is reserved", AnyIPv4)
		}
		if names.Has(b.Name) {
			return Policy{}, fmt.Errorf("duplicate boundary %q", b.Name)
		}
		names.Insert(b.Name)
	}

	policy := Policy{
		boundaries: append([]Boundary(nil), boundaries...),
		inbound:    make(map[string][]Rule, len(boundaries)),
	}
	seen := sets.New[string]()
	for _, path := range paths {
		rule, err := normalize(path, names)
		if err != nil {
			return Policy{}, err
		}
		if seen.Has(rule.key()) {
			continue
		}
		seen.Insert(rule.key())
		policy.inbound[rule.Destination] = append(policy.inbound[rule.Destination], rule)
	}

	if err := checkExternal(policy); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

func normalize(path Path, names sets.Set[string]) (Rule, error) {
	if !names.Has(path.Destination) {
		return Rule{}, fmt.Errorf("path %s -> %s: unknown destination boundary %q", path.Source, path.Destination, path.Destination)
	}
	if path.Source != AnyIPv4 && !names.Has(path.Source) {
		return Rule{}, fmt.Errorf("path %s -> %s: unknown source boundary %q", path.Source, path.Destination, path.Source)
	}
	if path.Source == path.Destination {
		return Rule{}, fmt.Errorf("path %s -> %s: a boundary cannot grant itself access", path.Source, path.Destination)
	}

	protocol := path.Protocol
	if protocol == "" {
		protocol = TCP
	}
	port := path.Port
	switch protocol {
	case TCP, UDP:
		if port < 1 || port > 65535 {
			return Rule{}, fmt.Errorf("path %s -> %s: port %d out of range", path.Source, path.Destination, port)
		}
	case All:
		port = 0
	default:
		return Rule{}, fmt.Errorf("path %s -> %s: unsupported protocol %q", path.Source, path.Destination, protocol)
	}

	return Rule{
		Source:      path.Source,
		Destination: path.Destination,
		Protocol:    protocol,
		Port:        port,
		Description: path.Description,
	}, nil
}

// checkExternal computes the boundaries reachable from the internet and rejects paths
// into externally reachable boundaries whose source is not among them.
func checkExternal(p Policy) error {
	reachable := sets.New[string](AnyIPv4)
	for changed := true; changed; {
		changed = false
		for _, r := range p.Rules() {
			if reachable.Has(r.Source) && !reachable.Has(r.Destination) {
				reachable.Insert(r.Destination)
				changed = true
			}
		}
	}

	var problems []string
	for _, b := range p.boundaries {
		if !b.RequiresExternal {
			continue
		}
		if !reachable.Has(b.Name) {
			problems = append(problems, fmt.Sprintf("boundary %s requires external reachability but no path reaches it from %s", b.Name, AnyIPv4))
			continue
		}
		for _, r := range p.inbound[b.Name] {
			if !reachable.Has(r.Source) {
				problems = append(problems, fmt.Sprintf("path %s -> %s: source is unreachable from %s", r.Source, r.Destination, AnyIPv4))
			}
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", tierstack.ErrPolicyCycle, strings.Join(problems, "; "))
	}
	return nil
}
