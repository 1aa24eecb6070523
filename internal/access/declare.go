package access

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/network"
	"github.com/lex00/tierstack-go/internal/serialize"
)

// GroupIDAttribute is the security-group attribute used to reference a group from rules.
const GroupIDAttribute = "GroupId"

// Groups is the declared set of security groups.
type Groups struct {
	Fragment graph.Fragment
	Policy   Policy
	// Ingress holds the standalone rules between boundaries, in policy order.
	Ingress []graph.ID

	ids map[string]graph.ID
}

// ID returns the logical ID of the security group for a boundary.
func (g Groups) ID(boundary string) (graph.ID, error) {
	id, ok := g.ids[boundary]
	if !ok {
		return "", fmt.Errorf("unknown boundary %q", boundary)
	}
	return id, nil
}

// GroupID returns a deferred reference to the group id of a boundary's security group.
func (g Groups) GroupID(boundary string) (graph.Deferred, error) {
	id, err := g.ID(boundary)
	if err != nil {
		return graph.Deferred{}, err
	}
	return graph.Attr(id, GroupIDAttribute), nil
}

// SecurityGroupID returns the logical ID used for a boundary's security group.
func SecurityGroupID(boundary string) graph.ID {
	return graph.ID(network.TierIdentifier(boundary) + "SecurityGroup")
}

type securityGroupProps struct {
	GroupDescription     string         `json:"GroupDescription"`
	VpcId                graph.Deferred `json:"VpcId"`
	SecurityGroupIngress []ingressRule  `json:"SecurityGroupIngress,omitempty"`
	SecurityGroupEgress  []egressRule   `json:"SecurityGroupEgress,omitempty"`
	Tags                 []graph.Tag    `json:"Tags,omitempty"`
}

type ingressRule struct {
	IpProtocol  string `json:"IpProtocol"`
	FromPort    int    `json:"FromPort,omitempty"`
	ToPort      int    `json:"ToPort,omitempty"`
	CidrIp      string `json:"CidrIp"`
	Description string `json:"Description,omitempty"`
}

// ingressProps is a boundary-to-boundary rule declared apart from both groups, so
// two boundaries may admit each other without the groups referencing one another.
type ingressProps struct {
	GroupId               graph.Deferred `json:"GroupId"`
	IpProtocol            string         `json:"IpProtocol"`
	FromPort              int            `json:"FromPort,omitempty"`
	ToPort                int            `json:"ToPort,omitempty"`
	SourceSecurityGroupId graph.Deferred `json:"SourceSecurityGroupId"`
	Description           string         `json:"Description,omitempty"`
}

type egressRule struct {
	IpProtocol  string `json:"IpProtocol"`
	FromPort    int    `json:"FromPort,omitempty"`
	ToPort      int    `json:"ToPort,omitempty"`
	CidrIp      string `json:"CidrIp"`
	Description string `json:"Description,omitempty"`
}

var (
	allowAllEgress = egressRule{
		IpProtocol:  string(All),
		CidrIp:      AnyIPv4,
		Description: "Allow all outbound traffic by default",
	}
	// A rule that can never match, so the group carries no effective egress.
	denyAllEgress = egressRule{
		IpProtocol:  "icmp",
		FromPort:    252,
		ToPort:      86,
		CidrIp:      "255.255.255.255/32",
		Description: "Disallow all traffic",
	}
)

// IngressID returns the logical ID of the standalone rule admitting r.Source into
// r.Destination, e.g. DataSecurityGroupFromComputeTcp3306.
func IngressID(r Rule) graph.ID {
	var b strings.Builder
	b.WriteString(string(SecurityGroupID(r.Destination)))
	b.WriteString("From")
	b.WriteString(network.TierIdentifier(r.Source))
	if r.Protocol == All {
		b.WriteString("AllTraffic")
	} else {
		b.WriteString(network.TierIdentifier(string(r.Protocol)))
		b.WriteString(strconv.Itoa(r.Port))
	}
	return graph.ID(b.String())
}

// Declare emits one security group per boundary holding its internet-facing rules
// and egress policy, plus one SecurityGroupIngress resource per rule between
// boundaries.
func Declare(ctx graph.BuildContext, policy Policy, vpc graph.ID) Groups {
	groups := Groups{Policy: policy, ids: make(map[string]graph.ID)}
	for _, b := range policy.Boundaries() {
		groups.ids[b.Name] = SecurityGroupID(b.Name)
	}

	var nodes []graph.Node
	for _, b := range policy.Boundaries() {
		id := groups.ids[b.Name]
		description := b.Description
		if description == "" {
			description = fmt.Sprintf("Security group for the %s boundary", b.Name)
		}

		props := securityGroupProps{
			GroupDescription: description,
			VpcId:            graph.RefTo(vpc),
			Tags:             ctx.Tags(id),
		}
		var ingress []graph.Node
		for _, r := range policy.Inbound(b.Name) {
			var from, to int
			if r.Protocol != All {
				from, to = r.Port, r.Port
			}
			if r.External() {
				props.SecurityGroupIngress = append(props.SecurityGroupIngress, ingressRule{
					IpProtocol:  string(r.Protocol),
					FromPort:    from,
					ToPort:      to,
					CidrIp:      AnyIPv4,
					Description: r.Description,
				})
				continue
			}
			ruleID := IngressID(r)
			ingress = append(ingress, graph.Node{
				ID:   ruleID,
				Kind: graph.KindSecurityGroupIngress,
				Properties: serialize.MustResource(ingressProps{
					GroupId:               graph.Attr(id, GroupIDAttribute),
					IpProtocol:            string(r.Protocol),
					FromPort:              from,
					ToPort:                to,
					SourceSecurityGroupId: graph.Attr(groups.ids[r.Source], GroupIDAttribute),
					Description:           r.Description,
				}),
				Labels: map[string]string{
					graph.LabelComponent: "access",
					"boundary":           b.Name,
				},
			})
			groups.Ingress = append(groups.Ingress, ruleID)
		}
		if b.AllowAllOutbound {
			props.SecurityGroupEgress = []egressRule{allowAllEgress}
		} else {
			props.SecurityGroupEgress = []egressRule{denyAllEgress}
		}

		nodes = append(nodes, graph.Node{
			ID:         id,
			Kind:       graph.KindSecurityGroup,
			Properties: serialize.MustResource(props),
			Labels: map[string]string{
				graph.LabelComponent: "access",
				"boundary":           b.Name,
			},
		})
		nodes = append(nodes, ingress...)
	}

	groups.Fragment = graph.NewFragment(nodes...)
	return groups
}
