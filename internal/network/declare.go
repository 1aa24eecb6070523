package network

import (
	"fmt"

	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/serialize"
)

// Logical IDs of the shared network resources.
const (
	VPCID               graph.ID = "VPC"
	InternetGatewayID   graph.ID = "InternetGateway"
	GatewayAttachmentID graph.ID = "InternetGatewayAttachment"
)

const (
	anyIPv4CIDR        = "0.0.0.0/0"
	componentLabel     = "network"
	tierTagKey         = "tierstack:subnet-tier"
	reachabilityTagKey = "tierstack:subnet-type"
)

// Network is the declared VPC.
type Network struct {
	Fragment graph.Fragment
	Layout   Layout
	VPC      graph.ID

	natGateways map[int]graph.ID
}

// SubnetIDs returns the logical IDs of a tier's subnets ordered by zone.
func (n Network) SubnetIDs(tier string) []graph.ID {
	group, ok := n.Layout.Group(tier)
	if !ok {
		return nil
	}
	ids := make([]graph.ID, len(group.Subnets))
	for i, s := range group.Subnets {
		ids[i] = s.ID
	}
	return ids
}

// DefaultRoute returns the default route of a subnet. Isolated subnets have none.
func (n Network) DefaultRoute(subnet graph.ID) (graph.ID, bool) {
	for _, group := range n.Layout.Groups {
		for _, s := range group.Subnets {
			if s.ID == subnet {
				return defaultRouteID(subnet), group.Reachability != Isolated
			}
		}
	}
	return "", false
}

// NATGateway returns the NAT gateway serving a zone.
func (n Network) NATGateway(zone int) (graph.ID, bool) {
	id, ok := n.natGateways[zone]
	return id, ok
}

type vpcProps struct {
	CidrBlock          string      `json:"CidrBlock"`
	EnableDnsHostnames bool        `json:"EnableDnsHostnames,omitempty"`
	EnableDnsSupport   bool        `json:"EnableDnsSupport,omitempty"`
	InstanceTenancy    string      `json:"InstanceTenancy,omitempty"`
	Tags               []graph.Tag `json:"Tags,omitempty"`
}

type internetGatewayProps struct {
	Tags []graph.Tag `json:"Tags,omitempty"`
}

type gatewayAttachmentProps struct {
	VpcId             graph.Deferred `json:"VpcId"`
	InternetGatewayId graph.Deferred `json:"InternetGatewayId"`
}

type subnetProps struct {
	VpcId               graph.Deferred `json:"VpcId"`
	CidrBlock           string         `json:"CidrBlock"`
	AvailabilityZone    graph.Zone     `json:"AvailabilityZone"`
	MapPublicIpOnLaunch bool           `json:"MapPublicIpOnLaunch,omitempty"`
	Tags                []graph.Tag    `json:"Tags,omitempty"`
}

type routeTableProps struct {
	VpcId graph.Deferred `json:"VpcId"`
	Tags  []graph.Tag    `json:"Tags,omitempty"`
}

type associationProps struct {
	RouteTableId graph.Deferred `json:"RouteTableId"`
	SubnetId     graph.Deferred `json:"SubnetId"`
}

type routeProps struct {
	RouteTableId         graph.Deferred `json:"RouteTableId"`
	DestinationCidrBlock string         `json:"DestinationCidrBlock"`
	GatewayId            graph.Deferred `json:"GatewayId,omitempty"`
	NatGatewayId         graph.Deferred `json:"NatGatewayId,omitempty"`
}

type eipProps struct {
	Domain string      `json:"Domain"`
	Tags   []graph.Tag `json:"Tags,omitempty"`
}

type natGatewayProps struct {
	AllocationId graph.Deferred `json:"AllocationId"`
	SubnetId     graph.Deferred `json:"SubnetId"`
	Tags         []graph.Tag    `json:"Tags,omitempty"`
}

// Declare emits the VPC, its internet gateway, per-subnet route tables, and one NAT
// gateway per zone in that zone's first internet-facing subnet. Internet tiers get a
// default route to the internet gateway, NAT tiers a default route to the same-zone
// NAT gateway, and isolated tiers no default route.
func Declare(ctx graph.BuildContext, layout Layout) (Network, error) {
	natZones, err := natPlacement(layout)
	if err != nil {
		return Network{}, err
	}

	nw := Network{Layout: layout, VPC: VPCID, natGateways: make(map[int]graph.ID)}
	f := graph.NewFragment(
		newNode(VPCID, graph.KindVPC, "", vpcProps{
			CidrBlock:          layout.Space.Base.String(),
			EnableDnsHostnames: true,
			EnableDnsSupport:   true,
			InstanceTenancy:    "default",
			Tags:               ctx.Tags(VPCID),
		}),
	)

	if hasReachability(layout, Internet) {
		f = f.Append(
			newNode(InternetGatewayID, graph.KindInternetGateway, "", internetGatewayProps{Tags: ctx.Tags(InternetGatewayID)}),
			newNode(GatewayAttachmentID, graph.KindGatewayAttachment, "", gatewayAttachmentProps{
				VpcId:             graph.RefTo(VPCID),
				InternetGatewayId: graph.RefTo(InternetGatewayID),
			}),
		)
	}

	// Internet tiers first so NAT gateways exist before the routes that use them.
	for _, reach := range []Reachability{Internet, NAT, Isolated} {
		for _, group := range layout.Groups {
			if group.Reachability != reach {
				continue
			}
			for _, subnet := range group.Subnets {
				f = f.Append(subnetNodes(ctx, group, subnet)...)
				routeTable := routeTableID(subnet.ID)

				switch reach {
				case Internet:
					route := newNode(defaultRouteID(subnet.ID), graph.KindRoute, group.Tier, routeProps{
						RouteTableId:         graph.RefTo(routeTable),
						DestinationCidrBlock: anyIPv4CIDR,
						GatewayId:            graph.RefTo(InternetGatewayID),
					})
					route.DependsOn = []graph.ID{GatewayAttachmentID}
					f = f.Append(route)

					if natZones[subnet.Zone] == subnet.ID {
						nodes := natNodes(ctx, group.Tier, subnet)
						nw.natGateways[subnet.Zone] = nodes[1].ID
						f = f.Append(nodes...)
					}
				case NAT:
					nat, ok := nw.natGateways[subnet.Zone]
					if !ok {
						return Network{}, fmt.Errorf("tier %s: no NAT gateway in zone %d", group.Tier, subnet.Zone+1)
					}
					f = f.Append(newNode(defaultRouteID(subnet.ID), graph.KindRoute, group.Tier, routeProps{
						RouteTableId:         graph.RefTo(routeTable),
						DestinationCidrBlock: anyIPv4CIDR,
						NatGatewayId:         graph.RefTo(nat),
					}))
				}
			}
		}
	}

	nw.Fragment = f
	return nw, nil
}

// natPlacement picks, per zone, the first internet subnet when any tier needs NAT.
func natPlacement(layout Layout) (map[int]graph.ID, error) {
	if !hasReachability(layout, NAT) {
		return nil, nil
	}
	placement := make(map[int]graph.ID)
	for _, group := range layout.Groups {
		if group.Reachability != Internet {
			continue
		}
		for _, subnet := range group.Subnets {
			if _, ok := placement[subnet.Zone]; !ok {
				placement[subnet.Zone] = subnet.ID
			}
		}
	}
	if len(placement) == 0 {
		return nil, fmt.Errorf("NAT tiers require an internet tier to host the NAT gateways")
	}
	return placement, nil
}

func hasReachability(layout Layout, reach Reachability) bool {
	for _, g := range layout.Groups {
		if g.Reachability == reach {
			return true
		}
	}
	return false
}

func subnetNodes(ctx graph.BuildContext, group SubnetGroup, subnet Subnet) []graph.Node {
	tags := ctx.With(tierTagKey, group.Tier).With(reachabilityTagKey, string(group.Reachability)).Tags(subnet.ID)
	s := newNode(subnet.ID, graph.KindSubnet, group.Tier, subnetProps{
		VpcId:               graph.RefTo(VPCID),
		CidrBlock:           subnet.CIDR.String(),
		AvailabilityZone:    graph.Zone{Index: subnet.Zone},
		MapPublicIpOnLaunch: group.Reachability == Internet,
		Tags:                tags,
	})
	s.Labels[graph.LabelZone] = fmt.Sprint(subnet.Zone + 1)

	routeTable := routeTableID(subnet.ID)
	return []graph.Node{
		s,
		newNode(routeTable, graph.KindRouteTable, group.Tier, routeTableProps{
			VpcId: graph.RefTo(VPCID),
			Tags:  ctx.Tags(routeTable),
		}),
		newNode(routeTable+"Association", graph.KindRouteTableAssociation, group.Tier, associationProps{
			RouteTableId: graph.RefTo(routeTable),
			SubnetId:     graph.RefTo(subnet.ID),
		}),
	}
}

func natNodes(ctx graph.BuildContext, tier string, subnet Subnet) []graph.Node {
	eipID := subnet.ID + "EIP"
	natID := subnet.ID + "NATGateway"
	nat := newNode(natID, graph.KindNATGateway, tier, natGatewayProps{
		AllocationId: graph.Attr(eipID, "AllocationId"),
		SubnetId:     graph.RefTo(subnet.ID),
		Tags:         ctx.Tags(natID),
	})
	nat.DependsOn = []graph.ID{defaultRouteID(subnet.ID), routeTableID(subnet.ID) + "Association"}
	return []graph.Node{
		newNode(eipID, graph.KindEIP, tier, eipProps{Domain: "vpc", Tags: ctx.Tags(eipID)}),
		nat,
	}
}

func routeTableID(subnet graph.ID) graph.ID {
	return subnet + "RouteTable"
}

func defaultRouteID(subnet graph.ID) graph.ID {
	return subnet + "DefaultRoute"
}

func newNode(id graph.ID, kind graph.Kind, tier string, props any) graph.Node {
	labels := map[string]string{graph.LabelComponent: componentLabel}
	if tier != "" {
		labels[graph.LabelTier] = tier
	}
	return graph.Node{
		ID:         id,
		Kind:       kind,
		Properties: serialize.MustResource(props),
		Labels:     labels,
	}
}
