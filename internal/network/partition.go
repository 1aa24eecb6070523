// Package network carves an address space into per-tier, per-zone subnets and
// declares the VPC resources that route them.
package network

import (
	"fmt"
	"net/netip"
	"strings"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
)

// MaxSubnetMask is the longest prefix AWS accepts for a subnet.
const MaxSubnetMask = 28

// Reachability describes how a tier's subnets reach the outside world.
type Reachability string

const (
	// Internet subnets route directly through the internet gateway.
	Internet Reachability = "internet"
	// NAT subnets reach out through a NAT gateway and cannot be reached from outside.
	NAT Reachability = "nat"
	// Isolated subnets have no route outside the VPC.
	Isolated Reachability = "isolated"
)

// Standard tier names.
const (
	TierPublic        = "public"
	TierPrivateEgress = "private-egress"
	TierIsolated      = "isolated"
)

// AddressSpace is the base block and the number of availability zones to span.
type AddressSpace struct {
	Base  netip.Prefix
	Zones int
}

// TierSpec requests one subnet per zone for a named tier.
type TierSpec struct {
	Name         string
	MaskSize     int
	Reachability Reachability
}

// DefaultTiers returns the public, private-egress and isolated tiers with the given mask.
func DefaultTiers(mask int) []TierSpec {
	return []TierSpec{
		{Name: TierPublic, MaskSize: mask, Reachability: Internet},
		{Name: TierPrivateEgress, MaskSize: mask, Reachability: NAT},
		{Name: TierIsolated, MaskSize: mask, Reachability: Isolated},
	}
}

// Subnet is one carved block.
type Subnet struct {
	ID   graph.ID
	Tier string
	Zone int
	CIDR netip.Prefix
}

// SubnetGroup is every subnet of one tier, ordered by zone.
type SubnetGroup struct {
	Tier         string
	MaskSize     int
	Reachability Reachability
	Subnets      []Subnet
}

// Layout is the result of partitioning. It is never modified after Partition returns.
type Layout struct {
	Space  AddressSpace
	Groups []SubnetGroup
}

// Group returns the subnet group for a tier.
func (l Layout) Group(tier string) (SubnetGroup, bool) {
	for _, g := range l.Groups {
		if g.Tier == tier {
			return g, true
		}
	}
	return SubnetGroup{}, false
}

// Subnets returns every subnet in allocation order.
func (l Layout) Subnets() []Subnet {
	var out []Subnet
	for _, g := range l.Groups {
		out = append(out, g.Subnets...)
	}
	return out
}

// Partition allocates one subnet per (tier, zone). Tiers are allocated in declared
// order and zones within each tier; every block is aligned to its own size and
// carved from the lowest free address of the base block.
func Partition(space AddressSpace, tiers []TierSpec) (Layout, error) {
	if err := validateSpace(space); err != nil {
		return Layout{}, err
	}
	if len(tiers) == 0 {
		return Layout{}, fmt.Errorf("at least one tier is required")
	}

	base := space.Base.Masked()
	start := uint64(addrToUint32(base.Addr()))
	end := start + blockSize(base.Bits())

	seen := make(map[string]bool, len(tiers))
	cursor := start
	layout := Layout{Space: AddressSpace{Base: base, Zones: space.Zones}}

	for _, tier := range tiers {
		if err := validateTier(tier, base); err != nil {
			return Layout{}, err
		}
		if seen[tier.Name] {
			return Layout{}, fmt.Errorf("duplicate tier %q", tier.Name)
		}
		seen[tier.Name] = true

		group := SubnetGroup{Tier: tier.Name, MaskSize: tier.MaskSize, Reachability: tier.Reachability}
		size := blockSize(tier.MaskSize)
		for zone := 0; zone < space.Zones; zone++ {
			// align up to the block size
			blockStart := (cursor + size - 1) / size * size
			if blockStart+size > end {
				return Layout{}, fmt.Errorf("%w: %s cannot hold %d x /%d for tier %s (zone %d)",
					tierstack.ErrAddressSpaceExhausted, base, space.Zones, tier.MaskSize, tier.Name, zone+1)
			}
			prefix := netip.PrefixFrom(uint32ToAddr(uint32(blockStart)), tier.MaskSize)
			group.Subnets = append(group.Subnets, Subnet{
				ID:   SubnetID(tier.Name, zone),
				Tier: tier.Name,
				Zone: zone,
				CIDR: prefix,
			})
			cursor = blockStart + size
		}
		layout.Groups = append(layout.Groups, group)
	}

	return layout, nil
}

// SubnetID returns the logical ID of a tier's subnet in a zone, e.g. PublicSubnet1.
func SubnetID(tier string, zone int) graph.ID {
	return graph.ID(fmt.Sprintf("%sSubnet%d", TierIdentifier(tier), zone+1))
}

// TierIdentifier turns a tier name into an identifier fragment, e.g. private-egress -> PrivateEgress.
func TierIdentifier(tier string) string {
	var sb strings.Builder
	for _, part := range strings.FieldsFunc(tier, func(r rune) bool { return r == '-' || r == '_' || r == ' ' }) {
		sb.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return sb.String()
}

func validateSpace(space AddressSpace) error {
	if !space.Base.IsValid() {
		return fmt.Errorf("invalid base block")
	}
	if !space.Base.Addr().Is4() {
		return fmt.Errorf("base block %s is not IPv4", space.Base)
	}
	if space.Zones < 1 {
		return fmt.Errorf("zone count must be at least 1, got %d", space.Zones)
	}
	return nil
}

func validateTier(tier TierSpec, base netip.Prefix) error {
	if tier.Name == "" {
		return fmt.Errorf("tier name is required")
	}
	switch tier.Reachability {
	case Internet, NAT, Isolated:
	default:
		return fmt.Errorf("tier %s: unknown reachability %q", tier.Name, tier.Reachability)
	}
	if tier.MaskSize > MaxSubnetMask {
		return fmt.Errorf("tier %s: mask /%d exceeds /%d", tier.Name, tier.MaskSize, MaxSubnetMask)
	}
	if tier.MaskSize < base.Bits() {
		return fmt.Errorf("%w: tier %s mask /%d is larger than base block %s",
			tierstack.ErrAddressSpaceExhausted, tier.Name, tier.MaskSize, base)
	}
	return nil
}

func blockSize(bits int) uint64 {
	return uint64(1) << (32 - bits)
}

func addrToUint32(a netip.Addr) uint32 {
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToAddr(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
