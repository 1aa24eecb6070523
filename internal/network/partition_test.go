package network

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
)

func defaultSpace() AddressSpace {
	return AddressSpace{Base: netip.MustParsePrefix("10.0.0.0/16"), Zones: 2}
}

func TestPartition_Default(t *testing.T) {
	layout, err := Partition(defaultSpace(), DefaultTiers(24))
	require.NoError(t, err)

	var got []string
	for _, s := range layout.Subnets() {
		got = append(got, string(s.ID)+"="+s.CIDR.String())
	}
	assert.Equal(t, []string{
		"PublicSubnet1=10.0.0.0/24",
		"PublicSubnet2=10.0.1.0/24",
		"PrivateEgressSubnet1=10.0.2.0/24",
		"PrivateEgressSubnet2=10.0.3.0/24",
		"IsolatedSubnet1=10.0.4.0/24",
		"IsolatedSubnet2=10.0.5.0/24",
	}, got)

	group, ok := layout.Group(TierIsolated)
	require.True(t, ok)
	assert.Equal(t, Isolated, group.Reachability)
	assert.Equal(t, 1, group.Subnets[1].Zone)
}

func TestPartition_NonOverlappingAndContained(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		zones int
		tiers []TierSpec
	}{
		{"default", "10.0.0.0/16", 2, DefaultTiers(24)},
		{"three zones", "10.0.0.0/16", 3, DefaultTiers(20)},
		{"mixed masks", "172.16.0.0/20", 2, []TierSpec{
			{Name: "public", MaskSize: 26, Reachability: Internet},
			{Name: "app", MaskSize: 23, Reachability: NAT},
			{Name: "data", MaskSize: 28, Reachability: Isolated},
		}},
		{"exact fit", "10.0.0.0/24", 2, []TierSpec{
			{Name: "a", MaskSize: 26, Reachability: Internet},
			{Name: "b", MaskSize: 26, Reachability: Isolated},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space := AddressSpace{Base: netip.MustParsePrefix(tt.base), Zones: tt.zones}
			layout, err := Partition(space, tt.tiers)
			require.NoError(t, err)

			subnets := layout.Subnets()
			assert.Len(t, subnets, tt.zones*len(tt.tiers))
			for i, a := range subnets {
				assert.True(t, space.Base.Contains(a.CIDR.Addr()), "%s outside %s", a.CIDR, space.Base)
				assert.LessOrEqual(t, space.Base.Bits(), a.CIDR.Bits())
				for _, b := range subnets[i+1:] {
					assert.False(t, a.CIDR.Overlaps(b.CIDR), "%s overlaps %s", a.CIDR, b.CIDR)
				}
			}

			again, err := Partition(space, tt.tiers)
			require.NoError(t, err)
			assert.Equal(t, layout, again, "partitioning must be deterministic")
		})
	}
}

func TestPartition_AlignsMixedSizes(t *testing.T) {
	space := AddressSpace{Base: netip.MustParsePrefix("10.0.0.0/16"), Zones: 1}
	layout, err := Partition(space, []TierSpec{
		{Name: "small", MaskSize: 28, Reachability: Internet},
		{Name: "large", MaskSize: 24, Reachability: Isolated},
	})
	require.NoError(t, err)

	subnets := layout.Subnets()
	assert.Equal(t, "10.0.0.0/28", subnets[0].CIDR.String())
	assert.Equal(t, "10.0.1.0/24", subnets[1].CIDR.String())
}

func TestPartition_Exhausted(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		zones int
		mask  int
	}{
		{"too many zones", "10.0.0.0/24", 4, 26},
		{"mask shorter than base", "10.0.0.0/24", 1, 16},
		{"one block short", "10.0.0.0/22", 2, 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			space := AddressSpace{Base: netip.MustParsePrefix(tt.base), Zones: tt.zones}
			_, err := Partition(space, DefaultTiers(tt.mask))
			assert.ErrorIs(t, err, tierstack.ErrAddressSpaceExhausted)
		})
	}
}

func TestPartition_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		space AddressSpace
		tiers []TierSpec
		want  string
	}{
		{"zero zones", AddressSpace{Base: netip.MustParsePrefix("10.0.0.0/16")}, DefaultTiers(24), "zone count"},
		{"ipv6", AddressSpace{Base: netip.MustParsePrefix("2001:db8::/56"), Zones: 2}, DefaultTiers(64), "not IPv4"},
		{"no tiers", defaultSpace(), nil, "at least one tier"},
		{"mask too long", defaultSpace(), DefaultTiers(29), "exceeds /28"},
		{"duplicate tier", defaultSpace(), []TierSpec{
			{Name: "public", MaskSize: 24, Reachability: Internet},
			{Name: "public", MaskSize: 24, Reachability: Internet},
		}, "duplicate tier"},
		{"unknown reachability", defaultSpace(), []TierSpec{{Name: "x", MaskSize: 24, Reachability: "vpn"}}, "unknown reachability"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(tt.space, tt.tiers)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTierIdentifier(t *testing.T) {
	assert.Equal(t, "PrivateEgress", TierIdentifier("private-egress"))
	assert.Equal(t, "Public", TierIdentifier("public"))
	assert.Equal(t, graph.ID("IsolatedSubnet3"), SubnetID("isolated", 2))
}
