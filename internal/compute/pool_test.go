package compute

import (
	"context"
	"encoding/base64"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/images"
	"github.com/lex00/tierstack-go/internal/network"
)

type countingResolver struct {
	calls int
}

func (r *countingResolver) Resolve(_ context.Context, _ images.Selector) (string, error) {
	r.calls++
	return "ami-test", nil
}

func fixtures(t *testing.T) (network.Network, access.Groups) {
	t.Helper()
	layout, err := network.Partition(network.AddressSpace{Base: netip.MustParsePrefix("10.0.0.0/16"), Zones: 2}, network.DefaultTiers(24))
	require.NoError(t, err)
	bc := graph.NewBuildContext("Test")
	nw, err := network.Declare(bc, layout)
	require.NoError(t, err)

	policy, err := access.Build([]access.Boundary{{Name: access.BoundaryCompute, AllowAllOutbound: true}}, nil)
	require.NoError(t, err)
	return nw, access.Declare(bc, policy, nw.VPC)
}

func spec(count int) PoolSpec {
	sel, _ := images.ParseSelector(images.LatestAmazonLinux2)
	return PoolSpec{
		Count:        count,
		Tier:         network.TierPrivateEgress,
		Boundary:     access.BoundaryCompute,
		Bootstrap:    []string{"yum update -y", "yum install -y httpd", "systemctl start httpd", "systemctl enable httpd"},
		InstanceType: "t2.micro",
		Image:        sel,
		Port:         80,
	}
}

func TestDeclare_DistinctIdentities(t *testing.T) {
	nw, groups := fixtures(t)

	for _, n := range []int{1, 2, 3, 7} {
		resolver := &countingResolver{}
		pool, err := Declare(context.Background(), graph.NewBuildContext("Test"), spec(n), nw, groups, resolver)
		require.NoError(t, err)

		assert.Len(t, pool.Instances, n)
		assert.Equal(t, 1, resolver.calls, "image is resolved once per declaration")

		seen := make(map[graph.ID]bool)
		nodes := pool.Fragment.Nodes()
		require.Len(t, nodes, n)
		for i, node := range nodes {
			assert.False(t, seen[node.ID], "duplicate id %s", node.ID)
			seen[node.ID] = true
			assert.Equal(t, InstanceID(i+1), node.ID)

			// Identical configuration apart from identity and placement.
			assert.Equal(t, "t2.micro", node.Properties["InstanceType"])
			assert.Equal(t, "ami-test", node.Properties["ImageId"])
			assert.Equal(t, nodes[0].Properties["UserData"], node.Properties["UserData"])
			assert.Equal(t, []any{graph.Attr("ComputeSecurityGroup", "GroupId")}, node.Properties["SecurityGroupIds"])
		}
	}
}

func TestDeclare_RoundRobinPlacement(t *testing.T) {
	nw, groups := fixtures(t)

	pool, err := Declare(context.Background(), graph.NewBuildContext("Test"), spec(3), nw, groups, images.StaticResolver{images.LatestAmazonLinux2: "ami-1"})
	require.NoError(t, err)

	assert.Equal(t, graph.ID("PrivateEgressSubnet1"), pool.Instances[0].Subnet)
	assert.Equal(t, graph.ID("PrivateEgressSubnet2"), pool.Instances[1].Subnet)
	assert.Equal(t, graph.ID("PrivateEgressSubnet1"), pool.Instances[2].Subnet)
	assert.Equal(t, 1, pool.Instances[1].Zone)

	node := pool.Fragment.Nodes()[1]
	assert.Equal(t, graph.RefTo("PrivateEgressSubnet2"), node.Properties["SubnetId"])
	assert.Equal(t, []graph.ID{"PrivateEgressSubnet2DefaultRoute"}, node.DependsOn)
	assert.Equal(t, []graph.ID{"Instance1", "Instance2", "Instance3"}, pool.IDs())
}

func TestDeclare_UserData(t *testing.T) {
	nw, groups := fixtures(t)

	pool, err := Declare(context.Background(), graph.NewBuildContext("Test"), spec(1), nw, groups, images.StaticResolver{images.LatestAmazonLinux2: "ami-1"})
	require.NoError(t, err)

	want := "#!/bin/bash\nyum update -y\nyum install -y httpd\nsystemctl start httpd\nsystemctl enable httpd"
	assert.Equal(t, want, pool.UserData)

	encoded := pool.Fragment.Nodes()[0].Properties["UserData"].(string)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, want, string(decoded))

	assert.Empty(t, UserData(nil))
}

func TestDeclare_Invalid(t *testing.T) {
	nw, groups := fixtures(t)
	resolver := images.StaticResolver{}

	tests := []struct {
		name   string
		mutate func(*PoolSpec)
		want   string
	}{
		{"zero count", func(s *PoolSpec) { s.Count = 0 }, "at least 1"},
		{"unknown tier", func(s *PoolSpec) { s.Tier = "dmz" }, "has no subnets"},
		{"public tier", func(s *PoolSpec) { s.Tier = network.TierPublic }, "is internet"},
		{"isolated tier", func(s *PoolSpec) { s.Tier = network.TierIsolated }, "is isolated"},
		{"unknown boundary", func(s *PoolSpec) { s.Boundary = "edge" }, "unknown boundary"},
		{"no instance type", func(s *PoolSpec) { s.InstanceType = "" }, "instance type"},
		{"bad port", func(s *PoolSpec) { s.Port = 0 }, "out of range"},
		{"unresolvable image", func(s *PoolSpec) {}, "resolving image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := spec(2)
			tt.mutate(&s)
			_, err := Declare(context.Background(), graph.NewBuildContext("Test"), s, nw, groups, resolver)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
