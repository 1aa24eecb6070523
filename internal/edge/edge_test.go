package edge

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/compute"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/images"
	"github.com/lex00/tierstack-go/internal/network"
)

func TestHealthCheck_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*HealthCheck)
		wantErr bool
	}{
		{"default", func(h *HealthCheck) {}, false},
		{"threshold of one", func(h *HealthCheck) { h.HealthyThreshold = 1; h.UnhealthyThreshold = 1 }, false},
		{"zero healthy threshold", func(h *HealthCheck) { h.HealthyThreshold = 0 }, true},
		{"negative unhealthy threshold", func(h *HealthCheck) { h.UnhealthyThreshold = -1 }, true},
		{"zero interval", func(h *HealthCheck) { h.Interval = 0 }, true},
		{"timeout equals interval", func(h *HealthCheck) { h.Timeout = h.Interval }, true},
		{"zero timeout", func(h *HealthCheck) { h.Timeout = 0 }, true},
		{"bounds", func(h *HealthCheck) { h.Interval = 5 * time.Second; h.Timeout = 2 * time.Second }, false},
		{"fractional interval", func(h *HealthCheck) { h.Interval = 1500 * time.Millisecond }, true},
		{"sub-second timeout", func(h *HealthCheck) { h.Timeout = 500 * time.Millisecond }, true},
		{"fractional timeout", func(h *HealthCheck) { h.Timeout = 2500 * time.Millisecond }, true},
		{"interval below minimum", func(h *HealthCheck) { h.Interval = 4 * time.Second; h.Timeout = 2 * time.Second }, true},
		{"interval above maximum", func(h *HealthCheck) { h.Interval = 301 * time.Second }, true},
		{"timeout above maximum", func(h *HealthCheck) { h.Interval = 300 * time.Second; h.Timeout = 121 * time.Second }, true},
		{"relative path", func(h *HealthCheck) { h.Path = "health" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := DefaultHealthCheck()
			tt.mutate(&h)
			err := h.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, tierstack.ErrInvalidHealthCheck)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTargetGroup_Register(t *testing.T) {
	tg, err := NewTargetGroup("TargetGroup", 80, DefaultHealthCheck())
	require.NoError(t, err)

	require.NoError(t, tg.Register(Target{ID: "Instance1", Port: 80}))
	require.NoError(t, tg.Register(Target{ID: "Instance2", Port: 80}))

	err = tg.Register(Target{ID: "Instance3", Port: 8080})
	assert.ErrorIs(t, err, tierstack.ErrPortMismatch)

	err = tg.Register(Target{ID: "Instance1", Port: 80})
	assert.ErrorContains(t, err, "already registered")

	assert.Equal(t, []Target{{ID: "Instance1", Port: 80}, {ID: "Instance2", Port: 80}}, tg.Members())
}

func TestNewTargetGroup_Invalid(t *testing.T) {
	_, err := NewTargetGroup("TargetGroup", 0, DefaultHealthCheck())
	assert.ErrorContains(t, err, "out of range")

	bad := DefaultHealthCheck()
	bad.Interval = -time.Second
	_, err = NewTargetGroup("TargetGroup", 80, bad)
	assert.ErrorIs(t, err, tierstack.ErrInvalidHealthCheck)
}

type edgeFixture struct {
	nw     network.Network
	groups access.Groups
	pool   compute.Pool
}

func newFixture(t *testing.T, instances, instancePort int) edgeFixture {
	t.Helper()
	bc := graph.NewBuildContext("Test")
	layout, err := network.Partition(network.AddressSpace{Base: netip.MustParsePrefix("10.0.0.0/16"), Zones: 2}, network.DefaultTiers(24))
	require.NoError(t, err)
	nw, err := network.Declare(bc, layout)
	require.NoError(t, err)

	policy, err := access.Build([]access.Boundary{
		{Name: access.BoundaryEdge, RequiresExternal: true, AllowAllOutbound: true},
		{Name: access.BoundaryCompute, AllowAllOutbound: true},
	}, []access.Path{
		{Source: access.AnyIPv4, Destination: access.BoundaryEdge, Port: 80},
		{Source: access.BoundaryEdge, Destination: access.BoundaryCompute, Port: instancePort},
	})
	require.NoError(t, err)
	groups := access.Declare(bc, policy, nw.VPC)

	pool, err := compute.Declare(context.Background(), bc, compute.PoolSpec{
		Count:        instances,
		Tier:         network.TierPrivateEgress,
		Boundary:     access.BoundaryCompute,
		InstanceType: "t2.micro",
		Image:        images.Selector{ID: "ami-123"},
		Port:         instancePort,
	}, nw, groups, images.StaticResolver{})
	require.NoError(t, err)

	return edgeFixture{nw: nw, groups: groups, pool: pool}
}

func defaultSpec() Spec {
	return Spec{Port: 80, Health: DefaultHealthCheck(), Tier: network.TierPublic, Boundary: access.BoundaryEdge}
}

func TestDeclare_Router(t *testing.T) {
	fx := newFixture(t, 2, 80)

	router, err := Declare(graph.NewBuildContext("Test"), defaultSpec(), fx.nw, fx.groups, fx.pool)
	require.NoError(t, err)

	assert.Equal(t, 3, router.Fragment.Len())
	assert.Len(t, router.TargetGroup.Members(), 2)
	assert.Equal(t, []graph.ID{TargetGroupID}, router.Listener.TargetGroups)
	assert.Equal(t, LoadBalancerID, router.Listener.LoadBalancer)
	assert.Equal(t, graph.Attr(LoadBalancerID, "DNSName"), router.DNSName())

	nodes := router.Fragment.Nodes()
	lb, tg, listener := nodes[0], nodes[1], nodes[2]

	assert.Equal(t, "internet-facing", lb.Properties["Scheme"])
	assert.Equal(t, []any{graph.RefTo("PublicSubnet1"), graph.RefTo("PublicSubnet2")}, lb.Properties["Subnets"])
	assert.Equal(t, []graph.ID{"PublicSubnet1DefaultRoute", "PublicSubnet2DefaultRoute"}, lb.DependsOn)

	assert.Equal(t, "/", tg.Properties["HealthCheckPath"])
	assert.Equal(t, int64(30), tg.Properties["HealthCheckIntervalSeconds"])
	assert.Equal(t, int64(5), tg.Properties["HealthyThresholdCount"])
	assert.Equal(t, int64(2), tg.Properties["UnhealthyThresholdCount"])
	assert.Equal(t, []any{
		map[string]any{"Id": graph.RefTo("Instance1"), "Port": int64(80)},
		map[string]any{"Id": graph.RefTo("Instance2"), "Port": int64(80)},
	}, tg.Properties["Targets"])

	assert.Equal(t, int64(80), listener.Properties["Port"])
	assert.Equal(t, []graph.ID{LoadBalancerID, TargetGroupID}, listener.References())
}

func TestDeclare_ListenerPortDiffersFromInstancePort(t *testing.T) {
	fx := newFixture(t, 1, 8080)

	router, err := Declare(graph.NewBuildContext("Test"), defaultSpec(), fx.nw, fx.groups, fx.pool)
	require.NoError(t, err)

	assert.Equal(t, 80, router.Listener.Port)
	assert.Equal(t, 8080, router.TargetGroup.Port)
}

func TestDeclare_Invalid(t *testing.T) {
	fx := newFixture(t, 1, 80)

	tests := []struct {
		name   string
		mutate func(*Spec, *compute.Pool)
		target error
		want   string
	}{
		{"bad listener port", func(s *Spec, _ *compute.Pool) { s.Port = 0 }, nil, "listener port"},
		{"missing tier", func(s *Spec, _ *compute.Pool) { s.Tier = "dmz" }, nil, "has no subnets"},
		{"missing boundary", func(s *Spec, _ *compute.Pool) { s.Boundary = "cdn" }, nil, "unknown boundary"},
		{"bad health check", func(s *Spec, _ *compute.Pool) { s.Health.HealthyThreshold = 0 }, tierstack.ErrInvalidHealthCheck, ""},
		{"empty pool", func(_ *Spec, p *compute.Pool) { p.Instances = nil }, nil, "no instances"},
		{"member on another port", func(_ *Spec, p *compute.Pool) {
			p.Instances = append([]compute.Instance(nil), p.Instances...)
			p.Instances[0].Port = 9090
		}, tierstack.ErrPortMismatch, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := defaultSpec()
			pool := fx.pool
			tt.mutate(&spec, &pool)
			_, err := Declare(graph.NewBuildContext("Test"), spec, fx.nw, fx.groups, pool)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			} else {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}
