package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tierstack "github.com/lex00/tierstack-go"
)

func threeTierBoundaries() []Boundary {
	return []Boundary{
		{Name: BoundaryEdge, RequiresExternal: true, AllowAllOutbound: true},
		{Name: BoundaryCompute, AllowAllOutbound: true},
		{Name: BoundaryData, AllowAllOutbound: true},
	}
}

func threeTierPaths() []Path {
	return []Path{
		{Source: AnyIPv4, Destination: BoundaryEdge, Port: 80, Description: "Allow HTTP traffic"},
		{Source: AnyIPv4, Destination: BoundaryEdge, Port: 443, Description: "Allow HTTPS traffic"},
		{Source: BoundaryEdge, Destination: BoundaryCompute, Port: 80, Description: "Allow traffic from ALB"},
		{Source: BoundaryCompute, Destination: BoundaryData, Port: 3306, Description: "Allow MySQL traffic from EC2 instances"},
	}
}

func TestBuild_ThreeTier(t *testing.T) {
	policy, err := Build(threeTierBoundaries(), threeTierPaths())
	require.NoError(t, err)

	assert.Len(t, policy.Inbound(BoundaryEdge), 2)
	assert.Equal(t, []string{AnyIPv4}, policy.Sources(BoundaryEdge))
	assert.Equal(t, []string{BoundaryEdge}, policy.Sources(BoundaryCompute))
	assert.Equal(t, []string{BoundaryCompute}, policy.Sources(BoundaryData))

	assert.True(t, policy.Permits(BoundaryCompute, BoundaryData, TCP, 3306))
	assert.False(t, policy.Permits(BoundaryEdge, BoundaryData, TCP, 3306))
	assert.False(t, policy.Permits(AnyIPv4, BoundaryData, TCP, 3306))
	assert.False(t, policy.Permits(BoundaryCompute, BoundaryData, TCP, 22))

	rule := policy.Inbound(BoundaryData)[0]
	assert.Equal(t, TCP, rule.Protocol, "protocol defaults to tcp")
	assert.False(t, rule.External())
}

func TestBuild_ExactlyOnceAndMinimal(t *testing.T) {
	paths := append(threeTierPaths(), threeTierPaths()...)
	paths = append(paths, Path{Source: BoundaryEdge, Destination: BoundaryCompute, Protocol: TCP, Port: 80, Description: "duplicate"})

	policy, err := Build(threeTierBoundaries(), paths)
	require.NoError(t, err)

	// Each distinct path appears exactly once.
	counts := make(map[Rule]int)
	for _, r := range policy.Rules() {
		r.Description = ""
		counts[r]++
	}
	for _, p := range threeTierPaths() {
		key := Rule{Source: p.Source, Destination: p.Destination, Protocol: TCP, Port: p.Port}
		assert.Equal(t, 1, counts[key], "path %s -> %s:%d", p.Source, p.Destination, p.Port)
	}
	assert.Len(t, policy.Rules(), len(threeTierPaths()))

	// No rule exists without a declared path.
	declared := make(map[[2]string]bool)
	for _, p := range threeTierPaths() {
		declared[[2]string{p.Source, p.Destination}] = true
	}
	for _, r := range policy.Rules() {
		assert.True(t, declared[[2]string{r.Source, r.Destination}], "undeclared rule %s -> %s", r.Source, r.Destination)
	}

	// First description wins.
	assert.Equal(t, "Allow traffic from ALB", policy.Inbound(BoundaryCompute)[0].Description)
}

func TestBuild_NoPathsDeniesEverything(t *testing.T) {
	policy, err := Build([]Boundary{{Name: BoundaryData}}, nil)
	require.NoError(t, err)
	assert.Empty(t, policy.Inbound(BoundaryData))
	assert.Empty(t, policy.Sources(BoundaryData))
}

func TestBuild_PolicyCycle(t *testing.T) {
	tests := []struct {
		name  string
		paths []Path
	}{
		{
			name: "external boundary reachable only from an internal one",
			paths: []Path{
				{Source: BoundaryCompute, Destination: BoundaryEdge, Port: 80},
				{Source: BoundaryEdge, Destination: BoundaryCompute, Port: 80},
			},
		},
		{
			name:  "external boundary with no inbound paths",
			paths: []Path{{Source: BoundaryCompute, Destination: BoundaryData, Port: 3306}},
		},
		{
			name: "extra source that is unreachable from outside",
			paths: []Path{
				{Source: AnyIPv4, Destination: BoundaryEdge, Port: 80},
				{Source: BoundaryData, Destination: BoundaryEdge, Port: 8080},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(threeTierBoundaries(), tt.paths)
			assert.ErrorIs(t, err, tierstack.ErrPolicyCycle)
		})
	}
}

func TestBuild_InvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		boundaries []Boundary
		paths      []Path
		want       string
	}{
		{"unknown destination", threeTierBoundaries(), []Path{{Source: AnyIPv4, Destination: "cache", Port: 6379}}, "unknown destination boundary"},
		{"unknown source", threeTierBoundaries(), []Path{{Source: "bastion", Destination: BoundaryCompute, Port: 22}}, "unknown source boundary"},
		{"self path", threeTierBoundaries(), []Path{{Source: BoundaryCompute, Destination: BoundaryCompute, Port: 22}}, "cannot grant itself"},
		{"port out of range", threeTierBoundaries(), []Path{{Source: AnyIPv4, Destination: BoundaryEdge, Port: 70000}}, "out of range"},
		{"bad protocol", threeTierBoundaries(), []Path{{Source: AnyIPv4, Destination: BoundaryEdge, Protocol: "sctp", Port: 80}}, "unsupported protocol"},
		{"duplicate boundary", []Boundary{{Name: "a"}, {Name: "a"}}, nil, "duplicate boundary"},
		{"reserved name", []Boundary{{Name: AnyIPv4}}, nil, "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.boundaries, tt.paths)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.NotErrorIs(t, err, tierstack.ErrPolicyCycle)
		})
	}
}

func TestBuild_AllProtocolIgnoresPort(t *testing.T) {
	policy, err := Build(
		[]Boundary{{Name: "a"}, {Name: "b"}},
		[]Path{{Source: "a", Destination: "b", Protocol: All, Port: 1234}},
	)
	require.NoError(t, err)

	rules := policy.Inbound("b")
	require.Len(t, rules, 1)
	assert.Equal(t, 0, rules[0].Port)
	assert.True(t, policy.Permits("a", "b", UDP, 53))
}
