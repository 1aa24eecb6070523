package differ

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tierstack "github.com/lex00/tierstack-go"
)

func TestCompare(t *testing.T) {
	t1 := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{
			"PublicSubnet1":  {Type: "AWS::EC2::Subnet", Properties: map[string]any{"CidrBlock": "10.0.0.0/24"}},
			"PrivateSubnet1": {Type: "AWS::EC2::Subnet", Properties: map[string]any{"CidrBlock": "10.0.2.0/24"}},
		},
	}
	t2 := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{
			"PublicSubnet1":   {Type: "AWS::EC2::Subnet", Properties: map[string]any{"CidrBlock": "10.0.1.0/24"}},
			"IsolatedSubnet1": {Type: "AWS::EC2::Subnet", Properties: map[string]any{"CidrBlock": "10.0.4.0/24"}},
		},
	}

	result, err := Compare(t1, t2, Options{})
	require.NoError(t, err)

	require.Len(t, result.Diff.Removed, 1)
	assert.Equal(t, "PrivateSubnet1", result.Diff.Removed[0].Resource)

	require.Len(t, result.Diff.Added, 1)
	assert.Equal(t, "IsolatedSubnet1", result.Diff.Added[0].Resource)

	require.Len(t, result.Diff.Modified, 1)
	assert.Equal(t, "PublicSubnet1", result.Diff.Modified[0].Resource)
	assert.Equal(t, []string{"CidrBlock: changed"}, result.Diff.Modified[0].Changes)

	assert.Equal(t, tierstack.DiffSummary{Added: 1, Removed: 1, Modified: 1, Total: 3}, result.Summary)
	assert.False(t, result.Empty())
}

func TestCompareIdentical(t *testing.T) {
	tmpl := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{
			"VPC": {Type: "AWS::EC2::VPC", Properties: map[string]any{"CidrBlock": "10.0.0.0/16"}},
		},
	}

	result, err := Compare(tmpl, tmpl, Options{})
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestCompareEmpty(t *testing.T) {
	t1 := &tierstack.Template{Resources: map[string]tierstack.ResourceDef{}}
	t2 := &tierstack.Template{Resources: map[string]tierstack.ResourceDef{}}

	result, err := Compare(t1, t2, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Summary.Total)

	_, err = Compare(nil, t2, Options{})
	assert.Error(t, err)
}

func TestCompareTypeAndPolicyChange(t *testing.T) {
	t1 := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{
			"Database": {Type: "AWS::RDS::DBInstance", DeletionPolicy: "Delete"},
		},
	}
	t2 := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{
			"Database": {Type: "AWS::RDS::DBCluster", DeletionPolicy: "Snapshot", UpdateReplacePolicy: "Snapshot"},
		},
	}

	result, err := Compare(t1, t2, Options{})
	require.NoError(t, err)
	require.Len(t, result.Diff.Modified, 1)

	changes := result.Diff.Modified[0].Changes
	assert.Contains(t, changes, "Type changed: AWS::RDS::DBInstance → AWS::RDS::DBCluster")
	assert.Contains(t, changes, `DeletionPolicy changed: "Delete" → "Snapshot"`)
	assert.Contains(t, changes, `UpdateReplacePolicy changed: "" → "Snapshot"`)
}

func TestCompareDependsOnOrder(t *testing.T) {
	t1 := &tierstack.Template{Resources: map[string]tierstack.ResourceDef{
		"Route": {Type: "AWS::EC2::Route", DependsOn: []string{"Gateway", "Attachment"}},
	}}
	t2 := &tierstack.Template{Resources: map[string]tierstack.ResourceDef{
		"Route": {Type: "AWS::EC2::Route", DependsOn: []string{"Attachment", "Gateway"}},
	}}

	result, err := Compare(t1, t2, Options{})
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestCompareIgnoreOrder(t *testing.T) {
	t1 := &tierstack.Template{Resources: map[string]tierstack.ResourceDef{
		"LoadBalancer": {Type: "AWS::ElasticLoadBalancingV2::LoadBalancer", Properties: map[string]any{
			"Subnets": []any{map[string]any{"Ref": "PublicSubnet1"}, map[string]any{"Ref": "PublicSubnet2"}},
		}},
	}}
	t2 := &tierstack.Template{Resources: map[string]tierstack.ResourceDef{
		"LoadBalancer": {Type: "AWS::ElasticLoadBalancingV2::LoadBalancer", Properties: map[string]any{
			"Subnets": []any{map[string]any{"Ref": "PublicSubnet2"}, map[string]any{"Ref": "PublicSubnet1"}},
		}},
	}}

	result, err := Compare(t1, t2, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Summary.Modified)

	result, err = Compare(t1, t2, Options{IgnoreOrder: true})
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestCompareOutputs(t *testing.T) {
	t1 := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{},
		Outputs: map[string]tierstack.Output{
			"VPCId":       {Value: map[string]any{"Ref": "VPC"}, Export: &tierstack.Export{Name: "VPCId"}},
			"RDSEndpoint": {Value: map[string]any{"Fn::GetAtt": []any{"Database", "Endpoint.Address"}}},
		},
	}
	t2 := &tierstack.Template{
		Resources: map[string]tierstack.ResourceDef{},
		Outputs: map[string]tierstack.Output{
			"VPCId":      {Value: map[string]any{"Ref": "VPC"}},
			"ALBDNSName": {Value: map[string]any{"Fn::GetAtt": []any{"LoadBalancer", "DNSName"}}},
		},
	}

	result, err := Compare(t1, t2, Options{})
	require.NoError(t, err)
	require.Len(t, result.Diff.Modified, 1)
	assert.Equal(t, "Outputs", result.Diff.Modified[0].Resource)
	assert.Equal(t, []string{
		"ALBDNSName: added",
		"RDSEndpoint: removed",
		`VPCId: export changed: "VPCId" → ""`,
	}, result.Diff.Modified[0].Changes)
}

func TestCompareProperties(t *testing.T) {
	tests := []struct {
		name    string
		props1  map[string]any
		props2  map[string]any
		want    []string
	}{
		{
			name:   "identical",
			props1: map[string]any{"Key": "value"},
			props2: map[string]any{"Key": "value"},
		},
		{
			name:   "added property",
			props1: map[string]any{},
			props2: map[string]any{"Key": "value"},
			want:   []string{"Key: added"},
		},
		{
			name:   "removed property",
			props1: map[string]any{"Key": "value"},
			props2: map[string]any{},
			want:   []string{"Key: removed"},
		},
		{
			name:   "modified property",
			props1: map[string]any{"Key": "value1"},
			props2: map[string]any{"Key": "value2"},
			want:   []string{"Key: changed"},
		},
		{
			name:   "nested property",
			props1: map[string]any{"HealthCheck": map[string]any{"Path": "/"}},
			props2: map[string]any{"HealthCheck": map[string]any{"Path": "/healthz"}},
			want:   []string{"HealthCheck.Path: changed"},
		},
		{
			name:   "numeric types fold",
			props1: map[string]any{"Port": int64(80)},
			props2: map[string]any{"Port": float64(80)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compareProperties("", tt.props1, tt.props2, Options{}))
		})
	}
}

func TestCompareFiles(t *testing.T) {
	dir := t.TempDir()
	before := filepath.Join(dir, "before.json")
	after := filepath.Join(dir, "after.yaml")

	require.NoError(t, os.WriteFile(before, []byte(`{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Resources": {"VPC": {"Type": "AWS::EC2::VPC", "Properties": {"CidrBlock": "10.0.0.0/16"}}}
}`), 0o644))
	require.NoError(t, os.WriteFile(after, []byte(`AWSTemplateFormatVersion: "2010-09-09"
Resources:
  VPC:
    Type: AWS::EC2::VPC
    Properties:
      CidrBlock: 10.1.0.0/16
`), 0o644))

	result, err := CompareFiles(before, after, Options{})
	require.NoError(t, err)
	require.Len(t, result.Diff.Modified, 1)
	assert.Equal(t, "VPC", result.Diff.Modified[0].Resource)

	_, err = CompareFiles(filepath.Join(dir, "missing.json"), after, Options{})
	assert.Error(t, err)
}

func TestEqualStringSlices(t *testing.T) {
	tests := []struct {
		a, b []string
		want bool
	}{
		{nil, nil, true},
		{[]string{}, []string{}, true},
		{[]string{"a", "b"}, []string{"a", "b"}, true},
		{[]string{"a"}, []string{"b"}, false},
		{[]string{"a"}, []string{"a", "b"}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, equalStringSlices(tt.a, tt.b), "%v vs %v", tt.a, tt.b)
	}
}
