package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tierstack "github.com/lex00/tierstack-go"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBuild_JSON(t *testing.T) {
	stdout, _, err := execute(t, "build")
	require.NoError(t, err)

	var tmpl tierstack.Template
	require.NoError(t, json.Unmarshal([]byte(stdout), &tmpl))
	assert.Equal(t, "2010-09-09", tmpl.AWSTemplateFormatVersion)
	assert.Equal(t, "AWS::RDS::DBInstance", tmpl.Resources["Database"].Type)
	assert.Equal(t, "AWS::EC2::Instance", tmpl.Resources["Instance2"].Type)
	for _, name := range []string{"VPCId", "ALBDNSName", "EC2Instance1Id", "EC2Instance2Id", "RDSEndpoint"} {
		assert.Contains(t, tmpl.Outputs, name)
	}
}

func TestBuild_YAMLToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "template.yaml")
	_, _, err := execute(t, "build", "--format", "yaml", "-o", out, "--instances", "3")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "AWSTemplateFormatVersion:"))
	assert.Contains(t, string(data), "Instance3:")
}

func TestBuild_InvalidAllocation(t *testing.T) {
	stdout, stderr, err := execute(t, "build", "--db-storage", "2000", "--db-max-storage", "1000")
	require.Error(t, err)
	assert.Equal(t, "build failed", err.Error())
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, tierstack.ErrInvalidAllocation.Error())
}

func TestBuild_UnknownFormat(t *testing.T) {
	_, _, err := execute(t, "build", "--format", "toml")
	assert.ErrorContains(t, err, "unknown format: toml")
}

func TestPlan_JSON(t *testing.T) {
	stdout, _, err := execute(t, "plan", "--format", "json")
	require.NoError(t, err)

	var result planResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.NotEmpty(t, result.Levels)
	assert.Contains(t, result.Levels[0].Resources, "VPC")
	assert.Len(t, result.Order, result.Resources)
	assert.Equal(t, "VPC", result.Order[0])
	assert.Contains(t, result.Outputs, "RDSEndpoint")
}

func TestPlan_Text(t *testing.T) {
	stdout, _, err := execute(t, "plan")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Plan: ")
	assert.Contains(t, stdout, "Outputs: VPCId")
}

func TestGraph(t *testing.T) {
	stdout, _, err := execute(t, "graph", "-c")
	require.NoError(t, err)
	assert.Contains(t, stdout, "digraph")
	assert.Contains(t, stdout, "LoadBalancer")

	stdout, _, err = execute(t, "graph", "-f", "mermaid")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "digraph")
	assert.Contains(t, stdout, "Database")

	_, _, err = execute(t, "graph", "-f", "svg")
	assert.ErrorContains(t, err, "unknown format")
}

func TestList(t *testing.T) {
	stdout, _, err := execute(t, "list", "--type", "AWS::EC2::Instance", "--format", "json")
	require.NoError(t, err)

	var result tierstack.ListResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	require.Len(t, result.Resources, 2)
	assert.Equal(t, "Instance1", result.Resources[0].Name)
	assert.Equal(t, "private-egress", result.Resources[0].Tier)
	assert.Contains(t, result.Resources[0].References, "ComputeSecurityGroup")

	stdout, _, err = execute(t, "list", "--type", "AWS::S3::Bucket")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No resources found.")
}

func TestValidate(t *testing.T) {
	stdout, _, err := execute(t, "validate", "--lint=false")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Validation passed")

	stdout, _, err = execute(t, "validate", "--lint=false", "--format", "json", "--db-storage", "0")
	require.Error(t, err)

	var result tierstack.ValidateResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], tierstack.ErrInvalidAllocation.Error())
}

func TestDeploy_Success(t *testing.T) {
	stdout, _, err := execute(t, "deploy", "--format", "json")
	require.NoError(t, err)

	var result tierstack.DeployResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.DeploymentID)
	for _, res := range result.Resources {
		assert.Equal(t, tierstack.StatusCreated, res.Status, res.Name)
	}
	assert.Contains(t, result.Outputs["ALBDNSName"], "elb.amazonaws.com")
	assert.Contains(t, result.Outputs["RDSEndpoint"], "rds.amazonaws.com")
	assert.True(t, strings.HasPrefix(result.Outputs["VPCId"], "vpc-"))
}

func TestDeploy_InjectedFailure(t *testing.T) {
	stdout, _, err := execute(t, "deploy", "--format", "json", "--fail", "Database", "--teardown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploy failed")

	var result tierstack.DeployResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.False(t, result.Success)

	statuses := make(map[string]tierstack.ResourceStatus)
	for _, res := range result.Resources {
		statuses[res.Name] = res.Status
	}
	assert.Equal(t, tierstack.StatusFailed, statuses["Database"])
	assert.Equal(t, tierstack.StatusCreated, statuses["LoadBalancer"])
	assert.NotContains(t, result.Outputs, "RDSEndpoint")
	assert.Contains(t, result.Outputs, "ALBDNSName")
}

func TestDeploy_UnknownResource(t *testing.T) {
	_, _, err := execute(t, "deploy", "--fail", "Nope")
	assert.ErrorContains(t, err, "--fail Nope: no such resource")
}

func TestDiff(t *testing.T) {
	saved := filepath.Join(t.TempDir(), "saved.json")
	_, _, err := execute(t, "build", "-o", saved)
	require.NoError(t, err)

	stdout, _, err := execute(t, "diff", saved)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No differences.")

	stdout, _, err = execute(t, "diff", saved, "--instances", "3", "--format", "json")
	require.NoError(t, err)

	var out diffOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Diff.Added, 1)
	assert.Equal(t, "Instance3", out.Diff.Added[0].Resource)
	assert.Positive(t, out.Summary.Modified)
}

func TestDiff_TwoFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	_, _, err := execute(t, "build", "-f", "yaml", "-o", a)
	require.NoError(t, err)
	_, _, err = execute(t, "build", "-f", "yaml", "-o", b, "--db-removal", "snapshot")
	require.NoError(t, err)

	stdout, _, err := execute(t, "diff", a, b)
	require.NoError(t, err)
	assert.Contains(t, stdout, "~ Database")
	assert.Contains(t, stdout, `DeletionPolicy changed: "Delete" → "Snapshot"`)
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.yaml")
	stdout, _, err := execute(t, "init", path, "--zones", "3")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Wrote "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "zones: 3")

	_, _, err = execute(t, "init", path)
	assert.ErrorContains(t, err, "already exists")

	stdout, _, err = execute(t, "list", "--config", path, "--type", "AWS::EC2::Subnet", "--format", "json")
	require.NoError(t, err)
	var result tierstack.ListResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Len(t, result.Resources, 9)
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "tierstack "))
}

func TestGetVersion(t *testing.T) {
	v := getVersion()
	require.NotEmpty(t, v)
	// "dev" under go test, or vX.Y.Z when installed with go install @version.
	assert.True(t, v == "dev" || strings.HasPrefix(v, "v"), "getVersion() = %q", v)
}
