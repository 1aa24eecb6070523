package graph

import (
	"strings"
	"testing"
)

func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	err := g.Merge(NewFragment(
		Node{ID: "VPC", Kind: KindVPC},
		Node{
			ID:         "PublicSubnet1",
			Kind:       KindSubnet,
			Properties: map[string]any{"VpcId": RefTo("VPC")},
			Labels:     map[string]string{LabelTier: "public"},
		},
		Node{
			ID:         "PublicSubnet2",
			Kind:       KindSubnet,
			Properties: map[string]any{"VpcId": RefTo("VPC")},
			Labels:     map[string]string{LabelTier: "public"},
		},
		Node{
			ID:         "DatabaseSecurityGroup",
			Kind:       KindSecurityGroup,
			Properties: map[string]any{"VpcId": RefTo("VPC")},
		},
		Node{
			ID:   "Route",
			Kind: KindRoute,
			Properties: map[string]any{
				"SecurityGroupIngress": []any{
					map[string]any{"SourceSecurityGroupId": Attr("DatabaseSecurityGroup", "GroupId")},
				},
			},
			DependsOn: []ID{"PublicSubnet1"},
		},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func TestGenerator_Generate_SimpleGraph(t *testing.T) {
	gen := &Generator{}
	var sb strings.Builder
	if err := gen.Generate(sampleGraph(t), &sb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := sb.String()

	if !strings.Contains(output, "digraph") {
		t.Error("expected digraph declaration")
	}
	if !strings.Contains(output, "PublicSubnet1") {
		t.Error("expected PublicSubnet1 node")
	}
	if !strings.Contains(output, "AWS::EC2::VPC") {
		t.Error("expected resource type in node label")
	}
	if !strings.Contains(output, "->") {
		t.Error("expected at least one edge")
	}
}

func TestGenerator_Generate_EdgeStyles(t *testing.T) {
	gen := &Generator{}
	output, err := gen.GenerateString(sampleGraph(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Attribute references are blue and labelled
	if !strings.Contains(output, "blue") {
		t.Error("expected blue color for attribute edge")
	}
	if !strings.Contains(output, "GroupId") {
		t.Error("expected attribute name as edge label")
	}

	// Ordering-only dependencies are dashed
	if !strings.Contains(output, "dashed") {
		t.Error("expected dashed style for DependsOn edge")
	}
}

func TestGenerator_Generate_ClusterByTier(t *testing.T) {
	gen := &Generator{ClusterByTier: true}
	output, err := gen.GenerateString(sampleGraph(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(output, "cluster_public") {
		t.Error("expected cluster subgraph for the public tier")
	}
	if strings.Contains(output, "cluster_VPC") {
		t.Error("unlabelled nodes should not be clustered")
	}
}

func TestGenerator_Generate_MermaidFormat(t *testing.T) {
	gen := &Generator{Format: FormatMermaid}
	output, err := gen.GenerateString(sampleGraph(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(output, "graph") && !strings.Contains(output, "flowchart") {
		t.Errorf("expected mermaid graph/flowchart, got:\n%s", output)
	}
	if strings.Contains(output, "digraph") {
		t.Error("expected mermaid format, not DOT")
	}
}
