package graph

import (
	"io"
	"sort"
	"strings"

	"github.com/emicklei/dot"
)

// Format specifies the output format for the graph.
type Format string

const (
	// FormatDOT outputs Graphviz DOT format.
	FormatDOT Format = "dot"
	// FormatMermaid outputs Mermaid format for GitHub/markdown rendering.
	FormatMermaid Format = "mermaid"
)

// Generator renders a resource graph as a dependency diagram.
type Generator struct {
	// Format specifies the output format (dot or mermaid). Defaults to dot.
	Format Format

	// ClusterByTier groups resources by their tier label.
	ClusterByTier bool
}

// Generate renders g and writes it to w.
func (gen *Generator) Generate(g *Graph, w io.Writer) error {
	graph := gen.buildGraph(g)

	format := gen.Format
	if format == "" {
		format = FormatDOT
	}

	var output string
	if format == FormatMermaid {
		output = dot.MermaidGraph(graph, dot.MermaidTopToBottom)
	} else {
		output = graph.String()
	}

	_, err := w.Write([]byte(output))
	return err
}

// GenerateString is a convenience method that returns the diagram as a string.
func (gen *Generator) GenerateString(g *Graph) (string, error) {
	var sb strings.Builder
	if err := gen.Generate(g, &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (gen *Generator) buildGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "TB")

	graph.NodeInitializer(func(n dot.Node) {
		n.Attr("shape", "box")
		n.Attr("fontname", "Arial")
	})
	graph.EdgeInitializer(func(e dot.Edge) {
		e.Attr("fontname", "Arial")
		e.Attr("fontsize", "10")
	})

	nodes := make(map[ID]dot.Node, g.Len())
	if gen.ClusterByTier {
		gen.addClusteredNodes(graph, g, nodes)
	} else {
		for _, n := range g.Nodes() {
			nodes[n.ID] = addNode(graph, n)
		}
	}

	for _, n := range g.Nodes() {
		for _, edge := range n.Edges() {
			to, ok := nodes[edge.To]
			if !ok {
				continue
			}
			e := graph.Edge(nodes[n.ID], to)
			switch {
			case edge.Explicit:
				e.Attr("style", "dashed")
			case edge.Attribute != AttrRef:
				e.Attr("color", "blue")
				e.Label(edge.Attribute)
			}
		}
	}

	return graph
}

// addClusteredNodes places nodes carrying a tier label in one cluster per tier.
func (gen *Generator) addClusteredNodes(graph *dot.Graph, g *Graph, nodes map[ID]dot.Node) {
	byTier := make(map[string][]Node)
	for _, n := range g.Nodes() {
		tier := n.Label(LabelTier)
		if tier == "" {
			nodes[n.ID] = addNode(graph, n)
			continue
		}
		byTier[tier] = append(byTier[tier], n)
	}

	tiers := make([]string, 0, len(byTier))
	for tier := range byTier {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)

	for _, tier := range tiers {
		cluster := graph.Subgraph("cluster_"+tier, dot.ClusterOption{})
		cluster.Attr("label", tier)
		cluster.Attr("style", "rounded")
		cluster.Attr("bgcolor", "lightyellow")
		for _, n := range byTier[tier] {
			nodes[n.ID] = addNode(cluster, n)
		}
	}
}

func addNode(graph *dot.Graph, n Node) dot.Node {
	node := graph.Node(string(n.ID))
	node.Label(string(n.ID) + "\\n[" + string(n.Kind) + "]")
	return node
}
