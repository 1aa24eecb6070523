package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lex00/tierstack-go/internal/graph"
)

func newGraphCmd() *cobra.Command {
	var (
		outputFormat  string
		clusterByTier bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Generate DOT graph of resource dependencies",
		Long: `Generate a DOT or Mermaid format graph showing resource dependencies.

The output can be rendered with Graphviz:
    tierstack graph | dot -Tpng -o deps.png

Or used in GitHub markdown (Mermaid format):
    tierstack graph -f mermaid

Examples:
    tierstack graph
    tierstack graph -c              # cluster by subnet tier
    tierstack graph -f mermaid      # mermaid format`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var format graph.Format
			switch outputFormat {
			case "dot":
				format = graph.FormatDOT
			case "mermaid":
				format = graph.FormatMermaid
			default:
				return fmt.Errorf("unknown format: %s (use 'dot' or 'mermaid')", outputFormat)
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}
			plan, err := a.assemble(cmd.Context())
			if err != nil {
				return err
			}

			gen := &graph.Generator{Format: format, ClusterByTier: clusterByTier}
			return gen.Generate(plan.Graph, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "dot", "Output format: dot or mermaid")
	cmd.Flags().BoolVarP(&clusterByTier, "cluster", "c", false, "Cluster resources by subnet tier")

	return cmd
}
