package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/topology"
)

func newListCmd() *cobra.Command {
	var (
		outputFormat string
		kind         string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the composed resources",
		Long: `List composes the stack and displays every resource in creation order.

Examples:
    tierstack list
    tierstack list --type AWS::EC2::Subnet
    tierstack list --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			plan, err := a.assemble(cmd.Context())
			if err != nil {
				return err
			}
			return outputListResult(cmd.OutOrStdout(), listResources(plan, kind), outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVarP(&kind, "type", "t", "", "Only list resources of this CloudFormation type")

	return cmd
}

func listResources(plan *topology.Plan, kind string) tierstack.ListResult {
	result := tierstack.ListResult{Resources: make([]tierstack.ListResource, 0, len(plan.Order))}
	for _, id := range plan.Order {
		node, _ := plan.Graph.Node(id)
		if kind != "" && string(node.Kind) != kind {
			continue
		}
		res := tierstack.ListResource{
			Name: string(id),
			Type: string(node.Kind),
			Tier: node.Label(graph.LabelTier),
		}
		for _, ref := range node.References() {
			res.References = append(res.References, string(ref))
		}
		result.Resources = append(result.Resources, res)
	}
	return result
}

func outputListResult(w io.Writer, result tierstack.ListResult, format string) error {
	return writeResult(w, format, result, func(w io.Writer) {
		if len(result.Resources) == 0 {
			fmt.Fprintln(w, "No resources found.")
			return
		}
		fmt.Fprintf(w, "Resources (%d):\n\n", len(result.Resources))
		for _, res := range result.Resources {
			if res.Tier != "" {
				fmt.Fprintf(w, "  %s: %s [%s]\n", res.Name, res.Type, res.Tier)
			} else {
				fmt.Fprintf(w, "  %s: %s\n", res.Name, res.Type)
			}
		}
	})
}
