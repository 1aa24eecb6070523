package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// planLevel is one wave of resources that can be created together.
type planLevel struct {
	Level     int      `json:"level"`
	Resources []string `json:"resources"`
}

type planResult struct {
	Resources int         `json:"resources"`
	Order     []string    `json:"order"`
	Levels    []planLevel `json:"levels"`
	Outputs   []string    `json:"outputs"`
}

func newPlanCmd() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the creation order",
		Long: `Plan composes the stack and prints the order resources are created in.

Resources on the same level have no dependencies on each other and are created
concurrently by deploy.

Examples:
    tierstack plan
    tierstack plan --format json`,
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

			result := planResult{Resources: plan.Graph.Len()}
			for _, id := range plan.Order {
				result.Order = append(result.Order, string(id))
			}
			for i, level := range plan.Levels() {
				pl := planLevel{Level: i + 1}
				for _, id := range level {
					pl.Resources = append(pl.Resources, string(id))
				}
				result.Levels = append(result.Levels, pl)
			}
			for _, b := range plan.Bindings {
				result.Outputs = append(result.Outputs, b.Name)
			}

			return writeResult(cmd.OutOrStdout(), outputFormat, result, func(w io.Writer) {
				fmt.Fprintf(w, "Plan: %d resources in %d levels\n\n", result.Resources, len(result.Levels))
				for _, l := range result.Levels {
					fmt.Fprintf(w, "  %2d. %s\n", l.Level, strings.Join(l.Resources, ", "))
				}
				fmt.Fprintf(w, "\nOutputs: %s\n", strings.Join(result.Outputs, ", "))
			})
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")

	return cmd
}
