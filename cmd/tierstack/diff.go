package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/differ"
	"github.com/lex00/tierstack-go/internal/template"
)

func newDiffCmd() *cobra.Command {
	var (
		outputFormat string
		ignoreOrder  bool
	)

	cmd := &cobra.Command{
		Use:   "diff <template> [template]",
		Short: "Compare templates",
		Long: `Diff compares a saved template with the template the current configuration
renders, or two saved templates with each other.

Examples:
    tierstack diff deployed.json
    tierstack diff deployed.json --zones 3
    tierstack diff old.yaml new.yaml --ignore-order`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := differ.Options{IgnoreOrder: ignoreOrder}

			var (
				result *differ.Result
				err    error
			)
			if len(args) == 2 {
				result, err = differ.CompareFiles(args[0], args[1], opts)
			} else {
				result, err = diffAgainstPlan(cmd, args[0], opts)
			}
			if err != nil {
				return err
			}
			return outputDiffResult(cmd.OutOrStdout(), result, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&ignoreOrder, "ignore-order", false, "Ignore array element order")

	return cmd
}

func diffAgainstPlan(cmd *cobra.Command, path string, opts differ.Options) (*differ.Result, error) {
	saved, err := differ.LoadTemplate(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	a, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	plan, err := a.assemble(cmd.Context())
	if err != nil {
		return nil, err
	}
	current, err := template.FromPlan(plan).Build()
	if err != nil {
		return nil, err
	}
	// Round-trip so both sides hold decoded JSON values.
	data, err := template.ToJSON(current)
	if err != nil {
		return nil, err
	}
	if current, err = template.Parse(data); err != nil {
		return nil, err
	}
	return differ.Compare(saved, current, opts)
}

type diffOutput struct {
	Diff    tierstack.TemplateDiff `json:"diff"`
	Summary tierstack.DiffSummary  `json:"summary"`
}

func outputDiffResult(w io.Writer, result *differ.Result, format string) error {
	out := diffOutput{Diff: result.Diff, Summary: result.Summary}
	return writeResult(w, format, out, func(w io.Writer) {
		if result.Empty() {
			fmt.Fprintln(w, "No differences.")
			return
		}
		for _, e := range result.Diff.Added {
			fmt.Fprintf(w, "+ %s (%s)\n", e.Resource, e.Type)
		}
		for _, e := range result.Diff.Removed {
			fmt.Fprintf(w, "- %s (%s)\n", e.Resource, e.Type)
		}
		for _, e := range result.Diff.Modified {
			fmt.Fprintf(w, "~ %s\n", e.Resource)
			for _, c := range e.Changes {
				fmt.Fprintf(w, "    %s\n", c)
			}
		}
		fmt.Fprintf(w, "\n%d added, %d removed, %d modified\n",
			result.Summary.Added, result.Summary.Removed, result.Summary.Modified)
	})
}
