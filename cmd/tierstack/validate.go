package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/validation"
)

// newValidateCmd creates the "validate" subcommand for checking the composed stack.
func newValidateCmd() *cobra.Command {
	var (
		outputFormat string
		lint         bool
		strict       bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the composed stack",
		Long: `Validate composes the stack and checks it.

Checks performed:
  - Inputs: storage allocation, health policy, ports and selectors
  - Layout: subnets inside the VPC, non-overlapping, one per zone and tier
  - Wiring: target group port, registrations, access paths, database placement
  - Template: cfn-lint-go rules over the rendered template (--lint)

Examples:
    tierstack validate
    tierstack validate --lint --strict
    tierstack validate --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}

			var result tierstack.ValidateResult
			plan, err := a.assemble(cmd.Context())
			if err != nil {
				result = tierstack.ValidateResult{Errors: []string{err.Error()}}
			} else {
				result = validation.Validate(plan, validation.Options{Lint: lint, Strict: strict})
			}
			return outputValidateResult(cmd.OutOrStdout(), result, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&lint, "lint", true, "Run cfn-lint-go on the rendered template")
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat lint warnings as errors")

	return cmd
}

func outputValidateResult(w io.Writer, result tierstack.ValidateResult, format string) error {
	err := writeResult(w, format, result, func(w io.Writer) {
		if result.Success {
			fmt.Fprintf(w, "Validation passed: %d resources OK\n", result.Resources)
		} else {
			fmt.Fprintln(w, "Validation FAILED:")
		}
		for _, errMsg := range result.Errors {
			fmt.Fprintf(w, "  ERROR: %s\n", errMsg)
		}
		for _, warnMsg := range result.Warnings {
			fmt.Fprintf(w, "  WARNING: %s\n", warnMsg)
		}
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("validation failed")
	}
	return nil
}
