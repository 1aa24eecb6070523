package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/template"
)

func newBuildCmd() *cobra.Command {
	var (
		outputFormat string
		outputFile   string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Generate the CloudFormation template",
		Long: `Build composes the stack and renders it as a CloudFormation template.

Examples:
    tierstack build
    tierstack build -o template.json
    tierstack build --format yaml --zones 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			return runBuild(cmd, a, outputFormat, outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runBuild(cmd *cobra.Command, a *app, format, outputFile string) error {
	result := buildTemplate(cmd, a)
	if !result.Success {
		for _, e := range result.Errors {
			fmt.Fprintln(cmd.ErrOrStderr(), e)
		}
		return fmt.Errorf("build failed")
	}

	data, err := renderTemplate(&result.Template, format)
	if err != nil {
		return err
	}
	if outputFile == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return err
	}
	a.log.Info().Str("file", outputFile).Int("resources", len(result.Resources)).Msg("template written")
	return nil
}

// buildTemplate assembles the plan and renders it, collecting failures in the result.
func buildTemplate(cmd *cobra.Command, a *app) tierstack.BuildResult {
	plan, err := a.assemble(cmd.Context())
	if err != nil {
		return tierstack.BuildResult{Errors: []string{err.Error()}}
	}
	tmpl, err := template.FromPlan(plan).Build()
	if err != nil {
		return tierstack.BuildResult{Errors: []string{err.Error()}}
	}

	names := make([]string, 0, len(tmpl.Resources))
	for name := range tmpl.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return tierstack.BuildResult{Success: true, Template: *tmpl, Resources: names}
}

func renderTemplate(tmpl *tierstack.Template, format string) ([]byte, error) {
	switch format {
	case "json":
		return template.ToJSON(tmpl)
	case "yaml":
		return template.ToYAML(tmpl)
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}
