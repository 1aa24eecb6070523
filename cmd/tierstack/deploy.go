package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/provision"
	"github.com/lex00/tierstack-go/internal/topology"
)

var errInjected = errors.New("injected failure")

type deployOptions struct {
	format      string
	failOn      []string
	concurrency int
	teardown    bool
}

func newDeployCmd() *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Apply the plan to the in-memory backend",
		Long: `Deploy composes the stack and applies it to an in-memory provisioning backend.

Resources are created level by level. A resource whose references were not
created is skipped. Outputs are printed when every resource they reference was
created; a failed deploy prints the status of each resource.

Examples:
    tierstack deploy
    tierstack deploy --fail Database              # simulate a database failure
    tierstack deploy --fail NATGateway --teardown # roll back what was created
    tierstack deploy --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			return runDeploy(cmd, a, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringSliceVar(&opts.failOn, "fail", nil, "Resources whose creation should fail")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Maximum concurrent creations per level (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.teardown, "teardown", false, "Delete created resources if the deploy fails")

	return cmd
}

func runDeploy(cmd *cobra.Command, a *app, opts deployOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plan, err := a.assemble(ctx)
	if err != nil {
		// Nothing was provisioned and no outputs exist.
		return err
	}

	backend := provision.NewMemoryBackend(a.cfg.Region, a.log)
	backend.Concurrency = opts.concurrency
	for _, name := range opts.failOn {
		id := graph.ID(name)
		if _, ok := plan.Graph.Node(id); !ok {
			return fmt.Errorf("--fail %s: no such resource", name)
		}
		backend.FailOn[id] = errInjected
	}

	deployment, deployErr := topology.Deploy(ctx, plan, backend)
	if deployment == nil {
		return deployErr
	}
	result := deployment.Result(deployErr)

	if deployErr != nil && opts.teardown {
		deleted, err := backend.Teardown(ctx, deployment.Report)
		if err != nil {
			a.log.Error().Err(err).Msg("teardown incomplete")
		}
		a.log.Info().Int("deleted", len(deleted)).Msg("rolled back")
	}

	if err := outputDeployResult(cmd.OutOrStdout(), result, opts.format); err != nil {
		return err
	}
	if deployErr != nil {
		return fmt.Errorf("deploy failed: %d of %d resources created", len(deployment.Report.Created()), plan.Graph.Len())
	}
	return nil
}

func outputDeployResult(w io.Writer, result tierstack.DeployResult, format string) error {
	return writeResult(w, format, result, func(w io.Writer) {
		if result.Success {
			fmt.Fprintf(w, "Deployment %s: %d resources created\n", result.DeploymentID, len(result.Resources))
		} else {
			fmt.Fprintf(w, "Deployment %s FAILED:\n", result.DeploymentID)
			for _, res := range result.Resources {
				switch res.Status {
				case tierstack.StatusFailed:
					fmt.Fprintf(w, "  %-32s %s: %s\n", res.Name, res.Status, res.Error)
				case tierstack.StatusCreated:
				default:
					fmt.Fprintf(w, "  %-32s %s\n", res.Name, res.Status)
				}
			}
			for _, e := range result.Errors {
				fmt.Fprintf(w, "  ERROR: %s\n", e)
			}
		}

		if len(result.Outputs) == 0 {
			return
		}
		names := make([]string, 0, len(result.Outputs))
		for name := range result.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "\nOutputs:")
		for _, name := range names {
			fmt.Fprintf(w, "  %s = %s\n", name, result.Outputs[name])
		}
	})
}
