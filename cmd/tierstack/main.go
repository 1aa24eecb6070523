// Command tierstack composes a three-tier AWS web stack and renders, validates or
// simulates it.
//
// Usage:
//
//	tierstack build                 Generate the CloudFormation template
//	tierstack plan                  Show the creation order
//	tierstack deploy                Apply the plan to the in-memory backend
//	tierstack health web=10.0.1.5   Track routing health of live targets
//	tierstack version               Show version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tierstack",
		Short: "Compose a three-tier AWS web stack",
		Long: `tierstack composes a VPC, a public load balancer, a pool of web servers and
an isolated database into one ordered resource graph.

Inputs come from defaults, an optional YAML file (--config), TIERSTACK_*
environment variables and flags, in increasing order of precedence:

    TIERSTACK_ZONES=3 tierstack build --instances 6 --format yaml`,
		SilenceUsage: true,
	}

	addConfigFlags(rootCmd)

	rootCmd.AddCommand(
		newBuildCmd(),
		newPlanCmd(),
		newGraphCmd(),
		newListCmd(),
		newValidateCmd(),
		newDeployCmd(),
		newDiffCmd(),
		newWatchCmd(),
		newHealthCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tierstack %s\n", getVersion())
		},
	}
}
