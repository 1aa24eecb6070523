package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lex00/tierstack-go/internal/config"
	"github.com/lex00/tierstack-go/internal/logging"
	"github.com/lex00/tierstack-go/internal/topology"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	configFile string
	cfg        *config.Config
	log        zerolog.Logger
}

func addConfigFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "YAML configuration file")
	config.RegisterFlags(cmd.PersistentFlags())
}

// setup loads configuration for cmd and builds the logger.
func setup(cmd *cobra.Command) (*app, error) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.LoadOptions{File: file, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
		Fields: map[string]string{"stack": cfg.Stack, "region": cfg.Region},
	})
	if err != nil {
		return nil, err
	}
	return &app{configFile: file, cfg: cfg, log: logger}, nil
}

// assemble converts the configuration and composes the plan.
func (a *app) assemble(ctx context.Context) (*topology.Plan, error) {
	in, err := a.cfg.Topology()
	if err != nil {
		return nil, err
	}
	resolver, err := a.cfg.Resolver(ctx)
	if err != nil {
		return nil, fmt.Errorf("image resolver: %w", err)
	}
	plan, err := topology.Assemble(ctx, in, resolver)
	if err != nil {
		return nil, err
	}
	a.log.Debug().Int("resources", plan.Graph.Len()).Int("levels", len(plan.Levels())).Msg("plan assembled")
	return plan, nil
}
