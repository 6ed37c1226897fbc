// Package cli wires the chaos command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chaos-orm/internal/config"
	"chaos-orm/internal/conventions"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/store"
)

type configKey struct{}

// NewRootCmd creates the chaos command and its subcommands.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "chaos",
		Short: "chaos - SQL builder and relationship engine",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("schema") {
				cfg.Schema.Path, _ = cmd.Flags().GetString("schema")
			}
			slog.SetDefault(config.NewLogger(cfg.Log))
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chaos.yaml)")
	root.PersistentFlags().String("schema", "", "entity schema file (default: schema.path)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newRenderCommand())
	root.AddCommand(newTokenCommand())
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

func configFrom(cmd *cobra.Command) *config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

// loadRegistry loads the entity schema named by the configuration.
func loadRegistry(cfg *config.Config) (*metadata.Registry, error) {
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(cfg.Schema.Path, reg, conventions.New()); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return reg, nil
}

// open connects to the configured database and loads the schema.
func open(ctx context.Context, cfg *config.Config) (*store.Store, *metadata.Registry, error) {
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	slog.InfoContext(ctx, "database connected", "driver", s.Dialect.Name(), "entities", len(reg.AllEntities()))
	return s, reg, nil
}
