package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chaos-orm/internal/instrument"
	"chaos-orm/internal/metadata"
	"chaos-orm/internal/store"
)

func newMigrateCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and columns for the schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if dryRun {
				return renderSchema(cmd, cfg, cfg.Database.Driver)
			}
			s, reg, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return migrate(cmd.Context(), s, reg, cfg.Instrumentation.Enabled)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the CREATE TABLE statements instead of running them")
	return cmd
}

func migrate(ctx context.Context, s *store.Store, reg *metadata.Registry, events bool) error {
	m := store.NewMigrator(s)
	if err := m.MigrateAll(ctx, reg); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if events {
		if err := m.Migrate(ctx, instrument.EventsEntity()); err != nil {
			return fmt.Errorf("migrate events: %w", err)
		}
	}
	return nil
}
