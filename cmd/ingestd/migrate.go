package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ingest/internal/storage"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations (creates ingest_log)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := storage.New(ctx, a.cfg.StorageConfig())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.log.Info("migrations applied", "store", a.cfg.Store.Kind)
			return nil
		},
	}
}
