package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := rootOpts.logger()
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			ctx := context.Background()
			repo, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := migrate(ctx, repo); err != nil {
				return err
			}
			logger.Info("database migrations applied", "driver", cfg.StoreDriver)
			return nil
		},
	}
}
