package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sage/internal/app"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			return app.New(cfg, logger).MigrationService().MigrateDSN(cfg.DatabaseDSN())
		},
	}
}
