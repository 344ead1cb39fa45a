package main

import (
	"database/sql"
	"fmt"

	"noticeboard/config"
	"noticeboard/notice/infra"
	"noticeboard/notice/infra/migrations"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if err := infra.Migrate(cfg.DB.Path); err != nil {
				return err
			}

			sqlDB, err := sql.Open("sqlite", infra.SQLiteDSN(cfg.DB.Path))
			if err != nil {
				return err
			}
			// Version fecha sqlDB.
			version, dirty, err := migrations.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%v)\n", version, dirty)
			return nil
		},
	}
}
