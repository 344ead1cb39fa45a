package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "noticeboard",
		Short:        "Notice board API backed by SQLite and Redis",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml when present)")

	root.AddCommand(
		newServeCmd(&configFile),
		newMigrateCmd(&configFile),
		newSyncViewsCmd(&configFile),
		newUsersCmd(&configFile),
	)
	return root
}
