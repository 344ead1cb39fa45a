package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncViewsCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-views",
		Short: "Flush pending view counts from Redis into the database once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(*configFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if a.cfg.Redis.Addr == "" {
				return fmt.Errorf("sync-views needs redis.addr: in-process counters live only inside serve")
			}
			if err := a.connectCache(cmd.Context()); err != nil {
				return err
			}
			res, err := a.viewSync().Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d views across %d notices (%d dropped)\n", res.Views, res.Notices, res.Dropped)
			return nil
		},
	}
}
