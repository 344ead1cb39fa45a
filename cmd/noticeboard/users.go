package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUsersCmd(configFile *string) *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage notice authors",
	}
	users.AddCommand(&cobra.Command{
		Use:   "create <username>",
		Short: "Create an author and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configFile)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			u, err := a.service().CreateUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", u.ID, u.Username)
			return nil
		},
	})
	return users
}
