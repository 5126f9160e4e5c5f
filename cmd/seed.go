package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"timesheets/database"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default admin account if it is missing",
	Args:  cobra.NoArgs,
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer a.close()

	created, err := database.SeedDefaultAdmin(cmd.Context(), a.store, a.log)
	if err != nil {
		return err
	}
	if !created {
		fmt.Fprintln(cmd.OutOrStdout(), "admin user already exists")
	}
	return nil
}
