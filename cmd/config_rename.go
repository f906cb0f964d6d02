package cmd

import (
	"fmt"

	"github.com/brogergvhs/coverd/internal/config"

	"github.com/spf13/cobra"
)

var configRenameCmd = &cobra.Command{
	Use:     "rename <label> <new-label>",
	Aliases: []string{"mv"},
	Short:   "Rename a gallery profile. The Default profile keeps its name",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to := args[0], args[1]

		active, _ := config.CurrentLabel()
		if err := config.RenameConfig(from, to); err != nil {
			return fmt.Errorf("renaming profile %q: %w", from, err)
		}

		fmt.Printf("Profile %q is now %q.\n", from, to)
		if active == from {
			fmt.Println("It stays the active profile for grid and search.")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configRenameCmd)
}
