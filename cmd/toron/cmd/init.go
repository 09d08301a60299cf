package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shawnbrown/toron"
)

var initColumns []string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a node database",
	Long: `Create a node database at the --data directory, optionally
declaring its index columns.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		if len(initColumns) > 0 {
			if err := n.AddIndexColumns(cmd.Context(), initColumns...); err != nil {
				return err
			}
		}

		id, err := n.UniqueID(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created node %s at %s\n", id, path)
		if len(initColumns) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Index columns: %s\n", strings.Join(initColumns, ", "))
		}
		return nil
	},
}

func init() {
	initCmd.Flags().StringSliceVar(&initColumns, "columns", nil,
		"index columns to declare, in order")
	rootCmd.AddCommand(initCmd)
}
