package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shawnbrown/toron"
	"github.com/shawnbrown/toron/pkg/node"
)

var crosswalkCmd = &cobra.Command{
	Use:   "crosswalk",
	Short: "Inspect and manage crosswalks",
}

var crosswalkStatsCmd = &cobra.Command{
	Use:   "stats SOURCE",
	Short: "Show mapping coverage for crosswalks from a source node",
	Long: `Show relation counts and coverage for every crosswalk coming
from the node identified by SOURCE (a unique id, an id prefix, or a
filename hint).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		return n.View(cmd.Context(), func(tx node.Tx) error {
			crosswalks, err := node.FindCrosswalksByRef(tx, args[0])
			if err != nil {
				return err
			}
			if len(crosswalks) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No crosswalks match %q\n", args[0])
				return nil
			}
			for _, crosswalk := range crosswalks {
				stats, err := node.CrosswalkStatistics(tx, crosswalk.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (from %s)\n",
					crosswalk.Name, crosswalk.OtherUniqueID)
				if stats.IsDefault {
					fmt.Fprintln(cmd.OutOrStdout(), "  default: yes")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  relations: %d (%d ambiguous)\n",
					stats.Relations, stats.Ambiguous)
				fmt.Fprintf(cmd.OutOrStdout(), "  local records mapped: %d, unmapped: %d\n",
					stats.MappedLocal, stats.UnmappedLocal)
				fmt.Fprintf(cmd.OutOrStdout(), "  source records covered: %d\n",
					stats.OtherIndexCount)
				fmt.Fprintf(cmd.OutOrStdout(), "  locally complete: %v\n",
					stats.IsLocallyComplete)
			}
			return nil
		})
	},
}

func init() {
	crosswalkCmd.AddCommand(crosswalkStatsCmd)
	rootCmd.AddCommand(crosswalkCmd)
}
