package cmd

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shawnbrown/toron"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

var (
	loadWeightGroup string
	loadValueColumn string
	loadOnConflict  string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load data from CSV files",
}

var loadIndexCmd = &cobra.Command{
	Use:   "index FILE",
	Short: "Load index records",
	Long: `Load index records from a CSV file. The header row must list
the node's index columns in order; each remaining row becomes one
index record.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		header, rows, err := readCSV(args[0])
		if err != nil {
			return err
		}

		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		columns, err := n.Columns(cmd.Context())
		if err != nil {
			return err
		}
		if !sameStrings(header, columns) {
			return errors.NewValidationError("header", header,
				fmt.Sprintf("header must match index columns %v", columns))
		}

		stats, err := n.InsertIndex(cmd.Context(), rows)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Inserted %d records (%d duplicate, %d empty, %d wrong width skipped)\n",
			stats.Inserted, stats.SkippedDupe, stats.SkippedEmpty, stats.SkippedWidth)
		return nil
	},
}

var loadWeightsCmd = &cobra.Command{
	Use:   "weights FILE",
	Short: "Load weights into a group",
	Long: `Load weights from a CSV file into the --group weight group,
creating the group when it does not exist. Label columns identify the
index record; the --value column holds the weight.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		if loadWeightGroup == "" {
			return errors.NewValidationError("group", loadWeightGroup, "a group name is required")
		}
		policy, err := node.ParseConflictPolicy(loadOnConflict)
		if err != nil {
			return err
		}
		header, rows, err := readCSV(args[0])
		if err != nil {
			return err
		}
		valueCol := indexOfString(header, loadValueColumn)
		if valueCol < 0 {
			return errors.NewValidationError("value-column", loadValueColumn,
				"column not present in CSV header")
		}

		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		var stats *node.ResolveWeightsStats
		err = n.Update(cmd.Context(), func(tx node.Tx) error {
			group, err := tx.WeightGroups().GetByName(loadWeightGroup)
			if errors.IsNotFound(err) {
				group, err = node.AddWeightGroup(tx, loadWeightGroup, nil)
			}
			if err != nil {
				return err
			}

			inputs := make([]node.WeightInput, 0, len(rows))
			for _, row := range rows {
				value, convErr := strconv.ParseFloat(row[valueCol], 64)
				if convErr != nil {
					value = -1 // counted as skipped
				}
				labels := make(map[string]string)
				for i, col := range header {
					if i != valueCol {
						labels[col] = row[i]
					}
				}
				inputs = append(inputs, node.WeightInput{Labels: labels, Value: value})
			}
			stats, err = node.AddOrResolveWeights(tx, group.ID, inputs, policy)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Inserted %d weights (%d overwritten, %d summed, %d unmatched, %d duplicate, %d bad value skipped)\n",
			stats.Inserted, stats.Overwritten, stats.Summed,
			stats.SkippedNoMatch, stats.SkippedDupe, stats.SkippedValue)
		return nil
	},
}

var loadQuantitiesCmd = &cobra.Command{
	Use:   "quantities FILE",
	Short: "Load located quantities",
	Long: `Load quantities from a CSV file. Index columns locate each
value ("" leaves a column unpopulated); the --value column holds the
quantity; every other column becomes an attribute.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		header, rows, err := readCSV(args[0])
		if err != nil {
			return err
		}
		valueCol := indexOfString(header, loadValueColumn)
		if valueCol < 0 {
			return errors.NewValidationError("value-column", loadValueColumn,
				"column not present in CSV header")
		}

		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		columns, err := n.Columns(cmd.Context())
		if err != nil {
			return err
		}
		positions := make(map[string]int, len(header))
		for i, col := range header {
			positions[col] = i
		}
		for _, col := range columns {
			if _, ok := positions[col]; !ok {
				return errors.NewValidationError("header", header,
					fmt.Sprintf("missing index column %q", col))
			}
		}

		inputs := make([]node.QuantityInput, 0, len(rows))
		for _, row := range rows {
			location := make([]string, len(columns))
			for i, col := range columns {
				location[i] = row[positions[col]]
			}
			attrs := make(map[string]string)
			for i, col := range header {
				if i == valueCol || indexOfString(columns, col) >= 0 {
					continue
				}
				if row[i] != "" {
					attrs[col] = row[i]
				}
			}
			input := node.QuantityInput{Location: location, Attributes: attrs}
			if value, convErr := strconv.ParseFloat(row[valueCol], 64); convErr == nil {
				input.Value = &value
			}
			inputs = append(inputs, input)
		}

		stats, err := n.InsertQuantities(cmd.Context(), inputs)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Inserted %d quantities (%d empty attrs, %d bad value, %d wrong width skipped)\n",
			stats.Inserted, stats.SkippedEmptyAttrs, stats.SkippedValue, stats.SkippedWidth)
		return nil
	},
}

func readCSV(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WrapIO("open", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, errors.WrapIO("read", path, err)
	}
	if len(records) == 0 {
		return nil, nil, errors.NewValidationError("file", path, "empty CSV file")
	}
	return records[0], records[1:], nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOfString(list []string, s string) int {
	for i, item := range list {
		if item == s {
			return i
		}
	}
	return -1
}

func init() {
	loadCmd.PersistentFlags().StringVar(&loadValueColumn, "value-column", "value",
		"CSV column holding the numeric value")
	loadWeightsCmd.Flags().StringVar(&loadWeightGroup, "group", "",
		"weight group to load into")
	loadWeightsCmd.Flags().StringVar(&loadOnConflict, "on-conflict", "skip",
		"what to do when a record is already weighted: abort, skip, overwrite, or sum")
	loadCmd.AddCommand(loadIndexCmd)
	loadCmd.AddCommand(loadWeightsCmd)
	loadCmd.AddCommand(loadQuantitiesCmd)
	rootCmd.AddCommand(loadCmd)
}
