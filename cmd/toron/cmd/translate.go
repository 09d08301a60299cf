package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shawnbrown/toron"
	"github.com/shawnbrown/toron/pkg/disagg"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

var translateQuantize bool

var translateCmd = &cobra.Command{
	Use:   "translate SOURCE FILE",
	Short: "Translate values from another node's index space",
	Long: `Translate values indexed against another node into this node's
index space, using the crosswalk from SOURCE. SOURCE may be the other
node's unique id, its filename, or a unique id prefix of at least
seven characters.

The CSV file needs an "index_id" column holding the other node's index
ids and a value column; remaining columns become attributes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		header, csvRows, err := readCSV(args[1])
		if err != nil {
			return err
		}
		idCol := indexOfString(header, "index_id")
		if idCol < 0 {
			return errors.NewValidationError("header", header, `missing "index_id" column`)
		}
		valueCol := indexOfString(header, loadValueColumn)
		if valueCol < 0 {
			return errors.NewValidationError("value-column", loadValueColumn,
				"column not present in CSV header")
		}

		rows := make([]disagg.IncomingValue, 0, len(csvRows))
		for _, row := range csvRows {
			id, err := strconv.ParseUint(row[idCol], 10, 64)
			if err != nil {
				return errors.NewValidationError("index_id", row[idCol], "not a valid index id")
			}
			value, err := strconv.ParseFloat(row[valueCol], 64)
			if err != nil {
				return errors.NewValidationError("value", row[valueCol], "not a valid number")
			}
			attrs := make(map[string]string)
			for i, col := range header {
				if i == idCol || i == valueCol || row[i] == "" {
					continue
				}
				attrs[col] = row[i]
			}
			rows = append(rows, disagg.IncomingValue{
				OtherIndexID: id,
				Attributes:   attrs,
				Value:        value,
			})
		}

		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		var values []disagg.Value
		err = n.View(cmd.Context(), func(tx node.Tx) error {
			values, err = disagg.Translate(tx, args[0], rows,
				&disagg.TranslateOptions{Quantize: translateQuantize})
			return err
		})
		if err != nil {
			return err
		}
		return writeValueCSV(cmd, values)
	},
}

func init() {
	translateCmd.Flags().BoolVar(&translateQuantize, "quantize", false,
		"keep whole-valued inputs whole across the translation")
	translateCmd.Flags().StringVar(&loadValueColumn, "value-column", "value",
		"CSV column holding the numeric value")
	rootCmd.AddCommand(translateCmd)
}
