package cmd

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shawnbrown/toron"
	"github.com/shawnbrown/toron/pkg/disagg"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

var (
	disaggAdaptive   bool
	disaggMatchAttrs []string
)

var disaggCmd = &cobra.Command{
	Use:   "disagg",
	Short: "Disaggregate quantities to index level",
	Long: `Disaggregate every stored quantity down to individual index
records, splitting coarse values across matching records using stored
weights. With --adaptive, finer-grained results already produced are
preferred over static weights.`,
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

		var values []disagg.Value
		err = n.View(cmd.Context(), func(tx node.Tx) error {
			if disaggAdaptive {
				values, err = disagg.Adaptive(tx, disaggMatchAttrs)
			} else {
				values, err = disagg.Static(tx)
			}
			return err
		})
		if err != nil {
			return err
		}
		return writeValueCSV(cmd, values)
	},
}

// writeValueCSV renders disaggregated values as CSV on stdout with
// label columns, then attribute columns, then the value.
func writeValueCSV(cmd *cobra.Command, values []disagg.Value) error {
	attrNames := map[string]bool{}
	var columns []string
	for _, v := range values {
		if len(v.Labels) > len(columns) {
			columns = v.Labels
		}
		for name := range v.Attributes {
			attrNames[name] = true
		}
	}
	attrs := make([]string, 0, len(attrNames))
	for name := range attrNames {
		attrs = append(attrs, name)
	}
	sort.Strings(attrs)

	w := csv.NewWriter(cmd.OutOrStdout())
	header := append(append([]string{}, columns...), attrs...)
	header = append(header, "value")
	if err := w.Write(header); err != nil {
		return errors.WrapIO("write", "stdout", err)
	}
	for _, v := range values {
		row := make([]string, 0, len(header))
		row = append(row, v.Labels...)
		for len(row) < len(columns) {
			row = append(row, "")
		}
		for _, name := range attrs {
			row = append(row, v.Attributes[name])
		}
		row = append(row, strconv.FormatFloat(v.Value, 'f', -1, 64))
		if err := w.Write(row); err != nil {
			return errors.WrapIO("write", "stdout", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.WrapIO("write", "stdout", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", len(values))
	return nil
}

func init() {
	disaggCmd.Flags().BoolVar(&disaggAdaptive, "adaptive", false,
		"prefer finer-grained results over static weights")
	disaggCmd.Flags().StringSliceVar(&disaggMatchAttrs, "match-attrs", nil,
		"attributes that must agree when matching finer results (default: all)")
	rootCmd.AddCommand(disaggCmd)
}
