package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/shawnbrown/toron"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the node as a YAML document",
	Long: `Write the node's full state (index, weights, quantities,
crosswalks) as a YAML document to --output or standard output.`,
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

		doc, err := n.Export(cmd.Context())
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(doc)
		if err != nil {
			return err
		}

		if exportOutput == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		if err := os.WriteFile(exportOutput, out, 0o644); err != nil {
			return errors.WrapIO("write", exportOutput, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", exportOutput)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load a YAML node document",
	Long: `Load a YAML document produced by export into the --data node.
The node must not have index columns yet.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := nodePath()
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return errors.WrapIO("read", args[0], err)
		}
		var doc node.ExportDocument
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return errors.NewValidationError("file", args[0], err.Error())
		}

		n, err := toron.Open(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer n.Close()

		if err := n.Import(cmd.Context(), &doc); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(),
			"Imported node %s: %d index records, %d weight groups, %d quantities, %d crosswalks\n",
			doc.UniqueID, len(doc.Index), len(doc.WeightGroups),
			len(doc.Quantities), len(doc.Crosswalks))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "",
		"file to write instead of standard output")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
