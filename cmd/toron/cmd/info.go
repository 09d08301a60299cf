package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/shawnbrown/toron"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a node summary",
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

		info, err := n.Info(cmd.Context())
		if err != nil {
			return err
		}

		printer := message.NewPrinter(language.English)
		printer.Fprintf(cmd.OutOrStdout(), "# %d index records, %d quantities\n",
			info.IndexCount, info.QuantityCount)

		var raw []byte
		if infoJSON {
			raw, err = json.MarshalIndent(info, "", "  ")
		} else {
			raw, err = yaml.Marshal(info)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "emit JSON instead of YAML")
	rootCmd.AddCommand(infoCmd)
}
