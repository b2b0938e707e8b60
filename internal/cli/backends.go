package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layerline/provisor/internal/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the registered composition backends",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range backend.Names() {
			marker := " "
			if name == cfg.Backend {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
		}
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
