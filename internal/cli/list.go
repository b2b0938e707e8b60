package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/layerline/provisor/internal/ledger"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List provision records from the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := ledger.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		recs, err := db.List()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROOTFS\tBACKEND\tSTATE\tLAYERS\tCREATED")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				r.Rootfs, r.Backend, r.State, len(r.Layers),
				r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
