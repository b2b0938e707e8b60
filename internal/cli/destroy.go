package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var destroyCmd = &cobra.Command{
	Use:   "destroy ROOTFS",
	Short: "Tear down a provisioned rootfs and its scratch state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, closer, err := openProvisioner()
		if err != nil {
			return err
		}
		defer closer()

		ok, err := p.Destroy(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "destroyed: %v\n", ok)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(destroyCmd)
}
