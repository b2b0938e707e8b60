package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/layerline/provisor/internal/layer"
)

var (
	provisionRootfs  string
	provisionBackend string
	topmostFirst     bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision --rootfs DIR LAYER...",
	Short: "Compose image layers into a new rootfs directory",
	Long: `Compose the given layer directories into a new rootfs at --rootfs.

Layers are given base-first by default; pass --topmost-first when the list is
in overlay order (most recent layer first).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := provisionBackend
		if name == "" {
			name = cfg.Backend
		}

		var stack layer.Stack
		if topmostFirst {
			stack = layer.FromTopmostFirst(args...)
		} else {
			stack = layer.FromBaseFirst(args...)
		}

		p, closer, err := openProvisioner()
		if err != nil {
			return err
		}
		defer closer()

		if err := p.Provision(cmd.Context(), name, stack, provisionRootfs); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), provisionRootfs)
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionRootfs, "rootfs", "", "destination rootfs directory (must not exist)")
	provisionCmd.Flags().StringVar(&provisionBackend, "backend", "", "composition backend (default: configured backend)")
	provisionCmd.Flags().BoolVar(&topmostFirst, "topmost-first", false, "layer arguments are in overlay order")
	provisionCmd.MarkFlagRequired("rootfs")
	rootCmd.AddCommand(provisionCmd)
}
