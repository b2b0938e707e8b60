package cli

import (
	"fmt"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/spf13/cobra"

	"github.com/layerline/provisor/internal/image"
)

var pullCmd = &cobra.Command{
	Use:   "pull IMAGE",
	Short: "Pull an image and materialize its layers into the layer store",
	Long: `Pull an OCI image and extract each of its layers into the configured layer
store. Prints the layer directories base-first, ready to hand to provision.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		platform := v1.Platform{OS: cfg.PullOS, Architecture: cfg.PullArch}
		result, err := image.Pull(cmd.Context(), args[0], platform)
		if err != nil {
			return err
		}

		store := image.NewStore(cfg.LayersDir)
		dirs, err := store.Materialize(cmd.Context(), result.Image)
		if err != nil {
			return err
		}

		for _, dir := range dirs {
			fmt.Fprintln(cmd.OutOrStdout(), dir)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)
}
