// Package cli implements the provisor command tree.
package cli

import (
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/layerline/provisor/internal/config"

	// Register the provisioning backends.
	_ "github.com/layerline/provisor/internal/backend/copy"
	_ "github.com/layerline/provisor/internal/backend/native"
)

var (
	cfgFile string
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "provisor",
	Short: "Container rootfs provisioning from image layers",
	Long: `provisor composes ordered, immutable image layers into container root
filesystems, resolving whiteout deletion markers, and tears them down again.

Composition strategies are pluggable: a portable copy-based merge, the kernel
overlay filesystem, or an external layering tool.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := charmlog.InfoLevel
		if verbose {
			level = charmlog.DebugLevel
		}
		handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			Level:           level,
			ReportTimestamp: true,
		})
		slog.SetDefault(slog.New(handler))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		return cfg.EnsureDirs()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	if v != "" {
		rootCmd.Version = v
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + PROVISOR_* env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
