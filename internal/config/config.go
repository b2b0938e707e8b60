// Package config holds provisor runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds provisor runtime configuration.
type Config struct {
	// DataDir is the base directory for provisor runtime data.
	DataDir string `mapstructure:"data_dir"`

	// BackendDir is the scratch-space root handed to backends.
	BackendDir string `mapstructure:"backend_dir"`

	// LayersDir is the directory for materialized image layers.
	LayersDir string `mapstructure:"layers_dir"`

	// RootfsDir is the default parent directory for provisioned rootfs trees.
	RootfsDir string `mapstructure:"rootfs_dir"`

	// DBPath is the path to the SQLite provision ledger.
	DBPath string `mapstructure:"db_path"`

	// Backend selects the default composition strategy ("copy", "overlay",
	// "tool").
	Backend string `mapstructure:"backend"`

	// LayerTool is the external layering helper for the "tool" backend.
	LayerTool string `mapstructure:"layer_tool"`

	// PullOS and PullArch select the image platform for pulls.
	PullOS   string `mapstructure:"pull_os"`
	PullArch string `mapstructure:"pull_arch"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		DataDir:    dataDir,
		BackendDir: filepath.Join(dataDir, "backend"),
		LayersDir:  filepath.Join(dataDir, "layers"),
		RootfsDir:  filepath.Join(dataDir, "rootfs"),
		DBPath:     filepath.Join(dataDir, "provisor.db"),
		Backend:    "copy",
		PullOS:     "linux",
		PullArch:   runtime.GOARCH,
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".provisor")
	}
	return filepath.Join(os.TempDir(), "provisor")
}

// Load layers an optional config file and PROVISOR_* environment variables
// over the defaults. An empty path means "no config file".
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("backend_dir", defaults.BackendDir)
	v.SetDefault("layers_dir", defaults.LayersDir)
	v.SetDefault("rootfs_dir", defaults.RootfsDir)
	v.SetDefault("db_path", defaults.DBPath)
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("layer_tool", defaults.LayerTool)
	v.SetDefault("pull_os", defaults.PullOS)
	v.SetDefault("pull_arch", defaults.PullArch)

	v.SetEnvPrefix("PROVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// EnsureDirs creates the directories provisor expects to exist.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.BackendDir, c.LayersDir, c.RootfsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
