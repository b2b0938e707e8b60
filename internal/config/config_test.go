package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Backend != "copy" {
		t.Errorf("default backend = %q, want copy", cfg.Backend)
	}
	if cfg.BackendDir == "" || cfg.LayersDir == "" || cfg.DBPath == "" {
		t.Errorf("default paths not populated: %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisor.yaml")
	content := "backend: overlay\nbackend_dir: /var/lib/provisor/backend\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "overlay" {
		t.Errorf("backend = %q, want overlay", cfg.Backend)
	}
	if cfg.BackendDir != "/var/lib/provisor/backend" {
		t.Errorf("backend_dir = %q", cfg.BackendDir)
	}
	// Unset keys keep their defaults.
	if cfg.PullOS != "linux" {
		t.Errorf("pull_os = %q, want linux", cfg.PullOS)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROVISOR_BACKEND", "tool")
	t.Setenv("PROVISOR_LAYER_TOOL", "/usr/local/bin/wclayer")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != "tool" {
		t.Errorf("backend = %q, want tool", cfg.Backend)
	}
	if cfg.LayerTool != "/usr/local/bin/wclayer" {
		t.Errorf("layer_tool = %q", cfg.LayerTool)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnsureDirs(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{
		DataDir:    filepath.Join(base, "data"),
		BackendDir: filepath.Join(base, "data", "backend"),
		LayersDir:  filepath.Join(base, "data", "layers"),
		RootfsDir:  filepath.Join(base, "data", "rootfs"),
	}
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, dir := range []string{cfg.DataDir, cfg.BackendDir, cfg.LayersDir, cfg.RootfsDir} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Errorf("dir %s not created", dir)
		}
	}
}
