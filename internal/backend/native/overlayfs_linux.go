//go:build linux

package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// overlayDriver composes layers with the kernel overlay filesystem. The
// scratch directory holds the upper (writable) and work directories; the
// read-only layers become lowerdir entries, topmost-first, which is the
// precedence order overlayfs resolves lookups in.
type overlayDriver struct{}

func newOverlayDriver() (Driver, error) {
	return overlayDriver{}, nil
}

func (overlayDriver) Name() string { return "overlay" }

func (overlayDriver) Create(ctx context.Context, scratch string, layers []string) error {
	for _, sub := range []string{"upper", "work"} {
		if err := os.MkdirAll(filepath.Join(scratch, sub), 0755); err != nil {
			return fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return nil
}

func (overlayDriver) Mount(ctx context.Context, scratch, rootfs string, layers []string) error {
	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(layers, ":"),
		filepath.Join(scratch, "upper"),
		filepath.Join(scratch, "work"))

	if err := unix.Mount("overlay", rootfs, "overlay", 0, opts); err != nil {
		return fmt.Errorf("mount overlay at %q (%s): %w", rootfs, opts, err)
	}

	// Unmount is keyed by the scratch directory, so remember where the
	// mount went.
	target := filepath.Join(scratch, "mountpoint")
	if err := os.WriteFile(target, []byte(rootfs), 0644); err != nil {
		unix.Unmount(rootfs, 0)
		return fmt.Errorf("record mountpoint: %w", err)
	}
	return nil
}

func (overlayDriver) Unmount(ctx context.Context, scratch string) error {
	data, err := os.ReadFile(filepath.Join(scratch, "mountpoint"))
	if err != nil {
		return fmt.Errorf("read mountpoint record: %w", err)
	}
	target := strings.TrimSpace(string(data))
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %q: %w", target, err)
	}
	return nil
}

func (overlayDriver) Remove(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}
