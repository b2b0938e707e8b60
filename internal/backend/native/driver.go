package native

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Driver is the protocol a native layering subsystem implements. The
// backend sequences these calls; a driver only has to make each one succeed
// or fail with a diagnostic.
//
// layers are always passed topmost-first: native subsystems resolve reads
// most-recent-layer-first at mount time.
type Driver interface {
	// Name identifies the driver in logs and errors.
	Name() string

	// Create allocates a new writable scratch layer at scratch, backed by
	// the given read-only parent layers.
	Create(ctx context.Context, scratch string, layers []string) error

	// Mount activates the composed view at rootfs.
	Mount(ctx context.Context, scratch, rootfs string, layers []string) error

	// Unmount deactivates the composed view belonging to scratch.
	Unmount(ctx context.Context, scratch string) error

	// Remove deletes a scratch or rootfs path and everything under it.
	Remove(ctx context.Context, path string) error
}

// ToolDriver drives an external layering helper binary. The helper exposes
// create/mount/unmount/remove subcommands mirroring the Driver protocol;
// its combined output is surfaced as the failure diagnostic.
type ToolDriver struct {
	// Bin is the helper binary, resolved via PATH if not absolute.
	Bin string
}

func (d *ToolDriver) Name() string { return "tool:" + d.Bin }

func (d *ToolDriver) run(ctx context.Context, args ...string) error {
	out, err := exec.CommandContext(ctx, d.Bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", d.Bin, args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *ToolDriver) Create(ctx context.Context, scratch string, layers []string) error {
	return d.run(ctx, append([]string{"create", scratch}, layers...)...)
}

func (d *ToolDriver) Mount(ctx context.Context, scratch, rootfs string, layers []string) error {
	return d.run(ctx, append([]string{"mount", scratch, rootfs}, layers...)...)
}

func (d *ToolDriver) Unmount(ctx context.Context, scratch string) error {
	return d.run(ctx, "unmount", scratch)
}

func (d *ToolDriver) Remove(ctx context.Context, path string) error {
	return d.run(ctx, "remove", path)
}
