// Package native implements the provisioning backend that composes layers
// through a native layering subsystem (overlayfs, or an external layering
// tool) instead of copying bytes.
//
// The one piece of state spanning provision and destroy is the scratch
// directory, keyed off the rootfs basename under the backend directory; no
// separate record is kept, so destroy rederives the same key.
package native

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/layerline/provisor/internal/backend"
	"github.com/layerline/provisor/internal/layer"
	"github.com/layerline/provisor/internal/promise"
)

func init() {
	backend.Register("overlay", func(cfg backend.Config) (backend.Backend, error) {
		d, err := newOverlayDriver()
		if err != nil {
			return nil, err
		}
		return NewWithDriver(d, cfg), nil
	})
	backend.Register("tool", func(cfg backend.Config) (backend.Backend, error) {
		if cfg.LayerTool == "" {
			return nil, errors.New("tool backend requires a layer tool binary")
		}
		return NewWithDriver(&ToolDriver{Bin: cfg.LayerTool}, cfg), nil
	})
}

type nativeBackend struct {
	lane       *promise.Lane
	driver     Driver
	backendDir string
}

// NewWithDriver wraps a Driver in the backend contract: serialization,
// scratch-state derivation, and the provision/destroy call sequences.
func NewWithDriver(d Driver, cfg backend.Config) backend.Backend {
	return &nativeBackend{
		lane:       promise.NewLane(),
		driver:     d,
		backendDir: cfg.BackendDir,
	}
}

func (b *nativeBackend) Name() string { return b.driver.Name() }

func (b *nativeBackend) Close() { b.lane.Close() }

// scratchDir derives the scratch key for a rootfs. Deterministic: destroy
// must locate the same directory from the rootfs path alone.
func (b *nativeBackend) scratchDir(rootfs string) string {
	return filepath.Join(b.backendDir, "scratch", filepath.Base(rootfs))
}

func (b *nativeBackend) Provision(ctx context.Context, stack layer.Stack, rootfs string) *promise.Promise[promise.Void] {
	return promise.Submit(b.lane, func() (promise.Void, error) {
		return promise.Void{}, b.provision(ctx, stack, rootfs)
	})
}

func (b *nativeBackend) provision(ctx context.Context, stack layer.Stack, rootfs string) error {
	if stack.Len() == 0 {
		return backend.ErrNoLayers
	}

	if _, err := os.Lstat(rootfs); err == nil {
		return fmt.Errorf("%q: %w", rootfs, backend.ErrRootfsExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat rootfs %q: %w", rootfs, err)
	}

	if err := os.MkdirAll(rootfs, 0755); err != nil {
		return fmt.Errorf("create rootfs directory: %w", err)
	}

	scratch := b.scratchDir(rootfs)
	layers := stack.MountOrder()

	slog.Debug("provisioning rootfs", "driver", b.driver.Name(),
		"rootfs", rootfs, "scratch", scratch, "layers", len(layers))

	// A failure in either step propagates as-is; partial scratch state is
	// reclaimed by a later Destroy, not here.
	if err := b.driver.Create(ctx, scratch, layers); err != nil {
		return fmt.Errorf("create scratch layer %q: %w", scratch, err)
	}
	if err := b.driver.Mount(ctx, scratch, rootfs, layers); err != nil {
		return fmt.Errorf("mount rootfs %q: %w", rootfs, err)
	}
	return nil
}

func (b *nativeBackend) Destroy(ctx context.Context, rootfs string) *promise.Promise[bool] {
	return promise.Submit(b.lane, func() (bool, error) {
		return b.destroy(ctx, rootfs)
	})
}

func (b *nativeBackend) destroy(ctx context.Context, rootfs string) (bool, error) {
	scratch := b.scratchDir(rootfs)

	rootfsExists, err := exists(rootfs)
	if err != nil {
		return false, err
	}
	scratchExists, err := exists(scratch)
	if err != nil {
		return false, err
	}
	if !rootfsExists && !scratchExists {
		return false, fmt.Errorf("%q: %w", rootfs, backend.ErrNotProvisioned)
	}

	// Best-effort: a partially failed provision may have left no active
	// mount. The reason is kept for diagnostics but must not stop the
	// directory removals below.
	if err := b.driver.Unmount(ctx, scratch); err != nil {
		slog.Warn("unmount failed during destroy, continuing",
			"driver", b.driver.Name(), "scratch", scratch, "error", err)
	}

	// Removal failures are fatal: orphaned directories leak disk and
	// collide with a future provision of the same container identity.
	if scratchExists {
		if err := b.driver.Remove(ctx, scratch); err != nil {
			return false, fmt.Errorf("remove scratch %q: %w", scratch, err)
		}
	}
	if rootfsExists {
		if err := b.driver.Remove(ctx, rootfs); err != nil {
			return false, fmt.Errorf("remove rootfs %q: %w", rootfs, err)
		}
	}
	return true, nil
}

func exists(path string) (bool, error) {
	if _, err := os.Lstat(path); err == nil {
		return true, nil
	} else if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else {
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
}
