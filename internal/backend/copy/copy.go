// Package copy implements the portable provisioning backend: each layer is
// merged onto the rootfs by walking it for whiteout markers and overwrite
// hazards, bulk-copying the tree, then purging the copied markers.
package copy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/layerline/provisor/internal/backend"
	"github.com/layerline/provisor/internal/layer"
	"github.com/layerline/provisor/internal/promise"
	"github.com/layerline/provisor/internal/whiteout"
)

func init() {
	backend.Register("copy", New)
}

type copyBackend struct {
	lane *promise.Lane
}

// New returns a copy backend. It needs no scratch state, so the backend
// directory in cfg is unused.
func New(backend.Config) (backend.Backend, error) {
	return &copyBackend{lane: promise.NewLane()}, nil
}

func (b *copyBackend) Name() string { return "copy" }

func (b *copyBackend) Close() { b.lane.Close() }

func (b *copyBackend) Provision(ctx context.Context, stack layer.Stack, rootfs string) *promise.Promise[promise.Void] {
	return promise.Submit(b.lane, func() (promise.Void, error) {
		return promise.Void{}, b.provision(ctx, stack, rootfs)
	})
}

func (b *copyBackend) provision(ctx context.Context, stack layer.Stack, rootfs string) error {
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

	// Layers fold strictly in sequence: layer k+1 sees the rootfs state
	// layer k left behind.
	for _, layerDir := range stack.ApplyOrder() {
		slog.Debug("copying layer onto rootfs", "layer", layerDir, "rootfs", rootfs)
		if err := applyLayer(ctx, layerDir, rootfs); err != nil {
			return fmt.Errorf("apply layer %q: %w", layerDir, err)
		}
	}

	return nil
}

// applyLayer merges one layer onto destRoot: walk for whiteouts and
// overwrite hazards, execute the pre-copy removals, bulk-copy the tree,
// then delete the copied-over marker files.
func applyLayer(ctx context.Context, layerDir, destRoot string) error {
	// Destination paths of marker files to purge after the copy.
	var markers []string
	// Destination paths removed before the copy, in walk order.
	var removals []string

	err := filepath.WalkDir(layerDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("read %q: %w", path, walkErr)
		}
		if path == layerDir {
			return nil
		}

		rel, err := filepath.Rel(layerDir, path)
		if err != nil {
			return fmt.Errorf("relativize %q: %w", path, err)
		}
		destPath := filepath.Join(destRoot, rel)

		var removePath string

		// Whiteout markers are regular files by convention.
		if d.Type().IsRegular() {
			if c := whiteout.Classify(d.Name()); c.Kind != whiteout.None {
				// The marker itself lands in the rootfs during the bulk
				// copy; purge it afterwards.
				markers = append(markers, destPath)
				removePath = whiteout.RemovalTarget(destRoot, rel, c)
			}
		}

		// Overwrite hazards, independent of whiteout classification:
		//   - dir/non-dir mismatch: the old entry must go before the copy
		//     descends into or replaces it;
		//   - existing symlink: tar/cp would write through the link to its
		//     target instead of replacing the link, e.g. a stale
		//     /bad -> /usr/bin/python overwritten by a malicious /bad.
		if fi, err := os.Lstat(destPath); err == nil {
			if fi.IsDir() != d.IsDir() {
				removePath = destPath
			} else if fi.Mode()&fs.ModeSymlink != 0 {
				removePath = destPath
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %q: %w", destPath, err)
		}

		if removePath != "" {
			removals = append(removals, removePath)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// A target may already be gone: its parent directory could have been
	// removed by an earlier opaque or mismatch removal.
	for _, target := range removals {
		fi, err := os.Lstat(target)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("stat %q: %w", target, err)
		}
		if fi.IsDir() {
			if err := os.RemoveAll(target); err != nil {
				return fmt.Errorf("remove directory %q: %w", target, err)
			}
		} else {
			if err := os.Remove(target); err != nil {
				return fmt.Errorf("remove file %q: %w", target, err)
			}
		}
	}

	// An opaque marker at the layer root resolves to destRoot itself; the
	// removal above then takes the extraction directory with it.
	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return fmt.Errorf("recreate rootfs directory: %w", err)
	}

	if err := copyTree(ctx, layerDir, destRoot); err != nil {
		return err
	}

	for _, marker := range markers {
		if err := os.Remove(marker); err != nil {
			return fmt.Errorf("remove whiteout file %q: %w", marker, err)
		}
	}
	return nil
}

// copyTree bulk-copies the contents of src onto dst with a tar pipe
// (tar -C src -c . | tar -C dst -x), preserving permissions, ownership and
// symlinks. cp -a breaks symlinks on some platforms for busybox-style
// rootfs layouts, tar does not.
func copyTree(ctx context.Context, src, dst string) error {
	create := exec.CommandContext(ctx, "tar", "-C", src, "-cpf", "-", ".")
	extract := exec.CommandContext(ctx, "tar", "-C", dst, "-xpf", "-")

	var createDiag, extractDiag bytes.Buffer
	create.Stderr = &createDiag
	extract.Stderr = &extractDiag

	pipe, err := create.StdoutPipe()
	if err != nil {
		return fmt.Errorf("tar stdout pipe: %w", err)
	}
	extract.Stdin = pipe

	if err := create.Start(); err != nil {
		return fmt.Errorf("start tar create: %w", err)
	}
	if err := extract.Start(); err != nil {
		create.Process.Kill()
		create.Wait()
		return fmt.Errorf("start tar extract: %w", err)
	}

	createErr := create.Wait()
	extractErr := extract.Wait()
	if createErr != nil {
		return copyFailure("read layer tree", createErr, &createDiag)
	}
	if extractErr != nil {
		return copyFailure("write rootfs tree", extractErr, &extractDiag)
	}
	return nil
}

// copyFailure turns a tar exit into a diagnosable error. A nonzero exit
// carries the captured stderr; a process that terminated abnormally or was
// never reaped is reported as its own failure class.
func copyFailure(stage string, err error, diag *bytes.Buffer) error {
	var exit *exec.ExitError
	if errors.As(err, &exit) && exit.ExitCode() >= 0 {
		return fmt.Errorf("%s: tar exited %d: %s",
			stage, exit.ExitCode(), strings.TrimSpace(diag.String()))
	}
	return fmt.Errorf("%s: tar did not run to completion: %w", stage, err)
}

func (b *copyBackend) Destroy(ctx context.Context, rootfs string) *promise.Promise[bool] {
	return promise.Submit(b.lane, func() (bool, error) {
		return b.destroy(rootfs)
	})
}

func (b *copyBackend) destroy(rootfs string) (bool, error) {
	if _, err := os.Lstat(rootfs); errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%q: %w", rootfs, backend.ErrNotProvisioned)
	} else if err != nil {
		return false, fmt.Errorf("stat rootfs %q: %w", rootfs, err)
	}

	if err := os.RemoveAll(rootfs); err != nil {
		return false, fmt.Errorf("remove rootfs %q: %w", rootfs, err)
	}
	return true, nil
}
