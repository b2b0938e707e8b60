package image

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	gzip "github.com/klauspost/compress/gzip"
)

// Store materializes each image layer into its own digest-keyed directory.
// Store layout: {dir}/sha256_{layerDigest}/ — one extracted layer delta.
//
// Whiteout marker files are extracted verbatim: materialized layers are
// provisioner input, and resolving whiteouts is the merge's job, not the
// extraction's. Applying them here would break opaque-directory semantics
// for any layer stacked above.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates a layer store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Materialize extracts every layer of img into the store and returns the
// layer directories in base-first order. Layers already present (by digest)
// are reused.
func (s *Store) Materialize(ctx context.Context, img v1.Image) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	dirs := make([]string, 0, len(layers))
	for i, l := range layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir, err := s.materializeLayer(l)
		if err != nil {
			return nil, fmt.Errorf("materialize layer %d: %w", i, err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

func (s *Store) materializeLayer(l v1.Layer) (string, error) {
	digest, err := l.Digest()
	if err != nil {
		return "", fmt.Errorf("get layer digest: %w", err)
	}

	dir := filepath.Join(s.dir, digestToDirName(digest.String()))
	if _, err := os.Stat(dir); err == nil {
		slog.Debug("layer cache hit", "digest", digest.String())
		return dir, nil
	}

	slog.Debug("extracting layer", "digest", digest.String())
	tmpDir := dir + ".tmp"
	os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	if err := extractLayer(l, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", err
	}

	// Atomic rename: a crash mid-extraction never leaves a half layer
	// under the final name.
	if err := os.Rename(tmpDir, dir); err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("rename layer dir: %w", err)
	}
	return dir, nil
}

// extractLayer unpacks one layer tarball into destDir.
// Uses Compressed() + klauspost/gzip instead of layer.Uncompressed(),
// which uses stdlib compress/gzip (~50MB/s); klauspost is 3-5x faster.
func extractLayer(l v1.Layer, destDir string) error {
	rc, err := l.Compressed()
	if err != nil {
		return fmt.Errorf("get compressed layer: %w", err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		// Clean the path and ensure it stays within destDir
		cleanName := filepath.Clean(filepath.FromSlash(hdr.Name))
		if cleanName == "." || strings.HasPrefix(cleanName, "..") {
			continue // skip path traversal
		}
		target := filepath.Join(destDir, cleanName)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("mkdir %s: %w", cleanName, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("create %s: %w", cleanName, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", cleanName, err)
			}
			f.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			os.Remove(target) // remove existing if any
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("symlink %s -> %s: %w", cleanName, hdr.Linkname, err)
			}
		case tar.TypeLink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			linkTarget := filepath.Join(destDir, filepath.Clean(filepath.FromSlash(hdr.Linkname)))
			os.Remove(target)
			if err := os.Link(linkTarget, target); err != nil {
				return fmt.Errorf("hardlink %s -> %s: %w", cleanName, hdr.Linkname, err)
			}
		}
	}

	return nil
}

// digestToDirName converts a digest like "sha256:abc123" to "sha256_abc123".
func digestToDirName(digest string) string {
	return strings.Replace(digest, ":", "_", 1)
}
