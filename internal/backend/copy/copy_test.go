package copy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/layerline/provisor/internal/backend"
	"github.com/layerline/provisor/internal/layer"
)

func newTestBackend(t *testing.T) backend.Backend {
	t.Helper()
	b, err := New(backend.Config{})
	if err != nil {
		t.Fatalf("new copy backend: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

// makeLayer materializes the given relative-path → content map as a layer
// directory. A nil content marks a directory entry.
func makeLayer(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func provision(t *testing.T, b backend.Backend, rootfs string, layers ...string) error {
	t.Helper()
	ctx := context.Background()
	_, err := b.Provision(ctx, layer.FromBaseFirst(layers...), rootfs).Wait(ctx)
	return err
}

func mustProvision(t *testing.T, b backend.Backend, rootfs string, layers ...string) {
	t.Helper()
	if err := provision(t, b, rootfs, layers...); err != nil {
		t.Fatalf("provision: %v", err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestLastWriteWins(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"f.txt": "1", "only-a.txt": "a"})
	bb := makeLayer(t, map[string]string{"f.txt": "2", "only-b.txt": "b"})
	mustProvision(t, b, rootfs, a, bb)

	if got := readFile(t, filepath.Join(rootfs, "f.txt")); got != "2" {
		t.Errorf("f.txt = %q, want %q (later layer wins)", got, "2")
	}
	if got := readFile(t, filepath.Join(rootfs, "only-a.txt")); got != "a" {
		t.Errorf("only-a.txt = %q, want %q", got, "a")
	}
	if got := readFile(t, filepath.Join(rootfs, "only-b.txt")); got != "b" {
		t.Errorf("only-b.txt = %q, want %q", got, "b")
	}
}

func TestWhiteoutRemovesFile(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"a/b": "file"})
	bb := makeLayer(t, map[string]string{"a/.wh.b": ""})
	mustProvision(t, b, rootfs, a, bb)

	if _, err := os.Lstat(filepath.Join(rootfs, "a", "b")); !os.IsNotExist(err) {
		t.Error("a/b survived its whiteout")
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "a", ".wh.b")); !os.IsNotExist(err) {
		t.Error("whiteout marker persisted in rootfs")
	}
	if fi, err := os.Stat(filepath.Join(rootfs, "a")); err != nil || !fi.IsDir() {
		t.Error("directory a should survive")
	}
}

func TestWhiteoutRemovesDirectory(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"d/x": "1", "d/sub/y": "2"})
	bb := makeLayer(t, map[string]string{".wh.d": ""})
	mustProvision(t, b, rootfs, a, bb)

	if _, err := os.Lstat(filepath.Join(rootfs, "d")); !os.IsNotExist(err) {
		t.Error("whited-out directory d survived")
	}
	if _, err := os.Lstat(filepath.Join(rootfs, ".wh.d")); !os.IsNotExist(err) {
		t.Error("whiteout marker persisted in rootfs")
	}
}

func TestOpaqueDirectory(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"dir/x": "1", "dir/y": "1"})
	bb := makeLayer(t, map[string]string{"dir/.wh..wh..opq": ""})
	mustProvision(t, b, rootfs, a, bb)

	entries, err := os.ReadDir(filepath.Join(rootfs, "dir"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("dir should be empty after opaque marker, got %v", names)
	}
}

func TestOpaqueAtLayerRoot(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	// A root-level opaque marker discards everything the earlier layers
	// put in the rootfs, leaving only the marking layer's own contents.
	a := makeLayer(t, map[string]string{"old.txt": "1", "sub/x": "2"})
	bb := makeLayer(t, map[string]string{".wh..wh..opq": "", "new.txt": "3"})
	mustProvision(t, b, rootfs, a, bb)

	entries, err := os.ReadDir(rootfs)
	if err != nil {
		t.Fatalf("read rootfs: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "new.txt" {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("rootfs entries = %v, want [new.txt]", names)
	}
	if got := readFile(t, filepath.Join(rootfs, "new.txt")); got != "3" {
		t.Errorf("new.txt = %q, want %q", got, "3")
	}
}

func TestOpaqueKeepsOwnLayerContents(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"dir/old": "1"})
	bb := makeLayer(t, map[string]string{"dir/.wh..wh..opq": "", "dir/new": "2"})
	mustProvision(t, b, rootfs, a, bb)

	if _, err := os.Lstat(filepath.Join(rootfs, "dir", "old")); !os.IsNotExist(err) {
		t.Error("entry from earlier layer survived opaque marker")
	}
	if got := readFile(t, filepath.Join(rootfs, "dir", "new")); got != "2" {
		t.Errorf("dir/new = %q, want %q", got, "2")
	}
}

func TestFileReplacedByDirectory(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"p": "i am a file"})
	bb := makeLayer(t, map[string]string{"p/child": "now a dir"})
	mustProvision(t, b, rootfs, a, bb)

	if got := readFile(t, filepath.Join(rootfs, "p", "child")); got != "now a dir" {
		t.Errorf("p/child = %q", got)
	}
}

func TestDirectoryReplacedByFile(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	a := makeLayer(t, map[string]string{"p/child": "dir contents"})
	bb := makeLayer(t, map[string]string{"p": "now a file"})
	mustProvision(t, b, rootfs, a, bb)

	if got := readFile(t, filepath.Join(rootfs, "p")); got != "now a file" {
		t.Errorf("p = %q", got)
	}
}

func TestSymlinkNotWrittenThrough(t *testing.T) {
	b := newTestBackend(t)
	victim := t.TempDir()
	if err := os.WriteFile(filepath.Join(victim, "target"), []byte("precious"), 0644); err != nil {
		t.Fatal(err)
	}

	// Base layer plants a symlink pointing outside the rootfs; the next
	// layer supersedes it with a regular file. The copy must replace the
	// link, not follow it.
	a := t.TempDir()
	if err := os.Symlink(filepath.Join(victim, "target"), filepath.Join(a, "bad")); err != nil {
		t.Fatal(err)
	}
	bb := makeLayer(t, map[string]string{"bad": "overwritten"})

	rootfs := filepath.Join(t.TempDir(), "rootfs")
	mustProvision(t, b, rootfs, a, bb)

	if got := readFile(t, filepath.Join(victim, "target")); got != "precious" {
		t.Errorf("symlink target clobbered: %q", got)
	}
	fi, err := os.Lstat(filepath.Join(rootfs, "bad"))
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		t.Error("bad is still a symlink")
	}
	if got := readFile(t, filepath.Join(rootfs, "bad")); got != "overwritten" {
		t.Errorf("bad = %q", got)
	}
}

func TestSymlinkReplacedByDirectory(t *testing.T) {
	b := newTestBackend(t)
	victim := t.TempDir()

	a := t.TempDir()
	if err := os.Symlink(victim, filepath.Join(a, "bad")); err != nil {
		t.Fatal(err)
	}
	// Opaque marker inside a directory that shadows the stale symlink:
	// the link must be dropped before the walk descends, otherwise the
	// opaque removal would fire through the link at the victim.
	bb := makeLayer(t, map[string]string{"bad/bin/.wh..wh..opq": ""})

	rootfs := filepath.Join(t.TempDir(), "rootfs")
	mustProvision(t, b, rootfs, a, bb)

	if fi, err := os.Lstat(filepath.Join(rootfs, "bad")); err != nil || !fi.IsDir() {
		t.Errorf("bad should be a real directory: fi=%v err=%v", fi, err)
	}
	if _, err := os.Stat(victim); err != nil {
		t.Errorf("victim dir harmed: %v", err)
	}
}

func TestSymlinksPreserved(t *testing.T) {
	b := newTestBackend(t)
	a := makeLayer(t, map[string]string{"hello.txt": "world"})
	if err := os.Symlink("hello.txt", filepath.Join(a, "link")); err != nil {
		t.Fatal(err)
	}

	rootfs := filepath.Join(t.TempDir(), "rootfs")
	mustProvision(t, b, rootfs, a)

	target, err := os.Readlink(filepath.Join(rootfs, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "hello.txt" {
		t.Errorf("link target = %q, want hello.txt", target)
	}
}

func TestProvisionEmptyStack(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	err := provision(t, b, rootfs)
	if !errors.Is(err, backend.ErrNoLayers) {
		t.Fatalf("err = %v, want ErrNoLayers", err)
	}
	if _, err := os.Stat(rootfs); !os.IsNotExist(err) {
		t.Error("rootfs dir created despite config error")
	}
}

func TestProvisionExistingRootfs(t *testing.T) {
	b := newTestBackend(t)
	rootfs := t.TempDir()
	if err := os.WriteFile(filepath.Join(rootfs, "keep.txt"), []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	a := makeLayer(t, map[string]string{"f": "1"})
	err := provision(t, b, rootfs, a)
	if !errors.Is(err, backend.ErrRootfsExists) {
		t.Fatalf("err = %v, want ErrRootfsExists", err)
	}

	// Existing contents untouched, nothing merged in.
	if got := readFile(t, filepath.Join(rootfs, "keep.txt")); got != "keep" {
		t.Errorf("pre-existing file modified: %q", got)
	}
	if _, err := os.Lstat(filepath.Join(rootfs, "f")); !os.IsNotExist(err) {
		t.Error("layer contents leaked into pre-existing rootfs")
	}
}

func TestCopyFailureCarriesTarDiagnostics(t *testing.T) {
	src := makeLayer(t, map[string]string{"f": "1"})
	// The extraction directory is missing, so the extract side exits
	// nonzero with a diagnostic on stderr.
	dst := filepath.Join(t.TempDir(), "missing", "rootfs")

	err := copyTree(context.Background(), src, dst)
	if err == nil {
		t.Fatal("copy into a missing directory should fail")
	}
	if !strings.Contains(err.Error(), "write rootfs tree") {
		t.Errorf("error does not name the failing stage: %v", err)
	}
	if !strings.Contains(err.Error(), "tar exited") {
		t.Errorf("nonzero exit not reported as such: %v", err)
	}
	// The captured stderr rides along after the exit status.
	if !strings.Contains(err.Error(), "tar:") {
		t.Errorf("tar diagnostics missing from error: %v", err)
	}
}

func TestCopyFailureAbnormalTermination(t *testing.T) {
	// A tar process that never ran to completion (killed, wait failed) has
	// no exit status to report; it gets its own failure class.
	err := copyFailure("write rootfs tree", errors.New("signal: killed"), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "did not run to completion") {
		t.Errorf("abnormal termination misreported: %v", err)
	}
	if strings.Contains(err.Error(), "tar exited") {
		t.Errorf("abnormal termination reported as exit status: %v", err)
	}
}

func TestDestroy(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")
	mustProvision(t, b, rootfs, makeLayer(t, map[string]string{"f": "1"}))

	ok, err := b.Destroy(context.Background(), rootfs).Wait(context.Background())
	if err != nil || !ok {
		t.Fatalf("destroy = (%v, %v), want (true, nil)", ok, err)
	}
	if _, err := os.Stat(rootfs); !os.IsNotExist(err) {
		t.Error("rootfs still exists after destroy")
	}

	// A second destroy reports not-found, not silent success.
	if _, err := b.Destroy(context.Background(), rootfs).Wait(context.Background()); !errors.Is(err, backend.ErrNotProvisioned) {
		t.Errorf("second destroy err = %v, want ErrNotProvisioned", err)
	}
}

func TestDestroyNeverProvisioned(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Destroy(context.Background(), filepath.Join(t.TempDir(), "nope")).Wait(context.Background())
	if !errors.Is(err, backend.ErrNotProvisioned) {
		t.Fatalf("err = %v, want ErrNotProvisioned", err)
	}
}

func TestTopmostFirstInputNormalized(t *testing.T) {
	b := newTestBackend(t)
	rootfs := filepath.Join(t.TempDir(), "rootfs")

	base := makeLayer(t, map[string]string{"f.txt": "base"})
	top := makeLayer(t, map[string]string{"f.txt": "top"})

	// Same layers handed over in overlay order: the merge still applies
	// base-first, so the topmost layer's copy wins.
	_, err := b.Provision(context.Background(), layer.FromTopmostFirst(top, base), rootfs).Wait(context.Background())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if got := readFile(t, filepath.Join(rootfs, "f.txt")); got != "top" {
		t.Errorf("f.txt = %q, want %q", got, "top")
	}
}
