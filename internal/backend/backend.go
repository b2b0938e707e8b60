// Package backend defines the rootfs provisioning contract and the registry
// of composition strategies. A backend turns an ordered layer stack into a
// populated rootfs directory and later tears it down, serializing all work
// for one instance on a single lane.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/layerline/provisor/internal/layer"
	"github.com/layerline/provisor/internal/promise"
)

// Sentinel errors for the failure classes callers branch on.
var (
	// ErrNoLayers is returned when provisioning is attempted with an
	// empty layer stack. Detected before any I/O.
	ErrNoLayers = errors.New("no filesystem layers provided")

	// ErrRootfsExists is returned when the rootfs path already exists.
	// The existing contents are left untouched.
	ErrRootfsExists = errors.New("rootfs is already provisioned")

	// ErrNotProvisioned is returned by Destroy for a rootfs that does not
	// exist (never provisioned, or already destroyed).
	ErrNotProvisioned = errors.New("rootfs is not provisioned")
)

// Backend composes image layers into a rootfs and destroys it again.
//
// Calls against one Backend instance execute in submission order on a
// dedicated lane; a single rootfs lifecycle is never re-entered
// concurrently. Instances for different containers are fully independent.
type Backend interface {
	// Name reports the registered backend name.
	Name() string

	// Provision composes the stack into a new directory at rootfs.
	// The stack must be non-empty and rootfs must not exist. On failure no
	// guarantee is made about partial state beyond "safe to pass to
	// Destroy". ctx bounds the work's subprocesses; cancelling it kills
	// any step still running or queued.
	Provision(ctx context.Context, stack layer.Stack, rootfs string) *promise.Promise[promise.Void]

	// Destroy removes rootfs and any backend scratch state keyed off it.
	// A missing rootfs fails with ErrNotProvisioned; a partially
	// provisioned rootfs is still destroyable.
	Destroy(ctx context.Context, rootfs string) *promise.Promise[bool]

	// Close stops the backend's lane. In-flight work finishes first.
	Close()
}

// Config carries the construction-time parameters shared by all backends.
type Config struct {
	// BackendDir is the scratch-space root for backend-internal state.
	BackendDir string

	// LayerTool is the path of the external layering helper used by the
	// "tool" backend. Unused by the others.
	LayerTool string
}

// Factory builds a backend instance from its configuration.
type Factory func(Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. It panics on a duplicate
// registration; backends register from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("backend: Register called twice for %q", name))
	}
	registry[name] = f
}

// New constructs the backend registered under name.
func New(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (known: %v)", name, Names())
	}
	return f(cfg)
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
