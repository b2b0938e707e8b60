// Package provisioner ties the backends and the ledger together: it routes
// each provision to a named backend, records the outcome, and routes a later
// destroy to whichever backend provisioned that rootfs.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/layerline/provisor/internal/backend"
	"github.com/layerline/provisor/internal/config"
	"github.com/layerline/provisor/internal/layer"
	"github.com/layerline/provisor/internal/ledger"
)

// Provisioner owns one backend instance per configured strategy and the
// provision ledger.
type Provisioner struct {
	cfg *config.Config
	db  *ledger.DB

	mu       sync.Mutex
	backends map[string]backend.Backend
}

// New creates a provisioner. The ledger db stays owned by the caller.
func New(cfg *config.Config, db *ledger.DB) *Provisioner {
	return &Provisioner{
		cfg:      cfg,
		db:       db,
		backends: make(map[string]backend.Backend),
	}
}

// Close stops all backend lanes.
func (p *Provisioner) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.backends {
		b.Close()
	}
	p.backends = make(map[string]backend.Backend)
}

// backendFor returns the singleton instance for a backend name,
// constructing it on first use. One instance per name keeps all work for a
// strategy on one serial lane.
func (p *Provisioner) backendFor(name string) (backend.Backend, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.backends[name]; ok {
		return b, nil
	}
	b, err := backend.New(name, backend.Config{
		BackendDir: p.cfg.BackendDir,
		LayerTool:  p.cfg.LayerTool,
	})
	if err != nil {
		return nil, err
	}
	p.backends[name] = b
	return b, nil
}

// Provision composes the stack into rootfs with the named backend and
// records the outcome. A failed provision is recorded too: its partial
// state still needs a routed destroy.
func (p *Provisioner) Provision(ctx context.Context, backendName string, stack layer.Stack, rootfs string) error {
	b, err := p.backendFor(backendName)
	if err != nil {
		return err
	}

	slog.Info("provisioning rootfs", "backend", backendName, "rootfs", rootfs, "layers", stack.Len())
	_, provErr := b.Provision(ctx, stack, rootfs).Wait(ctx)

	state := ledger.StateProvisioned
	if provErr != nil {
		state = ledger.StateFailed
	}
	rec := &ledger.Record{
		Rootfs:  rootfs,
		Backend: backendName,
		Layers:  stack.ApplyOrder(),
		State:   state,
	}
	if err := p.db.Save(rec); err != nil {
		if provErr != nil {
			return provErr
		}
		return fmt.Errorf("record provision: %w", err)
	}
	return provErr
}

// Destroy tears down rootfs with the backend that provisioned it. Without a
// ledger record the configured default backend is used; the backend's own
// not-found check keeps the result honest.
func (p *Provisioner) Destroy(ctx context.Context, rootfs string) (bool, error) {
	backendName := p.cfg.Backend
	rec, err := p.db.Get(rootfs)
	switch {
	case err == nil:
		backendName = rec.Backend
	case errors.Is(err, ledger.ErrNotFound):
		slog.Warn("no provision record, using default backend", "rootfs", rootfs, "backend", backendName)
	default:
		return false, err
	}

	b, err := p.backendFor(backendName)
	if err != nil {
		return false, err
	}

	slog.Info("destroying rootfs", "backend", backendName, "rootfs", rootfs)
	ok, destroyErr := b.Destroy(ctx, rootfs).Wait(ctx)
	if destroyErr == nil && rec != nil {
		if err := p.db.SetState(rootfs, ledger.StateDestroyed); err != nil {
			slog.Warn("record destroy", "rootfs", rootfs, "error", err)
		}
	}
	return ok, destroyErr
}
