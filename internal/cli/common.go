package cli

import (
	"github.com/layerline/provisor/internal/ledger"
	"github.com/layerline/provisor/internal/provisioner"
)

// openProvisioner builds a provisioner over the configured ledger. The
// returned closer shuts down both.
func openProvisioner() (*provisioner.Provisioner, func(), error) {
	db, err := ledger.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	p := provisioner.New(cfg, db)
	return p, func() {
		p.Close()
		db.Close()
	}, nil
}
