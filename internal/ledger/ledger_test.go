package ledger

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGet(t *testing.T) {
	db := openTestDB(t)

	rec := &Record{
		Rootfs:  "/run/rootfs/ctr-1",
		Backend: "copy",
		Layers:  []string{"/layers/base", "/layers/app"},
		State:   StateProvisioned,
	}
	if err := db.Save(rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := db.Get("/run/rootfs/ctr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Backend != "copy" || got.State != StateProvisioned {
		t.Errorf("got %+v", got)
	}
	if !reflect.DeepEqual(got.Layers, rec.Layers) {
		t.Errorf("layers = %v, want %v", got.Layers, rec.Layers)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestGetMissing(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Get("/nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSetState(t *testing.T) {
	db := openTestDB(t)
	rec := &Record{Rootfs: "/run/rootfs/ctr-2", Backend: "overlay", State: StateProvisioned}
	if err := db.Save(rec); err != nil {
		t.Fatal(err)
	}

	if err := db.SetState("/run/rootfs/ctr-2", StateDestroyed); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, err := db.Get("/run/rootfs/ctr-2")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != StateDestroyed {
		t.Errorf("state = %q, want destroyed", got.State)
	}

	if err := db.SetState("/nope", StateDestroyed); !errors.Is(err, ErrNotFound) {
		t.Errorf("set state on missing = %v, want ErrNotFound", err)
	}
}

func TestSaveUpsert(t *testing.T) {
	db := openTestDB(t)
	rec := &Record{Rootfs: "/r", Backend: "copy", State: StateFailed}
	if err := db.Save(rec); err != nil {
		t.Fatal(err)
	}
	rec.State = StateProvisioned
	rec.Backend = "overlay"
	if err := db.Save(rec); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get("/r")
	if err != nil {
		t.Fatal(err)
	}
	if got.Backend != "overlay" || got.State != StateProvisioned {
		t.Errorf("upsert result %+v", got)
	}

	recs, err := db.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("len(List()) = %d, want 1", len(recs))
	}
}
