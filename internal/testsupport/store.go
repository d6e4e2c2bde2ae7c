package testsupport

import (
	"context"
	"testing"

	"playrunaddict/internal/config"
	"playrunaddict/internal/ledger"
)

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// AdmitRunning admits a (file, revision) pair and fails the test unless the
// admission decision is Admitted.
func AdmitRunning(t testing.TB, store *ledger.Store, fileID, revisionID, name string) *ledger.Record {
	t.Helper()

	decision, record, err := store.Admit(context.Background(), fileID, revisionID, name)
	if err != nil {
		t.Fatalf("store.Admit: %v", err)
	}
	if decision != ledger.Admitted {
		t.Fatalf("expected admission, got %s", decision)
	}
	return record
}
