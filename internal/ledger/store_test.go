package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"playrunaddict/internal/ledger"
	"playrunaddict/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	decision, record, err := store.Admit(ctx, "file-1", "rev-1", "Morning Mix")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision != ledger.Admitted {
		t.Fatalf("expected admission, got %s", decision)
	}
	if record == nil || record.ID == 0 {
		t.Fatal("expected record with assigned ID")
	}
	if record.State != ledger.StateRunning {
		t.Fatalf("expected running state, got %s", record.State)
	}
	if record.LastHeartbeat == nil {
		t.Fatal("expected initial heartbeat to be set")
	}

	fetched, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || fetched.Name != "Morning Mix" {
		t.Fatalf("unexpected fetched record: %#v", fetched)
	}
}

func TestAdmitRequiresIdentifiers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	if _, _, err := store.Admit(ctx, "", "rev-1", ""); err == nil {
		t.Fatal("expected error when file id missing")
	}
	if _, _, err := store.Admit(ctx, "file-1", "", ""); err == nil {
		t.Fatal("expected error when revision id missing")
	}
}

func TestAdmitWhileRunningReportsInProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	testsupport.AdmitRunning(t, store, "file-1", "rev-1", "Playlist")

	decision, record, err := store.Admit(ctx, "file-1", "rev-1", "Playlist")
	if err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}
	if decision != ledger.InProgress {
		t.Fatalf("expected in_progress, got %s", decision)
	}
	if record != nil {
		t.Fatalf("expected nil record for in_progress, got %#v", record)
	}

	// A newer revision is also blocked while any run for the file is active.
	decision, _, err = store.Admit(ctx, "file-1", "rev-2", "Playlist")
	if err != nil {
		t.Fatalf("Admit newer revision failed: %v", err)
	}
	if decision != ledger.InProgress {
		t.Fatalf("expected in_progress for newer revision, got %s", decision)
	}
}

func TestAdmitAfterDoneReportsAlreadyProcessed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	testsupport.AdmitRunning(t, store, "file-1", "rev-1", "Playlist")
	if err := store.Complete(ctx, "file-1", "rev-1", ledger.StateDone, "", ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	decision, _, err := store.Admit(ctx, "file-1", "rev-1", "Playlist")
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if decision != ledger.AlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", decision)
	}

	// A new revision of the same file starts a fresh run.
	decision, record, err := store.Admit(ctx, "file-1", "rev-2", "Playlist")
	if err != nil {
		t.Fatalf("Admit new revision failed: %v", err)
	}
	if decision != ledger.Admitted {
		t.Fatalf("expected admission for new revision, got %s", decision)
	}
	if record == nil {
		t.Fatal("expected record for admitted revision")
	}
}

func TestFailedRevisionIsReadmissible(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	testsupport.AdmitRunning(t, store, "file-1", "rev-1", "Playlist")
	if err := store.Complete(ctx, "file-1", "rev-1", ledger.StateFailed, "encode_error", "ffmpeg exited 1"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	decision, record, err := store.Admit(ctx, "file-1", "rev-1", "Playlist")
	if err != nil {
		t.Fatalf("Admit after failure failed: %v", err)
	}
	if decision != ledger.Admitted {
		t.Fatalf("expected re-admission after failure, got %s", decision)
	}
	if record == nil || record.State != ledger.StateRunning {
		t.Fatalf("unexpected record after re-admission: %#v", record)
	}
}

func TestConcurrentAdmissionAdmitsExactlyOne(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	const attempts = 8

	var wg sync.WaitGroup
	decisions := make([]ledger.Decision, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			decisions[slot], _, errs[slot] = store.Admit(ctx, "file-race", "rev-1", "Playlist")
		}(i)
	}
	wg.Wait()

	admitted := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("Admit %d failed: %v", i, errs[i])
		}
		switch decisions[i] {
		case ledger.Admitted:
			admitted++
		case ledger.InProgress:
		default:
			t.Fatalf("unexpected decision %s", decisions[i])
		}
	}
	if admitted != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted)
	}

	running, err := store.List(ctx, ledger.StateRunning)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("expected one running record, got %d", len(running))
	}
}

func TestCompleteRecordsErrorTaxonomy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	record := testsupport.AdmitRunning(t, store, "file-1", "rev-1", "Playlist")
	if err := store.Complete(ctx, "file-1", "rev-1", ledger.StateFailed, "segment_fetch_error", "segment 3 returned 404"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.State != ledger.StateFailed {
		t.Fatalf("expected failed state, got %s", fetched.State)
	}
	if fetched.ErrorKind != "segment_fetch_error" {
		t.Fatalf("unexpected error kind %q", fetched.ErrorKind)
	}
	if fetched.ErrorMessage != "segment 3 returned 404" {
		t.Fatalf("unexpected error message %q", fetched.ErrorMessage)
	}
	if fetched.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
	if fetched.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared on completion")
	}
}

func TestCompleteWithoutRunningRecordFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	if err := store.Complete(context.Background(), "file-1", "rev-1", ledger.StateDone, "", ""); err == nil {
		t.Fatal("expected error when no running record exists")
	}
}

func TestUpdatePersistsRunFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	record := testsupport.AdmitRunning(t, store, "file-1", "rev-1", "Playlist")
	record.Stage = ledger.StageAssembling
	record.RunID = "run-123"
	record.DeclaredDurationSeconds = 1800
	record.MeasuredDurationSeconds = 1200.5
	record.RemoteFileID = "drive-out-1"
	if err := store.Update(ctx, record); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	fetched, err := store.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched.Stage != ledger.StageAssembling {
		t.Fatalf("unexpected stage %q", fetched.Stage)
	}
	if fetched.RunID != "run-123" {
		t.Fatalf("unexpected run id %q", fetched.RunID)
	}
	if fetched.DeclaredDurationSeconds != 1800 || fetched.MeasuredDurationSeconds != 1200.5 {
		t.Fatalf("unexpected durations: %#v", fetched)
	}
	if fetched.RemoteFileID != "drive-out-1" {
		t.Fatalf("unexpected remote file id %q", fetched.RemoteFileID)
	}
}

func TestHeartbeatAndReclaim(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	stale := testsupport.AdmitRunning(t, store, "file-stale", "rev-1", "Stale")
	fresh := testsupport.AdmitRunning(t, store, "file-fresh", "rev-1", "Fresh")

	// Push the fresh record's heartbeat past the cutoff.
	time.Sleep(10 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(10 * time.Millisecond)
	if err := store.Heartbeat(ctx, fresh.ID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	reclaimed, err := store.ReclaimAbandoned(ctx, cutoff)
	if err != nil {
		t.Fatalf("ReclaimAbandoned failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected one reclaimed record, got %d", reclaimed)
	}

	staleAfter, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetByID stale failed: %v", err)
	}
	if staleAfter.State != ledger.StateAbandoned {
		t.Fatalf("expected abandoned state, got %s", staleAfter.State)
	}

	freshAfter, err := store.GetByID(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetByID fresh failed: %v", err)
	}
	if freshAfter.State != ledger.StateRunning {
		t.Fatalf("expected fresh record still running, got %s", freshAfter.State)
	}

	// The abandoned revision can start over.
	decision, _, err := store.Admit(ctx, "file-stale", "rev-1", "Stale")
	if err != nil {
		t.Fatalf("Admit after reclaim failed: %v", err)
	}
	if decision != ledger.Admitted {
		t.Fatalf("expected re-admission after reclaim, got %s", decision)
	}
}

func TestLastCompleted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	if record, err := store.LastCompleted(ctx, "file-1"); err != nil || record != nil {
		t.Fatalf("expected no completed record, got %#v err %v", record, err)
	}

	for i := 1; i <= 2; i++ {
		rev := fmt.Sprintf("rev-%d", i)
		testsupport.AdmitRunning(t, store, "file-1", rev, "Playlist")
		if err := store.Complete(ctx, "file-1", rev, ledger.StateDone, "", ""); err != nil {
			t.Fatalf("Complete %s failed: %v", rev, err)
		}
	}

	record, err := store.LastCompleted(ctx, "file-1")
	if err != nil {
		t.Fatalf("LastCompleted failed: %v", err)
	}
	if record == nil || record.RevisionID != "rev-2" {
		t.Fatalf("expected most recent completion, got %#v", record)
	}
}

func TestHealthAggregatesStates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	testsupport.AdmitRunning(t, store, "file-1", "rev-1", "A")
	testsupport.AdmitRunning(t, store, "file-2", "rev-1", "B")
	if err := store.Complete(ctx, "file-2", "rev-1", ledger.StateDone, "", ""); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	testsupport.AdmitRunning(t, store, "file-3", "rev-1", "C")
	if err := store.Complete(ctx, "file-3", "rev-1", ledger.StateFailed, "timeout", "deadline exceeded"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 3 || health.Running != 1 || health.Done != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestClearState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	ctx := context.Background()
	testsupport.AdmitRunning(t, store, "file-1", "rev-1", "A")
	if err := store.Complete(ctx, "file-1", "rev-1", ledger.StateFailed, "encode_error", "boom"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	testsupport.AdmitRunning(t, store, "file-2", "rev-1", "B")

	removed, err := store.ClearState(ctx, ledger.StateFailed)
	if err != nil {
		t.Fatalf("ClearState failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed record, got %d", removed)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].FileID != "file-2" {
		t.Fatalf("unexpected remaining records: %#v", remaining)
	}
}
