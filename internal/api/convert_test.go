package api

import (
	"testing"
	"time"

	"playrunaddict/internal/ledger"
)

func TestFromRecordFormatsTimestamps(t *testing.T) {
	started := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	completed := started.Add(5 * time.Minute)
	record := &ledger.Record{
		ID:           7,
		FileID:       "file-1",
		RevisionID:   "rev-2",
		Name:         "mix.m3u",
		State:        ledger.StateDone,
		Stage:        ledger.StageCleaningUp,
		RemoteFileID: "out-1",
		StartedAt:    started,
		CompletedAt:  &completed,
	}

	view := FromRecord(record)
	if view.State != "done" || view.FileID != "file-1" {
		t.Fatalf("unexpected view: %#v", view)
	}
	if view.StartedAt != "2026-03-14T09:30:00.000Z" {
		t.Fatalf("unexpected started timestamp %q", view.StartedAt)
	}
	if view.CompletedAt != "2026-03-14T09:35:00.000Z" {
		t.Fatalf("unexpected completed timestamp %q", view.CompletedAt)
	}
}

func TestFromRecordHandlesOpenRun(t *testing.T) {
	record := &ledger.Record{
		ID:     3,
		FileID: "file-1",
		State:  ledger.StateRunning,
		Stage:  ledger.StageAssembling,
	}
	view := FromRecord(record)
	if view.CompletedAt != "" {
		t.Fatalf("running record must not carry completion time, got %q", view.CompletedAt)
	}
	if view.Stage != "assembling" {
		t.Fatalf("unexpected stage %q", view.Stage)
	}
}

func TestFromRecordsNilInput(t *testing.T) {
	if out := FromRecords(nil); out != nil {
		t.Fatalf("expected nil for empty input, got %#v", out)
	}
}
