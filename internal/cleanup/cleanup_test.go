package cleanup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"playrunaddict/internal/cleanup"
	"playrunaddict/internal/testsupport"
)

type fakeRemote struct {
	mu        sync.Mutex
	failFirst int
	calls     map[string]int
	deleted   []string
}

func newFakeRemote(failFirst int) *fakeRemote {
	return &fakeRemote{failFirst: failFirst, calls: make(map[string]int)}
}

func (r *fakeRemote) Delete(ctx context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[fileID]++
	if r.calls[fileID] <= r.failFirst {
		return errors.New("rate limited")
	}
	r.deleted = append(r.deleted, fileID)
	return nil
}

func TestReleaseRemovesLocalPaths(t *testing.T) {
	dir := t.TempDir()
	staging := filepath.Join(dir, "run-1")
	testsupport.WriteFile(t, filepath.Join(staging, "segments", "0000.mp3"), 64)
	artifact := filepath.Join(dir, "episode.mp3")
	testsupport.WriteFile(t, artifact, 128)

	guard := cleanup.NewGuard(nil, nil)
	guard.TrackLocal(staging)
	guard.TrackLocal(artifact)
	guard.Release(context.Background())

	for _, path := range []string{staging, artifact} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed", path)
		}
	}
}

func TestReleaseDeletesTrackedRemotes(t *testing.T) {
	remote := newFakeRemote(0)
	guard := cleanup.NewGuard(remote, nil)
	guard.TrackRemote("stale-1")
	guard.TrackRemote("")
	guard.Release(context.Background())

	if len(remote.deleted) != 1 || remote.deleted[0] != "stale-1" {
		t.Fatalf("unexpected remote deletions: %v", remote.deleted)
	}
}

func TestReleaseRetriesRemoteDeletion(t *testing.T) {
	remote := newFakeRemote(1)
	guard := cleanup.NewGuard(remote, nil)
	guard.TrackRemote("stale-1")
	guard.Release(context.Background())

	if remote.calls["stale-1"] != 2 {
		t.Fatalf("expected two delete attempts, got %d", remote.calls["stale-1"])
	}
	if len(remote.deleted) != 1 {
		t.Fatal("expected deletion to eventually succeed")
	}
}

func TestReleaseNeverFailsTheRun(t *testing.T) {
	remote := newFakeRemote(100)
	guard := cleanup.NewGuard(remote, nil)
	guard.TrackRemote("stubborn")
	guard.TrackLocal(filepath.Join(t.TempDir(), "missing"))

	// Exhausted retries and a missing path must both be absorbed.
	guard.Release(context.Background())
}

func TestReleaseIsIdempotent(t *testing.T) {
	remote := newFakeRemote(0)
	guard := cleanup.NewGuard(remote, nil)
	guard.TrackRemote("once")

	guard.Release(context.Background())
	guard.Release(context.Background())

	if remote.calls["once"] != 1 {
		t.Fatalf("expected a single delete, got %d", remote.calls["once"])
	}
}
