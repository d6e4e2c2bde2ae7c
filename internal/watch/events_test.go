package watch_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"playrunaddict/internal/watch"
)

var playlistMimes = []string{"audio/x-mpegurl", "audio/mpegurl"}

func TestNewSnapshotFiltersMimeTypes(t *testing.T) {
	files := []watch.SourceFile{
		{ID: "a", Name: "mix.m3u", MimeType: "audio/x-mpegurl", HeadRevisionID: "r1"},
		{ID: "b", Name: "notes.txt", MimeType: "text/plain", HeadRevisionID: "r1"},
		{ID: "", Name: "broken", MimeType: "audio/x-mpegurl"},
	}

	snapshot := watch.NewSnapshot(files, playlistMimes)
	if len(snapshot) != 1 {
		t.Fatalf("expected one file in snapshot, got %d", len(snapshot))
	}
	if _, ok := snapshot["a"]; !ok {
		t.Fatal("expected playlist file to survive the filter")
	}
}

func TestDiffSnapshotsEmitsChanges(t *testing.T) {
	prev := watch.Snapshot{
		"same":    {ID: "same", Name: "same.m3u", HeadRevisionID: "r1"},
		"changed": {ID: "changed", Name: "changed.m3u", HeadRevisionID: "r1"},
		"gone":    {ID: "gone", Name: "gone.m3u", HeadRevisionID: "r1"},
	}
	curr := watch.Snapshot{
		"same":    {ID: "same", Name: "same.m3u", HeadRevisionID: "r1"},
		"changed": {ID: "changed", Name: "changed.m3u", HeadRevisionID: "r2"},
		"new":     {ID: "new", Name: "new.m3u", HeadRevisionID: "r1"},
	}

	events := watch.DiffSnapshots(prev, curr)
	if len(events) != 3 {
		t.Fatalf("expected three events, got %d: %#v", len(events), events)
	}

	byFile := make(map[string]watch.ChangeEvent, len(events))
	for _, event := range events {
		if event.Source != watch.SourcePoll {
			t.Fatalf("expected poll source, got %s", event.Source)
		}
		byFile[event.FileID] = event
	}

	if event := byFile["changed"]; event.RevisionID != "r2" || event.Deleted {
		t.Fatalf("unexpected changed event: %#v", event)
	}
	if event := byFile["new"]; event.RevisionID != "r1" || event.Deleted {
		t.Fatalf("unexpected new event: %#v", event)
	}
	if event := byFile["gone"]; !event.Deleted {
		t.Fatalf("expected deletion event for vanished file, got %#v", event)
	}
	if _, ok := byFile["same"]; ok {
		t.Fatal("unchanged file must not emit an event")
	}
}

func TestDiffSnapshotsIsDeterministic(t *testing.T) {
	curr := watch.Snapshot{
		"b": {ID: "b", HeadRevisionID: "r1"},
		"a": {ID: "a", HeadRevisionID: "r1"},
		"c": {ID: "c", HeadRevisionID: "r1"},
	}

	events := watch.DiffSnapshots(nil, curr)
	for i := 1; i < len(events); i++ {
		if events[i-1].FileID > events[i].FileID {
			t.Fatalf("events not ordered by file id: %#v", events)
		}
	}
}

type fakeLookup struct {
	file      watch.SourceFile
	found     bool
	err       error
	headRev   string
	headErr   error
	headCalls int
}

func (f *fakeLookup) FileForResource(ctx context.Context, resourceID string) (watch.SourceFile, bool, error) {
	return f.file, f.found, f.err
}

func (f *fakeLookup) HeadRevision(ctx context.Context, fileID string) (string, error) {
	f.headCalls++
	return f.headRev, f.headErr
}

func webhookHeader(state string) http.Header {
	header := http.Header{}
	header.Set(watch.HeaderChannelID, "chan-1")
	header.Set(watch.HeaderChannelToken, "secret")
	header.Set(watch.HeaderResourceID, "res-1")
	header.Set(watch.HeaderResourceState, state)
	header.Set(watch.HeaderMessageNumber, "7")
	return header
}

func TestParseNotification(t *testing.T) {
	n := watch.ParseNotification(webhookHeader("UPDATE"))
	if n.ChannelID != "chan-1" || n.ResourceID != "res-1" || n.MessageNumber != "7" {
		t.Fatalf("unexpected notification: %#v", n)
	}
	if n.ResourceState != watch.StateUpdate {
		t.Fatalf("expected lowercased state, got %q", n.ResourceState)
	}
}

func TestNotificationAuthorized(t *testing.T) {
	n := watch.ParseNotification(webhookHeader(watch.StateUpdate))
	if !n.Authorized("secret") {
		t.Fatal("expected matching token to authorize")
	}
	if n.Authorized("other") {
		t.Fatal("expected mismatched token to be rejected")
	}
	if n.Authorized("") {
		t.Fatal("expected empty secret to reject all deliveries")
	}
}

func TestNormalizeDropsSyncMessages(t *testing.T) {
	lookup := &fakeLookup{}
	n := watch.ParseNotification(webhookHeader(watch.StateSync))

	event, err := watch.Normalize(context.Background(), n, lookup, playlistMimes)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event != nil {
		t.Fatalf("expected sync message to emit nothing, got %#v", event)
	}
}

func TestNormalizeBuildsEvent(t *testing.T) {
	lookup := &fakeLookup{
		file:  watch.SourceFile{ID: "file-1", Name: "mix.m3u", MimeType: "audio/x-mpegurl", HeadRevisionID: "r9"},
		found: true,
	}
	n := watch.ParseNotification(webhookHeader(watch.StateUpdate))

	event, err := watch.Normalize(context.Background(), n, lookup, playlistMimes)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event")
	}
	if event.FileID != "file-1" || event.RevisionID != "r9" || event.Source != watch.SourceWebhook {
		t.Fatalf("unexpected event: %#v", event)
	}
	if lookup.headCalls != 0 {
		t.Fatal("head revision lookup must not run when the listing has one")
	}
	if time.Since(event.ObservedAt) > time.Minute {
		t.Fatalf("unexpected observation time: %v", event.ObservedAt)
	}
}

func TestNormalizeFetchesMissingRevision(t *testing.T) {
	lookup := &fakeLookup{
		file:    watch.SourceFile{ID: "file-1", Name: "mix.m3u", MimeType: "audio/x-mpegurl"},
		found:   true,
		headRev: "r42",
	}
	n := watch.ParseNotification(webhookHeader(watch.StateAdd))

	event, err := watch.Normalize(context.Background(), n, lookup, playlistMimes)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event == nil || event.RevisionID != "r42" {
		t.Fatalf("expected looked-up revision, got %#v", event)
	}
	if lookup.headCalls != 1 {
		t.Fatalf("expected one head revision lookup, got %d", lookup.headCalls)
	}
}

func TestNormalizeIgnoresNonPlaylistFiles(t *testing.T) {
	lookup := &fakeLookup{
		file:  watch.SourceFile{ID: "file-1", Name: "notes.txt", MimeType: "text/plain", HeadRevisionID: "r1"},
		found: true,
	}
	n := watch.ParseNotification(webhookHeader(watch.StateUpdate))

	event, err := watch.Normalize(context.Background(), n, lookup, playlistMimes)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event != nil {
		t.Fatalf("expected non-playlist file to emit nothing, got %#v", event)
	}
}

func TestNormalizeEmitsDeletionForTrashedFile(t *testing.T) {
	lookup := &fakeLookup{
		file:  watch.SourceFile{ID: "file-1", Name: "mix.m3u", MimeType: "audio/x-mpegurl", HeadRevisionID: "r1"},
		found: true,
	}
	n := watch.ParseNotification(webhookHeader(watch.StateTrash))

	event, err := watch.Normalize(context.Background(), n, lookup, playlistMimes)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if event == nil || !event.Deleted {
		t.Fatalf("expected deletion event, got %#v", event)
	}
}

func TestNormalizeSurfacesLookupErrors(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("listing unavailable")}
	n := watch.ParseNotification(webhookHeader(watch.StateUpdate))

	if _, err := watch.Normalize(context.Background(), n, lookup, playlistMimes); err == nil {
		t.Fatal("expected lookup error to propagate")
	}
}
