package watch

import (
	"sort"
	"time"
)

// Source identifies which detection path observed a change.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
)

// SourceFile is the listing metadata for one playlist document in the
// watched folder.
type SourceFile struct {
	ID             string
	Name           string
	MimeType       string
	HeadRevisionID string
	ModifiedTime   time.Time
}

// ChangeEvent is the normalized unit of work emitted by both detection
// paths. Deleted events prune snapshots and cleanup targets; they are
// never admitted for processing.
type ChangeEvent struct {
	FileID     string
	RevisionID string
	Name       string
	ObservedAt time.Time
	Source     Source
	Deleted    bool
}

// Snapshot is the last observed listing of the watched folder, keyed by
// file id.
type Snapshot map[string]SourceFile

// NewSnapshot builds a snapshot from a folder listing, keeping only files
// whose MIME type is in the allowed playlist set.
func NewSnapshot(files []SourceFile, mimeTypes []string) Snapshot {
	snapshot := make(Snapshot, len(files))
	for _, file := range files {
		if file.ID == "" || !mimeAllowed(file.MimeType, mimeTypes) {
			continue
		}
		snapshot[file.ID] = file
	}
	return snapshot
}

// DiffSnapshots compares two listings and emits change events for files
// that appeared or whose head revision moved, and deletion events for
// files that vanished. Events are ordered by file id so repeated diffs of
// the same listings are deterministic.
func DiffSnapshots(prev, curr Snapshot) []ChangeEvent {
	now := time.Now().UTC()
	var events []ChangeEvent

	for id, file := range curr {
		before, seen := prev[id]
		if seen && before.HeadRevisionID == file.HeadRevisionID {
			continue
		}
		events = append(events, ChangeEvent{
			FileID:     id,
			RevisionID: file.HeadRevisionID,
			Name:       file.Name,
			ObservedAt: now,
			Source:     SourcePoll,
		})
	}

	for id, file := range prev {
		if _, stillThere := curr[id]; stillThere {
			continue
		}
		events = append(events, ChangeEvent{
			FileID:     id,
			RevisionID: file.HeadRevisionID,
			Name:       file.Name,
			ObservedAt: now,
			Source:     SourcePoll,
			Deleted:    true,
		})
	}

	sort.Slice(events, func(i, j int) bool { return events[i].FileID < events[j].FileID })
	return events
}

func mimeAllowed(mimeType string, allowed []string) bool {
	for _, candidate := range allowed {
		if candidate == mimeType {
			return true
		}
	}
	return false
}
