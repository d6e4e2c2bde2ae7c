package watch

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Drive push notification headers.
const (
	HeaderChannelID     = "X-Goog-Channel-Id"
	HeaderChannelToken  = "X-Goog-Channel-Token"
	HeaderResourceID    = "X-Goog-Resource-Id"
	HeaderResourceState = "X-Goog-Resource-State"
	HeaderMessageNumber = "X-Goog-Message-Number"
)

// Resource states Drive delivers. The initial sync message carries no
// change and is dropped.
const (
	StateSync   = "sync"
	StateAdd    = "add"
	StateUpdate = "update"
	StateTrash  = "trash"
	StateRemove = "remove"
)

// Notification is the parsed header set of a Drive push delivery.
type Notification struct {
	ChannelID     string
	ChannelToken  string
	ResourceID    string
	ResourceState string
	MessageNumber string
}

// ParseNotification extracts the Drive push headers from a webhook request.
func ParseNotification(header http.Header) Notification {
	return Notification{
		ChannelID:     header.Get(HeaderChannelID),
		ChannelToken:  header.Get(HeaderChannelToken),
		ResourceID:    header.Get(HeaderResourceID),
		ResourceState: strings.ToLower(header.Get(HeaderResourceState)),
		MessageNumber: header.Get(HeaderMessageNumber),
	}
}

// Authorized reports whether the delivery carries the channel token the
// watch was registered with.
func (n Notification) Authorized(secret string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(n.ChannelToken), []byte(secret)) == 1
}

// Lookup resolves a push notification's resource to listing metadata.
type Lookup interface {
	// FileForResource maps the notification resource id to the current
	// listing entry, reporting false when the file is gone or outside the
	// watched folder.
	FileForResource(ctx context.Context, resourceID string) (SourceFile, bool, error)
	// HeadRevision fetches the current head revision id for a file whose
	// listing omitted it.
	HeadRevision(ctx context.Context, fileID string) (string, error)
}

// Normalize turns a push delivery into at most one ChangeEvent. Sync
// messages, unknown resources, and files outside the configured playlist
// MIME set yield nil without error. Trash and remove states yield a
// deletion event when the file was previously known.
func Normalize(ctx context.Context, n Notification, lookup Lookup, mimeTypes []string) (*ChangeEvent, error) {
	if n.ResourceState == StateSync || n.ResourceState == "" {
		return nil, nil
	}
	if n.ResourceID == "" {
		return nil, fmt.Errorf("notification missing %s header", HeaderResourceID)
	}

	file, found, err := lookup.FileForResource(ctx, n.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("resolve resource %s: %w", n.ResourceID, err)
	}

	deleted := n.ResourceState == StateTrash || n.ResourceState == StateRemove || !found
	if deleted {
		if file.ID == "" {
			return nil, nil
		}
		return &ChangeEvent{
			FileID:     file.ID,
			RevisionID: file.HeadRevisionID,
			Name:       file.Name,
			ObservedAt: time.Now().UTC(),
			Source:     SourceWebhook,
			Deleted:    true,
		}, nil
	}

	if !mimeAllowed(file.MimeType, mimeTypes) {
		return nil, nil
	}

	revisionID := file.HeadRevisionID
	if revisionID == "" {
		revisionID, err = lookup.HeadRevision(ctx, file.ID)
		if err != nil {
			return nil, fmt.Errorf("head revision for %s: %w", file.ID, err)
		}
	}
	if revisionID == "" {
		return nil, fmt.Errorf("file %s has no head revision", file.ID)
	}

	return &ChangeEvent{
		FileID:     file.ID,
		RevisionID: revisionID,
		Name:       file.Name,
		ObservedAt: time.Now().UTC(),
		Source:     SourceWebhook,
	}, nil
}
