package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers classifying pipeline failures. Components wrap their
// errors with exactly one marker so the orchestrator, ledger, and
// notifications agree on the failure kind.
var (
	ErrMalformedPlaylist = errors.New("malformed playlist")
	ErrEmptyPlaylist     = errors.New("empty playlist")
	ErrPlaylistFetch     = errors.New("playlist fetch error")
	ErrUnresolvedSegment = errors.New("unresolved segment")
	ErrSegmentFetch      = errors.New("segment fetch error")
	ErrEncode            = errors.New("encode error")
	ErrUpload            = errors.New("upload error")
	ErrCatalogRejected   = errors.New("catalog rejected")
	ErrLedgerConflict    = errors.New("ledger conflict")
	ErrTimeout           = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrEncode
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a failure is worth retrying within the same
// publish attempt. Only transport-level upload failures and phase timeouts
// qualify; everything else waits for a fresh change event.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpload) || errors.Is(err, ErrTimeout)
}

// Kind returns the taxonomy name for an error, used in ledger records,
// notifications, and structured logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPlaylist):
		return "malformed_playlist"
	case errors.Is(err, ErrPlaylistFetch):
		return "playlist_fetch"
	case errors.Is(err, ErrEmptyPlaylist):
		return "empty_playlist"
	case errors.Is(err, ErrUnresolvedSegment):
		return "unresolved_segment"
	case errors.Is(err, ErrSegmentFetch):
		return "segment_fetch"
	case errors.Is(err, ErrEncode):
		return "encode"
	case errors.Is(err, ErrUpload):
		return "upload"
	case errors.Is(err, ErrCatalogRejected):
		return "catalog_rejected"
	case errors.Is(err, ErrLedgerConflict):
		return "ledger_conflict"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case err == nil:
		return ""
	default:
		return "unknown"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
