package api

import (
	"playrunaddict/internal/deps"
	"playrunaddict/internal/ledger"
)

// FromRecord converts a ledger record into its API view.
func FromRecord(record *ledger.Record) LedgerRecord {
	if record == nil {
		return LedgerRecord{}
	}
	view := LedgerRecord{
		ID:                      record.ID,
		FileID:                  record.FileID,
		RevisionID:              record.RevisionID,
		Name:                    record.Name,
		State:                   string(record.State),
		Stage:                   record.Stage,
		RunID:                   record.RunID,
		ErrorKind:               record.ErrorKind,
		ErrorMessage:            record.ErrorMessage,
		DeclaredDurationSeconds: record.DeclaredDurationSeconds,
		MeasuredDurationSeconds: record.MeasuredDurationSeconds,
		RemoteFileID:            record.RemoteFileID,
	}
	if !record.StartedAt.IsZero() {
		view.StartedAt = record.StartedAt.Format(dateTimeFormat)
	}
	if record.CompletedAt != nil {
		view.CompletedAt = record.CompletedAt.Format(dateTimeFormat)
	}
	return view
}

// FromRecords converts a slice of ledger records into API views.
func FromRecords(records []*ledger.Record) []LedgerRecord {
	if len(records) == 0 {
		return nil
	}
	out := make([]LedgerRecord, 0, len(records))
	for _, record := range records {
		out = append(out, FromRecord(record))
	}
	return out
}

// FromDependencyStatuses converts dependency checks into API views.
func FromDependencyStatuses(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, DependencyStatus{
			Name:        status.Name,
			Command:     status.Command,
			Description: status.Description,
			Optional:    status.Optional,
			Available:   status.Available,
			Detail:      status.Detail,
		})
	}
	return out
}

// FromHealthSummary converts aggregated ledger counts into the API payload.
func FromHealthSummary(summary ledger.HealthSummary) LedgerStats {
	return LedgerStats{
		Total:     summary.Total,
		Running:   summary.Running,
		Done:      summary.Done,
		Failed:    summary.Failed,
		Abandoned: summary.Abandoned,
	}
}
