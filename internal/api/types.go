package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LedgerRecord describes a processing record in a transport-friendly format.
type LedgerRecord struct {
	ID                      int64   `json:"id"`
	FileID                  string  `json:"fileId"`
	RevisionID              string  `json:"revisionId"`
	Name                    string  `json:"name"`
	State                   string  `json:"state"`
	Stage                   string  `json:"stage,omitempty"`
	RunID                   string  `json:"runId,omitempty"`
	ErrorKind               string  `json:"errorKind,omitempty"`
	ErrorMessage            string  `json:"errorMessage,omitempty"`
	DeclaredDurationSeconds float64 `json:"declaredDurationSeconds,omitempty"`
	MeasuredDurationSeconds float64 `json:"measuredDurationSeconds,omitempty"`
	RemoteFileID            string  `json:"remoteFileId,omitempty"`
	StartedAt               string  `json:"startedAt,omitempty"`
	CompletedAt             string  `json:"completedAt,omitempty"`
}

// LedgerListResponse wraps a collection of ledger records for API responses.
type LedgerListResponse struct {
	Records []LedgerRecord `json:"records"`
}

// LedgerRecordResponse wraps a single ledger record.
type LedgerRecordResponse struct {
	Record LedgerRecord `json:"record"`
}

// LedgerStats provides record counts keyed by lifecycle state.
type LedgerStats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// DependencyStatus captures availability of an external tool.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// PipelineStatus aggregates daemon runtime information for API consumers.
type PipelineStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Workers      int                `json:"workers"`
	QueueDepth   int                `json:"queueDepth"`
	LedgerPath   string             `json:"ledgerPath"`
	Ledger       LedgerStats        `json:"ledger"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// CheckResponse reports the outcome of an on-demand poll.
type CheckResponse struct {
	Changed   int `json:"changed"`
	Submitted int `json:"submitted"`
}

// RetryResponse reports the outcome of a manual retry request.
type RetryResponse struct {
	Submitted  bool   `json:"submitted"`
	FileID     string `json:"fileId"`
	RevisionID string `json:"revisionId"`
}
