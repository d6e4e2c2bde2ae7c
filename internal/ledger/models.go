package ledger

import (
	"strings"
	"time"
)

// State represents the lifecycle of a processing record.
type State string

const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateAbandoned State = "abandoned"
)

var allStates = []State{StateRunning, StateDone, StateFailed, StateAbandoned}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	for _, state := range allStates {
		if state == normalized {
			return normalized, true
		}
	}
	return "", false
}

// Decision is the outcome of an admission attempt.
type Decision string

const (
	Admitted         Decision = "admitted"
	AlreadyProcessed Decision = "already_processed"
	InProgress       Decision = "in_progress"
)

// Stage names persisted on running records so operators can see where a
// run is and where it failed.
const (
	StageResolving  = "resolving"
	StageAssembling = "assembling"
	StagePublishing = "publishing"
	StageCleaningUp = "cleaning_up"
)

// Record is one processing attempt for a (file, revision) pair.
type Record struct {
	ID                      int64
	FileID                  string
	RevisionID              string
	Name                    string
	State                   State
	Stage                   string
	RunID                   string
	ErrorKind               string
	ErrorMessage            string
	DeclaredDurationSeconds float64
	MeasuredDurationSeconds float64
	RemoteFileID            string
	StartedAt               time.Time
	CompletedAt             *time.Time
	LastHeartbeat           *time.Time
}

// Terminal reports whether the record reached a final state for its revision.
func (r Record) Terminal() bool {
	return r.State == StateDone || r.State == StateFailed
}

// HealthSummary describes aggregated record counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Running   int
	Done      int
	Failed    int
	Abandoned int
}
