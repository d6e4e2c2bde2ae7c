package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"playrunaddict/internal/config"
)

// Store manages processing records backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the ledger database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "ledger.db")
	return OpenPath(dbPath)
}

// OpenPath opens the ledger at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the ledger database location.
func (s *Store) Path() string {
	return s.path
}

// Admit atomically decides whether a (file, revision) pair may start
// processing. Exactly one caller receives Admitted for a given pair; a
// Running record is written before Admitted is returned. Callers racing an
// active run receive InProgress; a revision already completed as Done
// yields AlreadyProcessed. Failed and Abandoned records do not block
// re-admission of the same revision.
func (s *Store) Admit(ctx context.Context, fileID, revisionID, name string) (Decision, *Record, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(fileID) == "" {
		return "", nil, errors.New("file id is required")
	}
	if strings.TrimSpace(revisionID) == "" {
		return "", nil, errors.New("revision id is required")
	}

	var (
		decision Decision
		recordID int64
	)
	err := retryOnBusy(ctx, func() error {
		decision = ""
		recordID = 0

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin admit tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var existing int64
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM processing_records WHERE file_id = ? AND state = ? LIMIT 1`,
			fileID, StateRunning,
		).Scan(&existing)
		switch {
		case err == nil:
			decision = InProgress
			return nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("check running record: %w", err)
		}

		err = tx.QueryRowContext(ctx,
			`SELECT id FROM processing_records WHERE file_id = ? AND revision_id = ? AND state = ? LIMIT 1`,
			fileID, revisionID, StateDone,
		).Scan(&existing)
		switch {
		case err == nil:
			decision = AlreadyProcessed
			return nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("check completed record: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO processing_records (
                file_id, revision_id, name, state, started_at, last_heartbeat
            ) VALUES (?, ?, ?, ?, ?, ?)`,
			fileID, revisionID, nullableString(name), StateRunning, now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				// Lost the race to another admitter.
				decision = InProgress
				return nil
			}
			return fmt.Errorf("insert running record: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			if isUniqueViolation(err) {
				decision = InProgress
				return nil
			}
			return fmt.Errorf("commit admit tx: %w", err)
		}
		decision = Admitted
		recordID = id
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	if decision != Admitted {
		return decision, nil, nil
	}

	record, err := s.GetByID(ctx, recordID)
	if err != nil {
		return "", nil, err
	}
	return Admitted, record, nil
}

// Complete transitions the running record for (file, revision) to Done or
// Failed, recording the error taxonomy kind and message verbatim.
func (s *Store) Complete(ctx context.Context, fileID, revisionID string, state State, errorKind, errorMessage string) error {
	ctx = ensureContext(ctx)
	if state != StateDone && state != StateFailed {
		return fmt.Errorf("completion state must be done or failed, got %q", state)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_records
         SET state = ?, error_kind = ?, error_message = ?, completed_at = ?, last_heartbeat = NULL
         WHERE file_id = ? AND revision_id = ? AND state = ?`,
		state, nullableString(errorKind), nullableString(errorMessage), now,
		fileID, revisionID, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("complete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no running record for file %s revision %s", fileID, revisionID)
	}
	return nil
}

// Update persists mutable run fields (stage, run id, durations, remote id)
// on an existing record.
func (s *Store) Update(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record is nil")
	}
	ctx = ensureContext(ctx)
	_, err := s.execWithRetry(ctx,
		`UPDATE processing_records
         SET name = ?, stage = ?, run_id = ?, declared_duration_seconds = ?,
             measured_duration_seconds = ?, remote_file_id = ?
         WHERE id = ?`,
		nullableString(record.Name),
		nullableString(record.Stage),
		nullableString(record.RunID),
		record.DeclaredDurationSeconds,
		record.MeasuredDurationSeconds,
		nullableString(record.RemoteFileID),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	return nil
}

// Heartbeat refreshes the liveness timestamp for an in-flight record.
func (s *Store) Heartbeat(ctx context.Context, id int64) error {
	ctx = ensureContext(ctx)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.execWithoutResultRetry(ctx,
		`UPDATE processing_records SET last_heartbeat = ? WHERE id = ? AND state = ?`,
		now, id, StateRunning,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimAbandoned marks running records with expired (or missing)
// heartbeats as abandoned, making their revisions eligible for
// re-admission after a crash or unclean shutdown.
func (s *Store) ReclaimAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE processing_records
         SET state = ?, last_heartbeat = NULL
         WHERE state = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		StateAbandoned, StateRunning, cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim abandoned records: %w", err)
	}
	return res.RowsAffected()
}

// GetByID fetches a record by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM processing_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// LastCompleted returns the most recent Done record for a file, or nil.
func (s *Store) LastCompleted(ctx context.Context, fileID string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM processing_records
         WHERE file_id = ? AND state = ? ORDER BY id DESC LIMIT 1`,
		fileID, StateDone,
	)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last completed record: %w", err)
	}
	return record, nil
}

// List returns records filtered by state set (or all records when no state
// is provided), oldest first.
func (s *Store) List(ctx context.Context, states ...State) ([]*Record, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + recordColumns + ` FROM processing_records`
	orderClause := ` ORDER BY id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE state IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Stats returns a count of records grouped by state.
func (s *Store) Stats(ctx context.Context) (map[State]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM processing_records GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[State]int)
	for rows.Next() {
		var state State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates ledger state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case StateRunning:
			health.Running += count
		case StateDone:
			health.Done += count
		case StateFailed:
			health.Failed += count
		case StateAbandoned:
			health.Abandoned += count
		}
	}
	return health, nil
}

// ClearState removes records in the given state.
func (s *Store) ClearState(ctx context.Context, state State) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_records WHERE state = ?`, state)
	if err != nil {
		return 0, fmt.Errorf("clear %s records: %w", state, err)
	}
	return res.RowsAffected()
}

// Clear removes all records from the ledger.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx, `DELETE FROM processing_records`)
	if err != nil {
		return 0, fmt.Errorf("clear ledger: %w", err)
	}
	return res.RowsAffected()
}

const recordColumns = "id, file_id, revision_id, name, state, stage, run_id, error_kind, error_message, declared_duration_seconds, measured_duration_seconds, remote_file_id, started_at, completed_at, last_heartbeat"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id           int64
		fileID       string
		revisionID   string
		name         sql.NullString
		stateStr     string
		stage        sql.NullString
		runID        sql.NullString
		errorKind    sql.NullString
		errorMessage sql.NullString
		declared     float64
		measured     float64
		remoteFileID sql.NullString
		startedRaw   string
		completedRaw sql.NullString
		heartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&fileID,
		&revisionID,
		&name,
		&stateStr,
		&stage,
		&runID,
		&errorKind,
		&errorMessage,
		&declared,
		&measured,
		&remoteFileID,
		&startedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:                      id,
		FileID:                  fileID,
		RevisionID:              revisionID,
		Name:                    name.String,
		State:                   State(stateStr),
		Stage:                   stage.String,
		RunID:                   runID.String,
		ErrorKind:               errorKind.String,
		ErrorMessage:            errorMessage.String,
		DeclaredDurationSeconds: declared,
		MeasuredDurationSeconds: measured,
		RemoteFileID:            remoteFileID.String,
	}

	if started, err := parseTimeString(startedRaw); err == nil {
		record.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			record.CompletedAt = &completed
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			record.LastHeartbeat = &heartbeat
		}
	}
	return record, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
