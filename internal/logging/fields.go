package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldFileID is the standardized structured logging key for source file identifiers.
	FieldFileID = "file_id"
	// FieldRevisionID is the standardized structured logging key for source revision identifiers.
	FieldRevisionID = "revision_id"
	// FieldRunID is the standardized structured logging key for pipeline run identifiers.
	FieldRunID = "run_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldEventType is the standardized structured logging key for event classification.
	FieldEventType = "event_type"
	// FieldErrorKind is the standardized structured logging key for error taxonomy kinds.
	FieldErrorKind = "error_kind"
	// FieldErrorHint is the standardized structured logging key for operator guidance.
	FieldErrorHint = "error_hint"
	// FieldSource is the standardized structured logging key for change event origins.
	FieldSource = "source"
)
