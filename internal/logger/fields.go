package logger

// Fields is a set of structured log fields.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger.
const (
	FieldRequestID  = "request_id"
	FieldRunID      = "run_id"
	FieldDocumentID = "document_id"
	FieldComponent  = "component"
	FieldTopic      = "topic"
	FieldStrategy   = "strategy"
	FieldProvenance = "provenance"
	FieldURL        = "url"
)

// Metric fields, set through the Entry API.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldSize       = "size"
)
