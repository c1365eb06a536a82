package logger

// Fields is the structured field set attached to a log line.
type Fields map[string]interface{}

// Tracing fields propagated through context.
const (
	FieldRequestID = "request_id"
	FieldRunID     = "run_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldUserID    = "user_id"
	FieldPage      = "page"
	FieldMalID     = "mal_id"
)

// Metric fields attached per entry.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSize       = "size"
	FieldStatus     = "status"
)
