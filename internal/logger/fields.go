package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldComponent is the component name (api, scheduler, notifier, ...)
	FieldComponent = "component"

	// FieldUserID is the authenticated user the operation runs for
	FieldUserID = "user_id"

	// FieldInstructionID is the approved instruction being operated on
	FieldInstructionID = "instruction_id"

	// FieldPendingTaskID is the pending task under review
	FieldPendingTaskID = "pending_task_id"

	// FieldRunID is the run result produced by one execution
	FieldRunID = "run_id"

	// FieldTrigger is what started an execution: schedule or manual
	FieldTrigger = "trigger"
)

// Metric fields, attached per entry for aggregation and alerting.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldAttempt is the 1-based attempt number of a retried operation
	FieldAttempt = "attempt"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
