package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRequestAdmitted     = "request.admitted"
	ActionRequestQueued       = "request.queued"
	ActionRequestRejected     = "request.rejected"
	ActionTokenReclaimed      = "token.reclaimed"
	ActionToolCallCompleted   = "tool.call_completed"
	ActionToolCallFailed      = "tool.call_failed"
	ActionBreakerStateChanged = "breaker.state_changed"
	ActionSagaStarted         = "saga.started"
	ActionSagaCompleted       = "saga.completed"
	ActionSagaCompensated     = "saga.compensated"
	ActionSagaFailed          = "saga.failed"
	ActionInterventionQueued  = "intervention.queued"
)

// Audit event categories group related actions.
const (
	CategoryAdmission = "floodgate.admission"
	CategoryTool      = "floodgate.tool"
	CategorySaga      = "floodgate.saga"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRequest      = "request"
	ResourceToken        = "admission_token"
	ResourceToolCall     = "tool_call"
	ResourceBreaker      = "circuit_breaker"
	ResourceSaga         = "saga_execution"
	ResourceIntervention = "intervention_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRequestAdmitted,
		ActionRequestQueued,
		ActionRequestRejected,
		ActionTokenReclaimed,
		ActionToolCallCompleted,
		ActionToolCallFailed,
		ActionBreakerStateChanged,
		ActionSagaStarted,
		ActionSagaCompleted,
		ActionSagaCompensated,
		ActionSagaFailed,
		ActionInterventionQueued,
	}
}
