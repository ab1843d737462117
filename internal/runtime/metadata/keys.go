package metadata

// Reserved metadata keys. Custom metadata should not reuse them.
const (
	// KeyCorrelationID tracks related messages across services.
	KeyCorrelationID = "correlation_id"

	// KeyCommandKind names the workflow operation a command carries.
	KeyCommandKind = "procflow_command"

	// KeyWorkflowModuleID and the keys below mirror the workflow logging fields.
	KeyWorkflowModuleID    = "workflow_module_id"
	KeyWorkflowAdapterID   = "workflow_adapter_id"
	KeyWorkflowAggregateID = "workflow_aggregate_id"
	KeyWorkflowProcessID   = "workflow_bpmn_id"
	KeyWorkflowTaskID      = "workflow_task_id"

	// KeyTraceID stores distributed tracing ID.
	KeyTraceID = "trace_id"

	// KeySpanID stores distributed tracing span ID.
	KeySpanID = "span_id"
)
