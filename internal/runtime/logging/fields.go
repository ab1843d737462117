package logging

// Structured keys attached to every dispatch and task invocation log line.
const (
	FieldWorkflowModuleID    = "workflowModuleId"
	FieldWorkflowAdapterID   = "workflowAdapterId"
	FieldWorkflowAggregateID = "workflowAggregateId"
	FieldWorkflowProcessID   = "workflowBpmnId"
	FieldWorkflowTaskID      = "workflowTaskId"
	FieldWorkflowTaskNode    = "workflowTaskNode"
	FieldWorkflowTaskNodeID  = "workflowTaskNodeId"
)

// WorkflowContext carries the identity of the workflow an operation concerns.
// Empty values are omitted from the resulting fields.
type WorkflowContext struct {
	ModuleID    string
	AdapterID   string
	AggregateID string
	ProcessID   string
	TaskID      string
	TaskNode    string
	TaskNodeID  string
}

// Fields converts the context into log fields.
func (w WorkflowContext) Fields() LogFields {
	fields := LogFields{}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set(FieldWorkflowModuleID, w.ModuleID)
	set(FieldWorkflowAdapterID, w.AdapterID)
	set(FieldWorkflowAggregateID, w.AggregateID)
	set(FieldWorkflowProcessID, w.ProcessID)
	set(FieldWorkflowTaskID, w.TaskID)
	set(FieldWorkflowTaskNode, w.TaskNode)
	set(FieldWorkflowTaskNodeID, w.TaskNodeID)
	return fields
}

// Apply returns logger enriched with the fields of w.
func (w WorkflowContext) Apply(logger ServiceLogger) ServiceLogger {
	return logger.With(w.Fields())
}
