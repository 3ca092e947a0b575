package workflow

import "time"

// EventType enumerates the SSE-style lifecycle events a run emits.
type EventType string

const (
	EventExecutionStart    EventType = "execution:start"
	EventNodeStart         EventType = "node:start"
	EventNodeComplete      EventType = "node:complete"
	EventNodeError         EventType = "node:error"
	EventExecutionComplete EventType = "execution:complete"
	EventExecutionError    EventType = "execution:error"
)

// Event is one point-in-time notification about a run's progress. NodeName
// and NodeType are empty for execution-scoped events. Data carries the
// event-specific payload (item counts, the node's output summary, the
// terminal error message, ...).
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	NodeName    string    `json:"node_name,omitempty"`
	NodeType    string    `json:"node_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Data        any       `json:"data,omitempty"`

	// SubworkflowParentNode and SubworkflowID are set by ExecuteWorkflow's
	// event wrapper on every event raised inside a sub-workflow run, so a
	// subscriber watching the parent's event stream can tell which
	// ExecuteWorkflow call a nested node belongs to.
	SubworkflowParentNode string `json:"subworkflow_parent_node,omitempty"`
	SubworkflowID         string `json:"subworkflow_id,omitempty"`
}

// EventCallback receives every event emitted during a run. Implementations
// must return quickly and must not panic — emit wraps the call so that a
// broken subscriber cannot take down the run, but a slow one can still
// introduce backpressure if it blocks.
type EventCallback func(Event)

// emit delivers an event to ec.OnEvent, doing nothing if no callback is
// registered and recovering from a panicking callback so a broken SSE
// subscriber can never crash a run.
func (ec *ExecutionContext) emit(evt Event) {
	if ec.OnEvent == nil {
		return
	}
	defer func() { _ = recover() }()
	evt.ExecutionID = ec.ExecutionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	ec.OnEvent(evt)
}

func progressData(completed, total int) map[string]any {
	return map[string]any{"completed": completed, "total": total}
}

// emitExecutionStart emits the execution:start event.
func (ec *ExecutionContext) emitExecutionStart(totalNodes int) {
	ec.emit(Event{Type: EventExecutionStart, Data: progressData(0, totalNodes)})
}

// emitNodeStart emits a node:start event.
func (ec *ExecutionContext) emitNodeStart(name, nodeType string, runIndex, completed, total int) {
	data := progressData(completed, total)
	data["run_index"] = runIndex
	ec.emit(Event{
		Type:     EventNodeStart,
		NodeName: name,
		NodeType: nodeType,
		Data:     data,
	})
}

// emitNodeComplete emits a node:complete event summarizing output item
// counts per port.
func (ec *ExecutionContext) emitNodeComplete(name, nodeType string, runIndex int, result *NodeExecutionResult, completed, total int) {
	counts := map[string]int{}
	if result != nil {
		for port, out := range result.Outputs {
			if out.IsNoOutput() {
				counts[port] = -1
				continue
			}
			counts[port] = len(out.Items())
		}
	}
	data := progressData(completed, total)
	data["run_index"] = runIndex
	data["output_ports"] = counts
	ec.emit(Event{
		Type:     EventNodeComplete,
		NodeName: name,
		NodeType: nodeType,
		Data:     data,
	})
}

// emitNodeError emits a node:error event.
func (ec *ExecutionContext) emitNodeError(name, nodeType string, runIndex int, err error) {
	ec.emit(Event{
		Type:     EventNodeError,
		NodeName: name,
		NodeType: nodeType,
		Data: map[string]any{
			"run_index": runIndex,
			"error":     err.Error(),
		},
	})
}

// emitExecutionComplete emits the execution:complete event.
func (ec *ExecutionContext) emitExecutionComplete(completed, total int) {
	ec.emit(Event{Type: EventExecutionComplete, Data: progressData(completed, total)})
}

// emitExecutionError emits the execution:error event.
func (ec *ExecutionContext) emitExecutionError(err error) {
	ec.emit(Event{
		Type: EventExecutionError,
		Data: map[string]any{"error": err.Error()},
	})
}
