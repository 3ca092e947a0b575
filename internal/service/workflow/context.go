package workflow

import (
	"net/http"
	"sync"
	"time"
)

// Mode is the trigger mode a run was started in.
type Mode string

const (
	ModeManual  Mode = "manual"
	ModeWebhook Mode = "webhook"
	ModeCron    Mode = "cron"
)

// ExecutionError records one node-attributed failure during a run.
type ExecutionError struct {
	NodeName  string    `json:"node_name"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// WebhookResponse is a custom HTTP response captured by a RespondToWebhook
// node. When set on the context it overrides the dispatcher's default
// response composition.
type WebhookResponse struct {
	StatusCode  int
	Body        any
	Headers     map[string]string
	ContentType string
}

// WorkflowRepository is the external interface the core consumes to load
// sub-workflows (ExecuteWorkflow) and resolve the active version of a
// workflow (used by the webhook dispatcher). Storage, listing, and mutation
// of workflows is entirely outside the core's concern — see
// internal/store for the concrete adapters.
type WorkflowRepository interface {
	GetWorkflow(id string) (*Workflow, error)
}

// ExecutionContext is the per-run mutable state threaded through every job.
// It is created once by the runner at the start of a run and released when
// the run completes. Nodes borrow it during Execute and may mutate only
// PendingInputs, NodeInternalState, WebhookResponse, and Errors (the last
// indirectly, via returning an error from Execute) — node_states and
// node_run_counts are owned exclusively by the runner.
type ExecutionContext struct {
	Workflow    *Workflow
	ExecutionID string
	Mode        Mode
	StartTime   time.Time

	mu                sync.Mutex
	nodeStates        map[string][]Item
	nodeRunCounts     map[string]int
	pendingInputs     map[string]map[string]PortOutput // "{node}:{run_index}" -> "{source}:{output}" -> PortOutput
	nodeInternalState map[string]map[string]any
	errors            []ExecutionError
	webhookResponse   *WebhookResponse

	// HTTPClient is shared across every node execution in the run (and
	// reused by sub-workflows) so connection pooling amortizes across the
	// whole run rather than per node.
	HTTPClient *http.Client

	ExecutionDepth    int
	MaxExecutionDepth int
	ParentExecutionID string

	WorkflowRepository WorkflowRepository

	// OnEvent, when set, receives every execution event for this run. Calls
	// are synchronous: a panicking callback is recovered, but a slow one
	// blocks the goroutine that emitted the event.
	OnEvent EventCallback

	// VarLookup resolves a named variable (e.g. for getVar() in Code nodes
	// or Template/Log templates). Optional — nil when no variable store is wired.
	VarLookup VarLookup
}

// VarLookup resolves a stored variable's value by key.
type VarLookup func(key string) (string, error)

// NewExecutionContext creates a fresh per-run context.
func NewExecutionContext(wf *Workflow, executionID string, mode Mode) *ExecutionContext {
	return &ExecutionContext{
		Workflow:          wf,
		ExecutionID:       executionID,
		Mode:              mode,
		StartTime:         time.Now(),
		nodeStates:        make(map[string][]Item),
		nodeRunCounts:     make(map[string]int),
		pendingInputs:     make(map[string]map[string]PortOutput),
		nodeInternalState: make(map[string]map[string]any),
		MaxExecutionDepth: 10,
	}
}

// ─── node_states ───

func (ec *ExecutionContext) setNodeState(name string, items []Item) {
	ec.mu.Lock()
	ec.nodeStates[name] = items
	ec.mu.Unlock()
}

// NodeState returns the last-emitted item list for a node, and whether it
// has run at all.
func (ec *ExecutionContext) NodeState(name string) ([]Item, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	items, ok := ec.nodeStates[name]
	return items, ok
}

// NodeStates returns a snapshot copy of every node's last-emitted items.
func (ec *ExecutionContext) NodeStates() map[string][]Item {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string][]Item, len(ec.nodeStates))
	for k, v := range ec.nodeStates {
		out[k] = v
	}
	return out
}

// ─── node_run_counts ───

func (ec *ExecutionContext) incrementRunCount(name string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.nodeRunCounts[name]++
	return ec.nodeRunCounts[name]
}

// NodeRunCount returns how many times a node has successfully completed.
func (ec *ExecutionContext) NodeRunCount(name string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.nodeRunCounts[name]
}

// ─── pending_inputs (multi-input join bookkeeping) ───

// recordPendingInput stores one upstream contribution toward a join node's
// firing, returning the number of distinct upstream keys received so far.
func (ec *ExecutionContext) recordPendingInput(nodeKey, inputKey string, v PortOutput) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	bucket, ok := ec.pendingInputs[nodeKey]
	if !ok {
		bucket = make(map[string]PortOutput)
		ec.pendingInputs[nodeKey] = bucket
	}
	bucket[inputKey] = v
	return len(bucket)
}

// takePendingInputs removes and returns a join node's accumulated bucket,
// deleting it so a later run_index starts fresh.
func (ec *ExecutionContext) takePendingInputs(nodeKey string) map[string]PortOutput {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	bucket := ec.pendingInputs[nodeKey]
	delete(ec.pendingInputs, nodeKey)
	return bucket
}

// ─── node_internal_state (Loop / SplitInBatches) ───

// NodeInternalState returns the mutable internal-state map for a node,
// creating it on first access. Callers must hold no other lock while using
// the returned map; it is guarded for the duration of each accessor call
// only, matching the spec's "borrowed, mutate directly" ownership model for
// stateful flow-control nodes (which are never executed concurrently with
// themselves since a node only re-enters via its own loop port, never in
// parallel with itself within one layer).
func (ec *ExecutionContext) NodeInternalState(name string) map[string]any {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	st, ok := ec.nodeInternalState[name]
	if !ok {
		st = make(map[string]any)
		ec.nodeInternalState[name] = st
	}
	return st
}

// ClearNodeInternalState deletes a node's internal state (called when a
// stateful node signals it is done, e.g. SplitInBatches exhausted).
func (ec *ExecutionContext) ClearNodeInternalState(name string) {
	ec.mu.Lock()
	delete(ec.nodeInternalState, name)
	ec.mu.Unlock()
}

// ─── errors ───

// AddError records a node-attributed failure.
func (ec *ExecutionContext) AddError(nodeName, message string) {
	ec.mu.Lock()
	ec.errors = append(ec.errors, ExecutionError{
		NodeName:  nodeName,
		Error:     message,
		Timestamp: time.Now(),
	})
	ec.mu.Unlock()
}

// Errors returns a copy of every recorded error, in the order recorded.
func (ec *ExecutionContext) Errors() []ExecutionError {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]ExecutionError{}, ec.errors...)
}

// ─── webhook_response ───

// SetWebhookResponse records a custom response from a RespondToWebhook node.
func (ec *ExecutionContext) SetWebhookResponse(r *WebhookResponse) {
	ec.mu.Lock()
	ec.webhookResponse = r
	ec.mu.Unlock()
}

// WebhookResponse returns the captured custom response, or nil.
func (ec *ExecutionContext) WebhookResponse() *WebhookResponse {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.webhookResponse
}
