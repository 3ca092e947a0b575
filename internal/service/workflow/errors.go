package workflow

import (
	"errors"
	"fmt"
)

// UnknownNodeTypeError is returned by Registry.Get when a node definition
// names a type with no registered factory.
type UnknownNodeTypeError struct {
	Type string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("unknown node type %q", e.Type)
}

// NodeExecutionError wraps a failure from a specific node, attaching the
// node's name and type so the runner can attribute it without re-deriving
// context from the call stack.
type NodeExecutionError struct {
	NodeName string
	NodeType string
	Attempt  int
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q (%s) attempt %d: %v", e.NodeName, e.NodeType, e.Attempt, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }

// WorkflowStopError is raised by the StopAndError and RespondToWebhook nodes
// to halt the entire run rather than just the current branch. The runner's
// own hard limits use ErrIterationLimit and ErrRecursionLimit instead.
// Warning marks a soft stop that still reports as a completed (not failed)
// run with a warning attached.
type WorkflowStopError struct {
	Message string
	Warning bool
}

func (e *WorkflowStopError) Error() string { return e.Message }

// ErrRecursionLimit is returned when an ExecuteWorkflow chain exceeds
// ExecutionContext.MaxExecutionDepth.
var ErrRecursionLimit = errors.New("maximum sub-workflow execution depth exceeded")

// ErrIterationLimit is returned when a run has processed
// Workflow.MaxIterations BFS layers and jobs are still queued.
var ErrIterationLimit = errors.New("maximum iteration count exceeded")

// ValidationError wraps a configuration problem caught at graph-parse time,
// before any node runs (e.g. a Connection referencing an undefined node, or
// a node failing its own Validate).
type ValidationError struct {
	NodeName string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.NodeName == "" {
		return fmt.Sprintf("validation: %v", e.Err)
	}
	return fmt.Sprintf("validation: node %q: %v", e.NodeName, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ErrNotFound is returned by repository lookups (workflow, trigger,
// execution record, variable, node config) when the requested ID does not
// exist.
var ErrNotFound = errors.New("not found")

// AsWorkflowStop reports whether err is (or wraps) a WorkflowStopError and
// returns it.
func AsWorkflowStop(err error) (*WorkflowStopError, bool) {
	var stop *WorkflowStopError
	if errors.As(err, &stop) {
		return stop, true
	}
	return nil, false
}
