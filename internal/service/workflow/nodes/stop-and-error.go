package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// stopAndErrorNode deliberately halts the run with a custom message. In
// "error" mode (the default) it is never subject to continueOnFail — it is
// the explicit "the workflow itself decided to stop" signal. In "warning"
// mode it does not halt anything: it stamps a "_warning" field onto every
// input item and passes them through on "main", letting the branch
// continue with the warning attached for downstream nodes to inspect.
//
// Config (def.Parameters):
//
//	"message": string — error/warning message (required)
//	"mode":    string  — "error" (default) or "warning"
type stopAndErrorNode struct{}

func init() {
	workflow.RegisterNodeType("stop_and_error", func() workflow.Noder { return &stopAndErrorNode{} })
}

func (n *stopAndErrorNode) Type() string    { return "stop_and_error" }
func (n *stopAndErrorNode) InputCount() int { return 1 }

func (n *stopAndErrorNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	if _, ok := def.Parameters["message"].(string); !ok {
		return fmt.Errorf("stop_and_error: 'message' is required")
	}
	switch mode, _ := def.Parameters["mode"].(string); mode {
	case "", "error", "warning":
	default:
		return fmt.Errorf("stop_and_error: unknown mode %q", mode)
	}
	return nil
}

func (n *stopAndErrorNode) Execute(_ context.Context, _ *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	message, _ := def.Parameters["message"].(string)
	mode, _ := def.Parameters["mode"].(string)

	if mode == "warning" {
		out := make([]workflow.Item, len(inputs))
		for i, item := range inputs {
			data := cloneJSON(item.JSON)
			data["_warning"] = message
			out[i] = workflow.Item{JSON: data, Binary: item.Binary}
		}
		return workflow.Main(out), nil
	}

	return nil, &workflow.WorkflowStopError{Message: message}
}
