package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// executeWorkflowTriggerNode is the entry point a workflow exposes for
// being called as a sub-workflow via the ExecuteWorkflow node. It passes
// the caller-supplied seed item through unchanged on "main".
type executeWorkflowTriggerNode struct{}

func init() {
	workflow.RegisterNodeType("execute_workflow_trigger", func() workflow.Noder { return &executeWorkflowTriggerNode{} })
}

func (n *executeWorkflowTriggerNode) Type() string    { return "execute_workflow_trigger" }
func (n *executeWorkflowTriggerNode) InputCount() int { return 0 }

func (n *executeWorkflowTriggerNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *executeWorkflowTriggerNode) Execute(_ context.Context, _ *workflow.ExecutionContext, _ workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	return workflow.Main(inputs), nil
}
