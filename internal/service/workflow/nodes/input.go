package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// manualTriggerNode has no inputs and emits the run's initial items
// unchanged on "main" — the entry point for a manually-started run.
type manualTriggerNode struct{}

func init() {
	workflow.RegisterNodeType("manual_trigger", func() workflow.Noder { return &manualTriggerNode{} })
}

func (n *manualTriggerNode) Type() string    { return "manual_trigger" }
func (n *manualTriggerNode) InputCount() int { return 0 }

func (n *manualTriggerNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *manualTriggerNode) Execute(_ context.Context, _ *workflow.ExecutionContext, _ workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	return workflow.Main(inputs), nil
}
