package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// outputNode is a no-op terminal marker: it passes its input through
// unchanged on "main" so a run's final result can be read back from
// ExecutionContext.NodeState for this node's name.
type outputNode struct{}

func init() {
	workflow.RegisterNodeType("output", func() workflow.Noder { return &outputNode{} })
}

func (n *outputNode) Type() string    { return "output" }
func (n *outputNode) InputCount() int { return 1 }

func (n *outputNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *outputNode) Execute(_ context.Context, _ *workflow.ExecutionContext, _ workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	return workflow.Main(inputs), nil
}
