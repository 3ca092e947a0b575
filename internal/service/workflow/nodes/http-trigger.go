package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// webhookTriggerNode is functionally identical to manualTriggerNode — it
// passes the run's initial items (the decoded HTTP request body) downstream
// on "main". It exists as a distinct type so the graph and the visual
// editor can show the trigger origin.
type webhookTriggerNode struct{}

func init() {
	workflow.RegisterNodeType("webhook_trigger", func() workflow.Noder { return &webhookTriggerNode{} })
}

func (n *webhookTriggerNode) Type() string    { return "webhook_trigger" }
func (n *webhookTriggerNode) InputCount() int { return 0 }

func (n *webhookTriggerNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *webhookTriggerNode) Execute(_ context.Context, _ *workflow.ExecutionContext, _ workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	return workflow.Main(inputs), nil
}
