package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// cronTriggerNode merges a configured static payload with the run's initial
// items (which carry the scheduler's trigger metadata: schedule,
// triggered_at timestamp, trigger_id, mode) and emits the combined result
// on "main".
//
// Config (def.Parameters):
//
//	"payload": map[string]any — static fields merged into each item; a payload
//	           key replaces an item field of the same name
type cronTriggerNode struct{}

func init() {
	workflow.RegisterNodeType("cron_trigger", func() workflow.Noder { return &cronTriggerNode{} })
}

func (n *cronTriggerNode) Type() string    { return "cron_trigger" }
func (n *cronTriggerNode) InputCount() int { return 0 }

func (n *cronTriggerNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *cronTriggerNode) Execute(_ context.Context, _ *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	payload, _ := def.Parameters["payload"].(map[string]any)
	if len(payload) == 0 {
		return workflow.Main(inputs), nil
	}

	out := make([]workflow.Item, len(inputs))
	for i, it := range inputs {
		merged := cloneJSON(it.JSON)
		for k, v := range payload {
			merged[k] = v
		}
		out[i] = workflow.Item{JSON: merged, Binary: it.Binary}
	}

	return workflow.Main(out), nil
}
