package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// splitInBatchesNode accumulates its input across calls and emits it in
// fixed-size batches on the "loop" port while items remain, then emits
// everything accumulated so far on "done" once exhausted. A "reset" input
// flag re-initializes the accumulated state, starting a new pass.
type splitInBatchesNode struct{}

func init() {
	workflow.RegisterNodeType("split_in_batches", func() workflow.Noder { return &splitInBatchesNode{} })
}

func (n *splitInBatchesNode) Type() string    { return "split_in_batches" }
func (n *splitInBatchesNode) InputCount() int { return 1 }

func (n *splitInBatchesNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *splitInBatchesNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	batchSize := 1
	if v, ok := def.Parameters["batchSize"].(float64); ok && v > 0 {
		batchSize = int(v)
	}

	state := ec.NodeInternalState(def.Name)

	reset := false
	if len(inputs) > 0 {
		if r, ok := inputs[0].JSON["reset"]; ok && truthy(r) {
			reset = true
		}
	}

	remaining, haveState := state["remaining"].([]workflow.Item)
	processed, _ := state["processed"].([]workflow.Item)
	if !haveState || reset {
		remaining = workflow.CloneItems(inputs)
		processed = nil
	}

	if len(remaining) == 0 {
		ec.ClearNodeInternalState(def.Name)
		return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
			"loop": workflow.NoOutput(),
			"done": workflow.Output(processed),
		}}, nil
	}

	end := batchSize
	if end > len(remaining) {
		end = len(remaining)
	}
	batch := remaining[:end]
	remaining = remaining[end:]
	processed = append(processed, batch...)

	state["remaining"] = remaining
	state["processed"] = processed

	return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
		"loop": workflow.Output(batch),
		"done": workflow.NoOutput(),
	}}, nil
}
