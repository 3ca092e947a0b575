package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// setNode assigns or overwrites fields on every input item, each value
// resolved as a {{ }} expression against that item. With "keepOnlySet" the
// item's other fields are dropped, leaving only the configured fields.
//
// Config (def.Parameters):
//
//	"fields":      map[string]any — field name -> {{ }} expression or literal
//	"keepOnlySet": bool — when true, output items contain only "fields" (default false)
type setNode struct{}

func init() {
	workflow.RegisterNodeType("set", func() workflow.Noder { return &setNode{} })
}

func (n *setNode) Type() string    { return "set" }
func (n *setNode) InputCount() int { return 1 }

func (n *setNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *setNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	fields, _ := def.Parameters["fields"].(map[string]any)
	keepOnlySet, _ := def.Parameters["keepOnlySet"].(bool)

	out := make([]workflow.Item, len(inputs))
	for idx, item := range inputs {
		exprCtx := workflow.NewExpressionContext(ec, inputs, idx)

		var result map[string]any
		if keepOnlySet {
			result = map[string]any{}
		} else {
			result = cloneJSON(item.JSON)
		}

		for key, raw := range fields {
			result[key] = workflow.ResolveExpressions(raw, exprCtx, false)
		}

		out[idx] = workflow.Item{JSON: result, Binary: item.Binary}
	}

	return workflow.Main(out), nil
}
