package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// filterNode keeps only the items for which a condition holds, evaluated
// per item the same way If evaluates its condition — a {{ }} expression, or
// a field/operation/value triple when no expression is configured.
type filterNode struct{}

func init() {
	workflow.RegisterNodeType("filter", func() workflow.Noder { return &filterNode{} })
}

func (n *filterNode) Type() string    { return "filter" }
func (n *filterNode) InputCount() int { return 1 }

func (n *filterNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *filterNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	condition, _ := def.Parameters["condition"].(string)
	field, _ := def.Parameters["field"].(string)
	operation, _ := def.Parameters["operation"].(string)
	if operation == "" {
		operation = "isTrue"
	}
	compareValue := def.Parameters["value"]

	var kept []workflow.Item
	for idx, item := range inputs {
		var keep bool
		if condition != "" {
			exprCtx := workflow.NewExpressionContext(ec, inputs, idx)
			resolved := workflow.ResolveExpressions(condition, exprCtx, false)
			keep = truthy(resolved)
		} else {
			keep = evaluateIfOperation(nestedValue(item.JSON, field), operation, compareValue)
		}
		if keep {
			kept = append(kept, item)
		}
	}

	return workflow.Main(kept), nil
}
