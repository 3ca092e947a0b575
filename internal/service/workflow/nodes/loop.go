package nodes

import (
	"context"
	"strconv"
	"strings"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// loopNode is a three-way router: "continue" / "loop" / "done". It maintains
// an iteration counter in its NodeInternalState bucket, evaluates an exit
// condition expression (or just the max-iterations bound when the condition
// is blank) each call, and exits by clearing its own state.
//
// An input item carrying "_readyToTest": true short-circuits straight to
// "continue" without touching the iteration counter — the flag is stripped
// from the item before it is forwarded.
type loopNode struct{}

func init() {
	workflow.RegisterNodeType("loop", func() workflow.Noder { return &loopNode{} })
}

func (n *loopNode) Type() string    { return "loop" }
func (n *loopNode) InputCount() int { return 1 }

func (n *loopNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *loopNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	maxIterations := 10
	if v, ok := def.Parameters["maxIterations"].(float64); ok && v > 0 {
		maxIterations = int(v)
	}
	exitCondition, _ := def.Parameters["exitCondition"].(string)
	counterField, _ := def.Parameters["counterField"].(string)
	if counterField == "" {
		counterField = "_loopIteration"
	}

	if len(inputs) > 0 {
		if ready, ok := inputs[0].JSON["_readyToTest"]; ok && truthy(ready) {
			items := make([]workflow.Item, len(inputs))
			for i, it := range inputs {
				items[i] = stripField(it, "_readyToTest")
			}
			return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
				"continue": workflow.Output(items),
				"loop":     workflow.NoOutput(),
				"done":     workflow.NoOutput(),
			}}, nil
		}
	}

	state := ec.NodeInternalState(def.Name)
	iteration, _ := state["iteration"].(int)
	iteration++
	state["iteration"] = iteration

	conditionMet := false
	if exitCondition != "" {
		exprCtx := workflow.NewExpressionContext(ec, inputs, 0)
		exprCtx.JSON = mergeExitContext(inputs, counterField, iteration, maxIterations)
		resolved := workflow.ResolveExpressions(exitCondition, exprCtx, false)
		conditionMet = coerceExitBool(resolved, exitCondition)
	}

	maxReached := iteration >= maxIterations
	shouldExit := conditionMet || maxReached

	items := make([]workflow.Item, len(inputs))
	for i, it := range inputs {
		enriched := cloneJSON(it.JSON)
		enriched[counterField] = iteration
		enriched["_loopMaxReached"] = maxReached
		enriched["_loopConditionMet"] = conditionMet
		items[i] = workflow.Item{JSON: enriched, Binary: it.Binary}
	}

	if shouldExit {
		ec.ClearNodeInternalState(def.Name)
		return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
			"continue": workflow.NoOutput(),
			"loop":     workflow.NoOutput(),
			"done":     workflow.Output(items),
		}}, nil
	}

	return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
		"continue": workflow.NoOutput(),
		"loop":     workflow.Output(items),
		"done":     workflow.NoOutput(),
	}}, nil
}

// mergeExitContext builds the {**json, counterField: iteration, "_maxIterations": max}
// context the exit condition is evaluated against, using the first item's
// JSON as the base (matching the Python original's single-item assumption
// for loop control data).
func mergeExitContext(inputs []workflow.Item, counterField string, iteration, max int) map[string]any {
	base := map[string]any{}
	if len(inputs) > 0 {
		base = cloneJSON(inputs[0].JSON)
	}
	base[counterField] = iteration
	base["_maxIterations"] = max
	return base
}

// coerceExitBool applies the original's lenient coercion: a real bool
// passes through, a nonzero number is truthy, an expression that evaluated
// to its own unchanged source text is treated as false (unresolved), and
// anything else falls back to a loose true/false/1/yes string match.
func coerceExitBool(v any, original string) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int64:
		return x != 0
	case string:
		if x == original {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes":
			return true
		}
		return false
	default:
		return false
	}
}

func stripField(it workflow.Item, field string) workflow.Item {
	out := cloneJSON(it.JSON)
	delete(out, field)
	return workflow.Item{JSON: out, Binary: it.Binary}
}

func cloneJSON(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// asInt is used by nodes that accept either a JSON number or a string for a
// count-like parameter (e.g. batch size coming from an upstream expression).
func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case int:
		return x, true
	case int64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil
	default:
		return 0, false
	}
}
