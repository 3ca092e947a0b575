package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// switchNode routes each input item to one of a fixed set of numbered
// output ports, "output0".."output{N-1}", plus a "fallback" port for items
// that match nothing.
//
// Config (def.Parameters):
//
//	"numberOfOutputs": float64 — N, number of numbered ports, 1..15 (default 1)
//	"mode":             string  — "rules" (default) or "expression"
//
//	rules mode:
//	  "rules": []any — [{"output": int, "condition": string}, ...] or
//	           [{"output": int, "field": string, "operation": string, "value": any}, ...]
//	           Rules are tested in order; the first match wins. An item
//	           matching no rule goes to "fallback".
//
//	expression mode:
//	  "expression": string — {{ }} expression evaluated per item, returning
//	                the target output index (number); out-of-range or
//	                non-numeric results go to "fallback".
type switchNode struct{}

func init() {
	workflow.RegisterNodeType("switch", func() workflow.Noder { return &switchNode{} })
}

func (n *switchNode) Type() string    { return "switch" }
func (n *switchNode) InputCount() int { return 1 }

func (n *switchNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	mode, _ := def.Parameters["mode"].(string)
	if mode == "" {
		mode = "rules"
	}
	switch mode {
	case "rules":
		if _, ok := def.Parameters["rules"].([]any); !ok {
			return fmt.Errorf("switch: 'rules' is required in rules mode")
		}
	case "expression":
		if s, _ := def.Parameters["expression"].(string); s == "" {
			return fmt.Errorf("switch: 'expression' is required in expression mode")
		}
	default:
		return fmt.Errorf("switch: unknown mode %q", mode)
	}
	return nil
}

type switchRule struct {
	output    int
	condition string
	field     string
	operation string
	value     any
}

func (n *switchNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	numOutputs := 1
	if v, ok := def.Parameters["numberOfOutputs"].(float64); ok && v >= 1 {
		numOutputs = int(v)
		if numOutputs > 15 {
			numOutputs = 15
		}
	}

	mode, _ := def.Parameters["mode"].(string)
	if mode == "" {
		mode = "rules"
	}

	buckets := make([][]workflow.Item, numOutputs)
	var fallback []workflow.Item

	if mode == "expression" {
		expression, _ := def.Parameters["expression"].(string)
		for idx, item := range inputs {
			exprCtx := workflow.NewExpressionContext(ec, inputs, idx)
			resolved := workflow.ResolveExpressions(expression, exprCtx, false)
			port, ok := asInt(resolved)
			if !ok || port < 0 || port >= numOutputs {
				fallback = append(fallback, item)
				continue
			}
			buckets[port] = append(buckets[port], item)
		}
	} else {
		rules := parseSwitchRules(def.Parameters["rules"])
		for idx, item := range inputs {
			matched := -1
			for _, rule := range rules {
				if rule.output < 0 || rule.output >= numOutputs {
					continue
				}
				if ruleMatches(rule, item, ec, inputs, idx) {
					matched = rule.output
					break
				}
			}
			if matched == -1 {
				fallback = append(fallback, item)
				continue
			}
			buckets[matched] = append(buckets[matched], item)
		}
	}

	outputs := make(map[string]workflow.PortOutput, numOutputs+1)
	for i, items := range buckets {
		outputs[fmt.Sprintf("output%d", i)] = workflow.Output(items)
	}
	outputs["fallback"] = workflow.Output(fallback)

	return &workflow.NodeExecutionResult{Outputs: outputs}, nil
}

func ruleMatches(rule switchRule, item workflow.Item, ec *workflow.ExecutionContext, inputs []workflow.Item, idx int) bool {
	if rule.condition != "" {
		exprCtx := workflow.NewExpressionContext(ec, inputs, idx)
		resolved := workflow.ResolveExpressions(rule.condition, exprCtx, false)
		return truthy(resolved)
	}
	value := nestedValue(item.JSON, rule.field)
	return evaluateIfOperation(value, rule.operation, rule.value)
}

func parseSwitchRules(raw any) []switchRule {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	rules := make([]switchRule, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		output, _ := asInt(m["output"])
		operation, _ := m["operation"].(string)
		if operation == "" {
			operation = "isTrue"
		}
		rules = append(rules, switchRule{
			output:    output,
			condition: stringField(m, "condition"),
			field:     stringField(m, "field"),
			operation: operation,
			value:     m["value"],
		})
	}
	return rules
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
