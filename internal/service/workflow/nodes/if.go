package nodes

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// ifNode routes each input item to either the "true" or "false" output
// port, either by a single {{ }} condition expression or by a
// field/operation/value comparison evaluated per item.
type ifNode struct{}

func init() {
	workflow.RegisterNodeType("if", func() workflow.Noder { return &ifNode{} })
}

func (n *ifNode) Type() string    { return "if" }
func (n *ifNode) InputCount() int { return 1 }

func (n *ifNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	op, _ := def.Parameters["operation"].(string)
	if op != "" && !validIfOperations[op] {
		return fmt.Errorf("if: unknown operation %q", op)
	}
	return nil
}

var validIfOperations = map[string]bool{
	"equals": true, "notEquals": true, "contains": true, "notContains": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"isEmpty": true, "isNotEmpty": true, "isTrue": true, "isFalse": true, "regex": true,
}

func (n *ifNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	condition, _ := def.Parameters["condition"].(string)
	field, _ := def.Parameters["field"].(string)
	operation, _ := def.Parameters["operation"].(string)
	if operation == "" {
		operation = "isTrue"
	}
	compareValue := def.Parameters["value"]

	var trueOut, falseOut []workflow.Item

	for idx, item := range inputs {
		var result bool
		if condition != "" {
			exprCtx := workflow.NewExpressionContext(ec, inputs, idx)
			resolved := workflow.ResolveExpressions(condition, exprCtx, false)
			result = truthy(resolved)
		} else {
			fieldValue := nestedValue(item.JSON, field)
			result = evaluateIfOperation(fieldValue, operation, compareValue)
		}

		if result {
			trueOut = append(trueOut, item)
		} else {
			falseOut = append(falseOut, item)
		}
	}

	return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
		"true":  workflow.Output(trueOut),
		"false": workflow.Output(falseOut),
	}}, nil
}

func nestedValue(obj map[string]any, path string) any {
	if path == "" {
		return obj
	}
	var current any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

func evaluateIfOperation(fieldValue any, operation string, compareValue any) bool {
	switch operation {
	case "equals":
		return fmt.Sprintf("%v", fieldValue) == fmt.Sprintf("%v", compareValue)
	case "notEquals":
		return fmt.Sprintf("%v", fieldValue) != fmt.Sprintf("%v", compareValue)
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", fieldValue), fmt.Sprintf("%v", compareValue))
	case "notContains":
		return !strings.Contains(fmt.Sprintf("%v", fieldValue), fmt.Sprintf("%v", compareValue))
	case "gt", "gte", "lt", "lte":
		a, aok := asFloat(fieldValue)
		b, bok := asFloat(compareValue)
		if !aok || !bok {
			return false
		}
		switch operation {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "isEmpty":
		return isEmptyValue(fieldValue)
	case "isNotEmpty":
		return !isEmptyValue(fieldValue)
	case "isTrue":
		return fieldValue == true || fieldValue == "true" || fieldValue == float64(1)
	case "isFalse":
		return fieldValue == false || fieldValue == "false" || fieldValue == float64(0)
	case "regex":
		re, err := regexp.Compile(fmt.Sprintf("%v", compareValue))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", fieldValue))
	default:
		return truthy(fieldValue)
	}
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	switch x := v.(type) {
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
