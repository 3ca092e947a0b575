package nodes

import (
	"context"
	"testing"

	"github.com/rakunlabs/at/internal/service/workflow"
)

func TestSwitchNode_RulesMode(t *testing.T) {
	n := &switchNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"numberOfOutputs": float64(2),
		"mode":            "rules",
		"rules": []any{
			map[string]any{"output": float64(0), "field": "status", "operation": "equals", "value": "ok"},
			map[string]any{"output": float64(1), "field": "status", "operation": "equals", "value": "error"},
		},
	}}

	ec := workflow.NewExecutionContext(&workflow.Workflow{}, "exec-1", workflow.ModeManual)
	inputs := []workflow.Item{
		{JSON: map[string]any{"status": "ok"}},
		{JSON: map[string]any{"status": "error"}},
		{JSON: map[string]any{"status": "unknown"}},
	}

	result, err := n.Execute(context.Background(), ec, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(result.Outputs["output0"].Items()); got != 1 {
		t.Errorf("expected 1 item on output0, got %d", got)
	}
	if got := len(result.Outputs["output1"].Items()); got != 1 {
		t.Errorf("expected 1 item on output1, got %d", got)
	}
	if got := len(result.Outputs["fallback"].Items()); got != 1 {
		t.Errorf("expected 1 item on fallback, got %d", got)
	}
}

func TestSwitchNode_ExpressionMode(t *testing.T) {
	n := &switchNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"numberOfOutputs": float64(3),
		"mode":            "expression",
		"expression":      "{{ $json.bucket }}",
	}}

	ec := workflow.NewExecutionContext(&workflow.Workflow{}, "exec-1", workflow.ModeManual)
	inputs := []workflow.Item{
		{JSON: map[string]any{"bucket": 0}},
		{JSON: map[string]any{"bucket": 2}},
		{JSON: map[string]any{"bucket": 99}},
	}

	result, err := n.Execute(context.Background(), ec, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(result.Outputs["output0"].Items()); got != 1 {
		t.Errorf("expected 1 item on output0, got %d", got)
	}
	if got := len(result.Outputs["output2"].Items()); got != 1 {
		t.Errorf("expected 1 item on output2, got %d", got)
	}
	if got := len(result.Outputs["fallback"].Items()); got != 1 {
		t.Errorf("expected the out-of-range bucket to fall back, got %d", got)
	}
}

func TestSwitchNode_ValidateRejectsMissingRules(t *testing.T) {
	n := &switchNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{"mode": "rules"}}
	if err := n.Validate(context.Background(), nil, def); err == nil {
		t.Errorf("expected validation to fail without 'rules'")
	}
}
