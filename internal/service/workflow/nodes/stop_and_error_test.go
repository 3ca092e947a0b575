package nodes

import (
	"context"
	"testing"

	"github.com/rakunlabs/at/internal/service/workflow"
)

func TestStopAndErrorNode_ErrorModeHalts(t *testing.T) {
	n := &stopAndErrorNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{"message": "boom"}}

	result, err := n.Execute(context.Background(), nil, def, []workflow.Item{{JSON: map[string]any{}}})
	if result != nil {
		t.Errorf("expected no result in error mode, got %v", result)
	}
	stop, ok := workflow.AsWorkflowStop(err)
	if !ok {
		t.Fatalf("expected a WorkflowStopError, got %v", err)
	}
	if stop.Warning {
		t.Errorf("expected error mode to be a non-warning stop")
	}
	if stop.Message != "boom" {
		t.Errorf("expected message %q, got %q", "boom", stop.Message)
	}
}

func TestStopAndErrorNode_WarningModePassesThrough(t *testing.T) {
	n := &stopAndErrorNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{"message": "careful", "mode": "warning"}}

	inputs := []workflow.Item{{JSON: map[string]any{"x": 1}}}
	result, err := n.Execute(context.Background(), nil, def, inputs)
	if err != nil {
		t.Fatalf("warning mode should not halt the run, got error: %v", err)
	}
	items := result.Outputs["main"].Items()
	if len(items) != 1 {
		t.Fatalf("expected the input item to pass through, got %d items", len(items))
	}
	if items[0].JSON["_warning"] != "careful" {
		t.Errorf("expected _warning to be stamped on the item, got %v", items[0].JSON)
	}
	if items[0].JSON["x"] != 1 {
		t.Errorf("expected original fields to survive, got %v", items[0].JSON)
	}
}
