package workflow

import (
	"context"
	"testing"
)

// passthroughNode passes every input item straight through on "main". Used
// by multiple tests below as an inert filler node.
type passthroughNode struct{ typ string }

func (n *passthroughNode) Type() string    { return n.typ }
func (n *passthroughNode) InputCount() int { return 1 }
func (n *passthroughNode) Validate(context.Context, *Registry, NodeDefinition) error {
	return nil
}
func (n *passthroughNode) Execute(context.Context, *ExecutionContext, NodeDefinition, []Item) (*NodeExecutionResult, error) {
	return Main([]Item{{JSON: map[string]any{"ok": true}}}), nil
}

// haltingNode raises a WorkflowStopError, in either error or warning mode
// depending on its configured "warning" parameter.
type haltingNode struct{}

func (n *haltingNode) Type() string    { return "test_halt" }
func (n *haltingNode) InputCount() int { return 1 }
func (n *haltingNode) Validate(context.Context, *Registry, NodeDefinition) error {
	return nil
}
func (n *haltingNode) Execute(_ context.Context, _ *ExecutionContext, def NodeDefinition, _ []Item) (*NodeExecutionResult, error) {
	warning, _ := def.Parameters["warning"].(bool)
	return nil, &WorkflowStopError{Message: "stop requested", Warning: warning}
}

func init() {
	RegisterNodeType("test_trigger", func() Noder { return &passthroughNode{typ: "test_trigger"} })
	RegisterNodeType("test_passthrough", func() Noder { return &passthroughNode{typ: "test_passthrough"} })
	RegisterNodeType("test_halt", func() Noder { return &haltingNode{} })
}

func TestRun_WorkflowStopErrorHaltsEntireRun(t *testing.T) {
	// trigger -> halt (error mode)
	//         -> sibling (should never run to completion once halt fires)
	wf := &Workflow{
		Name: "halt-run",
		Nodes: []NodeDefinition{
			{Name: "trigger", Type: "test_trigger"},
			{Name: "halt", Type: "test_halt", Parameters: map[string]any{"warning": false}},
			{Name: "sibling", Type: "test_passthrough"},
		},
		Connections: []Connection{
			{SourceNode: "trigger", TargetNode: "halt"},
			{SourceNode: "trigger", TargetNode: "sibling"},
		},
	}

	runner := NewRunner(NewRegistry())
	ec, err := runner.Run(context.Background(), wf, []string{"trigger"}, []Item{{JSON: map[string]any{}}}, RunOptions{Mode: ModeManual})

	if err == nil {
		t.Fatalf("expected the run to return the stop error, got nil")
	}
	stop, ok := AsWorkflowStop(err)
	if !ok {
		t.Fatalf("expected a WorkflowStopError, got %v", err)
	}
	if stop.Warning {
		t.Errorf("expected a non-warning stop")
	}
	if len(ec.Errors()) == 0 {
		t.Errorf("expected the halted run to record an error")
	}
}

func TestRun_WarningStopReportsAsCompleted(t *testing.T) {
	wf := &Workflow{
		Name: "warning-stop",
		Nodes: []NodeDefinition{
			{Name: "trigger", Type: "test_trigger"},
			{Name: "halt", Type: "test_halt", Parameters: map[string]any{"warning": true}},
		},
		Connections: []Connection{
			{SourceNode: "trigger", TargetNode: "halt"},
		},
	}

	runner := NewRunner(NewRegistry())
	_, err := runner.Run(context.Background(), wf, []string{"trigger"}, []Item{{JSON: map[string]any{}}}, RunOptions{Mode: ModeManual})

	if err != nil {
		t.Fatalf("expected a warning stop to report as a successful run, got error: %v", err)
	}
}

func TestRun_LinearGraphCompletes(t *testing.T) {
	wf := &Workflow{
		Name: "linear",
		Nodes: []NodeDefinition{
			{Name: "trigger", Type: "test_trigger"},
			{Name: "step", Type: "test_passthrough"},
		},
		Connections: []Connection{
			{SourceNode: "trigger", TargetNode: "step"},
		},
	}

	runner := NewRunner(NewRegistry())
	ec, err := runner.Run(context.Background(), wf, []string{"trigger"}, []Item{{JSON: map[string]any{}}}, RunOptions{Mode: ModeManual})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ec.Errors()) != 0 {
		t.Errorf("expected no errors, got %v", ec.Errors())
	}
}
