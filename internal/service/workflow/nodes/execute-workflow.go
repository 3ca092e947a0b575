package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// executeWorkflowNode loads another workflow by id and runs it as a
// sub-workflow, one run per input item, at execution_depth+1. It forwards
// the parent's http client, workflow repository, and variable lookup so the
// child behaves exactly as if it had been triggered directly.
//
// Config (def.Parameters):
//
//	"workflow_id": string — id of the workflow to run (required)
//	"input_field": string — dot-path into the item to use as the child's
//	                        seed json instead of the whole item (optional)
//
// Output ports:
//
//	"output" — one item per input, the child run's collected outputs plus
//	           "_executionId" and "_subworkflowId" metadata
//	"error"  — one item per input whose child run failed
type executeWorkflowNode struct{}

func init() {
	workflow.RegisterNodeType("execute_workflow", func() workflow.Noder { return &executeWorkflowNode{} })
}

func (n *executeWorkflowNode) Type() string    { return "execute_workflow" }
func (n *executeWorkflowNode) InputCount() int { return 1 }

func (n *executeWorkflowNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	if id, _ := def.Parameters["workflow_id"].(string); id == "" {
		return fmt.Errorf("execute_workflow: 'workflow_id' is required")
	}
	return nil
}

func (n *executeWorkflowNode) Execute(ctx context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	workflowID, _ := def.Parameters["workflow_id"].(string)
	inputField, _ := def.Parameters["input_field"].(string)

	if ec.WorkflowRepository == nil {
		return nil, fmt.Errorf("execute_workflow: no workflow repository configured")
	}

	child, err := ec.WorkflowRepository.GetWorkflow(workflowID)
	if err != nil {
		return nil, fmt.Errorf("execute_workflow: lookup %q: %w", workflowID, err)
	}
	if child == nil {
		return nil, fmt.Errorf("execute_workflow: workflow %q not found", workflowID)
	}

	entryNames := entryPointNames(child)
	if len(entryNames) == 0 {
		return nil, fmt.Errorf("execute_workflow: workflow %q has no execute_workflow_trigger node", workflowID)
	}

	// A node instance is stateless and carries no per-run state, so a fresh
	// Registry for the child run is equivalent to reusing the parent's —
	// the factories it draws from are process-wide.
	runner := workflow.NewRunner(workflow.NewRegistry())

	var success, errored []workflow.Item

	for _, item := range inputs {
		seed := item.JSON
		if inputField != "" {
			if v := nestedValue(item.JSON, inputField); v != nil {
				if m, ok := v.(map[string]any); ok {
					seed = m
				}
			}
		}

		childCtx, runErr := runner.Run(ctx, child, entryNames, []workflow.Item{{JSON: seed}}, workflow.RunOptions{
			Mode:              workflow.ModeManual,
			HTTPClient:        ec.HTTPClient,
			ParentExecutionID: ec.ExecutionID,
			ExecutionDepth:    ec.ExecutionDepth + 1,
			MaxExecutionDepth: ec.MaxExecutionDepth,
			WorkflowRepo:      ec.WorkflowRepository,
			VarLookup:         ec.VarLookup,
			OnEvent:           taggedEventCallback(ec.OnEvent, def.Name, workflowID),
		})
		if runErr != nil {
			errored = append(errored, workflow.Item{JSON: map[string]any{"error": runErr.Error(), "input": item.JSON}})
			continue
		}

		outputs := map[string]any{
			"_executionId":   childCtx.ExecutionID,
			"_subworkflowId": workflowID,
		}
		for name, items := range childCtx.NodeStates() {
			if len(items) == 1 {
				outputs[name] = items[0].JSON
			} else {
				list := make([]map[string]any, len(items))
				for i, it := range items {
					list[i] = it.JSON
				}
				outputs[name] = list
			}
		}

		success = append(success, workflow.Item{JSON: outputs})
	}

	return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
		"output": workflow.Output(success),
		"error":  workflow.Output(errored),
	}}, nil
}

// entryPointNames returns the names of a workflow's execute_workflow_trigger
// nodes, its sub-workflow entry points.
func entryPointNames(wf *workflow.Workflow) []string {
	var names []string
	for _, node := range wf.Nodes {
		if node.Type == "execute_workflow_trigger" {
			names = append(names, node.Name)
		}
	}
	return names
}

// taggedEventCallback wraps a parent's event callback so every event raised
// during the child run carries the parent node name and the child workflow
// id, letting a subscriber reconstruct which ExecuteWorkflow call produced
// them.
func taggedEventCallback(parent workflow.EventCallback, parentNodeName, subworkflowID string) workflow.EventCallback {
	if parent == nil {
		return nil
	}
	return func(ev workflow.Event) {
		ev.SubworkflowParentNode = parentNodeName
		ev.SubworkflowID = subworkflowID
		parent(ev)
	}
}
