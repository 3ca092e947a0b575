package nodes

import (
	"context"
	"testing"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// branchTagged mirrors what the runner's collectMultiInput produces: each
// item carries workflow.MergeBranchKey identifying which upstream branch it
// arrived on.
func branchTagged(branch int, json map[string]any) workflow.Item {
	data := make(map[string]any, len(json)+1)
	for k, v := range json {
		data[k] = v
	}
	data[workflow.MergeBranchKey] = branch
	return workflow.Item{JSON: data}
}

func TestMergeNode_AppendDefault(t *testing.T) {
	n := &mergeNode{}
	inputs := []workflow.Item{
		branchTagged(0, map[string]any{"id": "a"}),
		branchTagged(1, map[string]any{"id": "b"}),
	}

	result, err := n.Execute(context.Background(), nil, workflow.NodeDefinition{}, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := result.Outputs["main"].Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	for _, it := range items {
		if _, ok := it.JSON[workflow.MergeBranchKey]; ok {
			t.Errorf("branch tag leaked into output: %v", it.JSON)
		}
	}
}

func TestMergeNode_Distinct(t *testing.T) {
	n := &mergeNode{}
	inputs := []workflow.Item{
		branchTagged(0, map[string]any{"id": "a"}),
		branchTagged(1, map[string]any{"id": "a"}),
		branchTagged(1, map[string]any{"id": "b"}),
	}

	def := workflow.NodeDefinition{Parameters: map[string]any{"mode": "distinct"}}
	result, err := n.Execute(context.Background(), nil, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := result.Outputs["main"].Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 distinct items, got %d", len(items))
	}
}

func TestMergeNode_WaitForAll(t *testing.T) {
	n := &mergeNode{}
	inputs := []workflow.Item{
		branchTagged(0, map[string]any{"v": 1}),
		branchTagged(0, map[string]any{"v": 2}),
		branchTagged(1, map[string]any{"v": 3}),
	}

	def := workflow.NodeDefinition{Parameters: map[string]any{"mode": "waitForAll"}}
	result, err := n.Execute(context.Background(), nil, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := result.Outputs["main"].Items()
	if len(items) != 2 {
		t.Fatalf("expected one output item per branch (2), got %d", len(items))
	}
	branch0, ok := items[0].JSON["items"].([]map[string]any)
	if !ok || len(branch0) != 2 {
		t.Fatalf("expected branch 0 to wrap 2 items, got %v", items[0].JSON["items"])
	}
}

func TestMergeNode_KeepMatches(t *testing.T) {
	n := &mergeNode{}
	inputs := []workflow.Item{
		branchTagged(0, map[string]any{"id": "a"}),
		branchTagged(0, map[string]any{"id": "b"}),
		branchTagged(1, map[string]any{"id": "a"}),
		branchTagged(1, map[string]any{"id": "c"}),
	}

	def := workflow.NodeDefinition{Parameters: map[string]any{"mode": "keepMatches"}}
	result, err := n.Execute(context.Background(), nil, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := result.Outputs["main"].Items()
	if len(items) != 1 || items[0].JSON["id"] != "a" {
		t.Fatalf("expected only the item present in both branches (id=a), got %v", items)
	}
}

func TestMergeNode_CombinePairs(t *testing.T) {
	n := &mergeNode{}
	inputs := []workflow.Item{
		branchTagged(0, map[string]any{"name": "x"}),
		branchTagged(0, map[string]any{"name": "y"}),
		branchTagged(1, map[string]any{"age": 1}),
	}

	def := workflow.NodeDefinition{Parameters: map[string]any{"mode": "combinePairs"}}
	result, err := n.Execute(context.Background(), nil, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := result.Outputs["main"].Items()
	if len(items) != 1 {
		t.Fatalf("expected pairing to stop at the shortest branch (1 pair), got %d", len(items))
	}
	if items[0].JSON["name"] != "x" || items[0].JSON["age"] != 1 {
		t.Fatalf("expected combined fields from both branches, got %v", items[0].JSON)
	}
}
