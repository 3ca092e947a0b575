package nodes

import (
	"context"
	"testing"

	"github.com/rakunlabs/at/internal/service/workflow"
)

func itemListsInputs(vals ...map[string]any) []workflow.Item {
	items := make([]workflow.Item, len(vals))
	for i, v := range vals {
		items[i] = workflow.Item{JSON: v}
	}
	return items
}

func TestItemListsNode_Sort(t *testing.T) {
	n := &itemListsNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"operation": "sort",
		"sortBy":    "age",
		"order":     "descending",
	}}
	inputs := itemListsInputs(
		map[string]any{"name": "a", "age": float64(20)},
		map[string]any{"name": "b", "age": float64(40)},
		map[string]any{"name": "c", "age": float64(30)},
	)

	result, err := n.Execute(context.Background(), nil, def, inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := result.Outputs["main"].Items()
	if len(out) != 3 || out[0].JSON["name"] != "b" || out[1].JSON["name"] != "c" || out[2].JSON["name"] != "a" {
		t.Fatalf("unexpected sort order: %#v", out)
	}
}

func TestItemListsNode_Limit(t *testing.T) {
	n := &itemListsNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"operation": "limit",
		"maxItems":  float64(2),
		"offset":    float64(1),
	}}
	inputs := itemListsInputs(
		map[string]any{"n": float64(1)},
		map[string]any{"n": float64(2)},
		map[string]any{"n": float64(3)},
		map[string]any{"n": float64(4)},
	)

	result, _ := n.Execute(context.Background(), nil, def, inputs)
	out := result.Outputs["main"].Items()
	if len(out) != 2 || out[0].JSON["n"] != float64(2) || out[1].JSON["n"] != float64(3) {
		t.Fatalf("unexpected limit result: %#v", out)
	}
}

func TestItemListsNode_RemoveDuplicates(t *testing.T) {
	n := &itemListsNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"operation":    "removeDuplicates",
		"compareField": "id",
		"keep":         "first",
	}}
	inputs := itemListsInputs(
		map[string]any{"id": "1", "v": "a"},
		map[string]any{"id": "2", "v": "b"},
		map[string]any{"id": "1", "v": "c"},
	)

	result, _ := n.Execute(context.Background(), nil, def, inputs)
	out := result.Outputs["main"].Items()
	if len(out) != 2 || out[0].JSON["v"] != "a" {
		t.Fatalf("unexpected dedupe result: %#v", out)
	}
}

func TestItemListsNode_Aggregate(t *testing.T) {
	n := &itemListsNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"operation": "aggregate",
		"groupBy":   "category",
		"aggregations": []any{
			map[string]any{"field": "amount", "aggOperation": "sum", "outputField": "total"},
		},
	}}
	inputs := itemListsInputs(
		map[string]any{"category": "x", "amount": float64(10)},
		map[string]any{"category": "x", "amount": float64(5)},
		map[string]any{"category": "y", "amount": float64(2)},
	)

	result, _ := n.Execute(context.Background(), nil, def, inputs)
	out := result.Outputs["main"].Items()
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	totals := map[string]any{}
	for _, it := range out {
		totals[it.JSON["category"].(string)] = it.JSON["total"]
	}
	if totals["x"] != float64(15) || totals["y"] != float64(2) {
		t.Fatalf("unexpected aggregation totals: %#v", totals)
	}
}

func TestItemListsNode_Summarize(t *testing.T) {
	n := &itemListsNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{"operation": "summarize"}}
	inputs := itemListsInputs(
		map[string]any{"n": float64(1)},
		map[string]any{"n": float64(2)},
	)

	result, _ := n.Execute(context.Background(), nil, def, inputs)
	out := result.Outputs["main"].Items()
	if len(out) != 1 || out[0].JSON["count"] != 2 {
		t.Fatalf("unexpected summarize result: %#v", out)
	}
}

func TestItemListsNode_SplitOut(t *testing.T) {
	n := &itemListsNode{}
	def := workflow.NodeDefinition{Parameters: map[string]any{
		"operation":    "splitOut",
		"arrayField":   "tags",
		"includeOther": true,
	}}
	inputs := itemListsInputs(map[string]any{
		"id":   "1",
		"tags": []any{"a", "b"},
	})

	result, _ := n.Execute(context.Background(), nil, def, inputs)
	out := result.Outputs["main"].Items()
	if len(out) != 2 || out[0].JSON["tags"] != "a" || out[0].JSON["id"] != "1" {
		t.Fatalf("unexpected splitOut result: %#v", out)
	}
}

func TestItemListsNode_ValidateRejectsUnknownOperation(t *testing.T) {
	n := &itemListsNode{}
	err := n.Validate(context.Background(), nil, workflow.NodeDefinition{Parameters: map[string]any{"operation": "bogus"}})
	if err == nil {
		t.Fatal("expected error for unknown operation")
	}
}
