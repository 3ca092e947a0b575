package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// itemListsNode performs whole-list operations that don't fit the
// one-item-in-one-item-out shape most nodes share: sort, limit,
// deduplicate, group-and-aggregate, summarize-to-one, split an array
// field back out into items, and a no-op concatenate for readability
// after a Merge node.
//
// Config (def.Parameters):
//
//	"operation": string — "sort" (default), "limit", "removeDuplicates",
//	             "aggregate", "summarize", "splitOut", "concatenate"
//
//	sort:             "sortBy" (dot path), "order" ("ascending"|"descending"),
//	                  "sortType" ("auto"|"string"|"number")
//	limit:            "maxItems" (default 10), "offset" (default 0)
//	removeDuplicates: "compareField" (dot path, empty = whole item),
//	                  "keep" ("first"|"last")
//	aggregate:        "groupBy" (dot path, empty = one group), "aggregations"
//	                  ([]map{"field","aggOperation","outputField"}); aggOperation
//	                  is one of sum/avg/count/min/max/first/last/collect
//	summarize:        "summarizeField" (default "items"), "includeCount" (bool)
//	splitOut:         "arrayField" (dot path to the array), "includeOther" (bool)
type itemListsNode struct{}

func init() {
	workflow.RegisterNodeType("item_lists", func() workflow.Noder { return &itemListsNode{} })
}

func (n *itemListsNode) Type() string    { return "item_lists" }
func (n *itemListsNode) InputCount() int { return 1 }

func (n *itemListsNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	switch op, _ := def.Parameters["operation"].(string); op {
	case "", "sort", "limit", "removeDuplicates", "aggregate", "summarize", "splitOut", "concatenate":
	default:
		return fmt.Errorf("item_lists: unknown operation %q", op)
	}
	return nil
}

func (n *itemListsNode) Execute(_ context.Context, _ *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	operation, _ := def.Parameters["operation"].(string)
	if operation == "" {
		operation = "sort"
	}

	switch operation {
	case "sort":
		return workflow.Main(itemListsSort(def, inputs)), nil
	case "limit":
		return workflow.Main(itemListsLimit(def, inputs)), nil
	case "removeDuplicates":
		return workflow.Main(itemListsRemoveDuplicates(def, inputs)), nil
	case "aggregate":
		return workflow.Main(itemListsAggregate(def, inputs)), nil
	case "summarize":
		return workflow.Main(itemListsSummarize(def, inputs)), nil
	case "splitOut":
		return workflow.Main(itemListsSplitOut(def, inputs)), nil
	default: // "concatenate" and any unknown operation pass through untouched
		return workflow.Main(inputs), nil
	}
}

func itemListsSort(def workflow.NodeDefinition, inputs []workflow.Item) []workflow.Item {
	sortBy, _ := def.Parameters["sortBy"].(string)
	if sortBy == "" {
		return inputs
	}
	order, _ := def.Parameters["order"].(string)
	sortType, _ := def.Parameters["sortType"].(string)

	out := make([]workflow.Item, len(inputs))
	copy(out, inputs)

	key := func(it workflow.Item) any {
		v := nestedValue(it.JSON, sortBy)
		switch sortType {
		case "number":
			f, _ := toFloat(v)
			return f
		case "string":
			return fmt.Sprintf("%v", v)
		default:
			if f, ok := v.(float64); ok {
				return f
			}
			if v == nil {
				return ""
			}
			return fmt.Sprintf("%v", v)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		less := lessAny(ki, kj)
		if order == "descending" {
			return !less && ki != kj
		}
		return less
	})
	return out
}

func lessAny(a, b any) bool {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return av < bv
		}
	case string:
		if bv, ok := b.(string); ok {
			return av < bv
		}
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func itemListsLimit(def workflow.NodeDefinition, inputs []workflow.Item) []workflow.Item {
	maxItems := 10
	if v, ok := asInt(def.Parameters["maxItems"]); ok {
		maxItems = v
	}
	offset := 0
	if v, ok := asInt(def.Parameters["offset"]); ok {
		offset = v
	}

	if offset >= len(inputs) {
		return nil
	}
	end := offset + maxItems
	if end > len(inputs) || maxItems < 0 {
		end = len(inputs)
	}
	return inputs[offset:end]
}

func itemListsRemoveDuplicates(def workflow.NodeDefinition, inputs []workflow.Item) []workflow.Item {
	compareField, _ := def.Parameters["compareField"].(string)
	keep, _ := def.Parameters["keep"].(string)

	keyOf := func(it workflow.Item) string {
		if compareField != "" {
			return dedupeKey(nestedValue(it.JSON, compareField))
		}
		return dedupeKey(it.JSON)
	}

	seenAt := map[string]int{}
	var order []string
	byKey := map[string]workflow.Item{}
	for _, it := range inputs {
		k := keyOf(it)
		if _, ok := seenAt[k]; !ok {
			order = append(order, k)
		}
		if keep == "last" {
			byKey[k] = it
			seenAt[k]++
		} else if _, ok := byKey[k]; !ok {
			byKey[k] = it
			seenAt[k]++
		}
	}

	out := make([]workflow.Item, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func dedupeKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

type itemListsAggregation struct {
	Field       string
	Op          string
	OutputField string
}

func itemListsAggregate(def workflow.NodeDefinition, inputs []workflow.Item) []workflow.Item {
	groupBy, _ := def.Parameters["groupBy"].(string)
	aggs := parseAggregations(def.Parameters["aggregations"])

	type group struct {
		key   string
		value any
		items []map[string]any
	}
	var order []string
	groups := map[string]*group{}

	for _, it := range inputs {
		var k string
		var kv any
		if groupBy != "" {
			kv = nestedValue(it.JSON, groupBy)
			k = dedupeKey(kv)
		} else {
			k = "_all"
		}
		g, ok := groups[k]
		if !ok {
			g = &group{key: k, value: kv}
			groups[k] = g
			order = append(order, k)
		}
		g.items = append(g.items, it.JSON)
	}

	out := make([]workflow.Item, 0, len(order))
	for _, k := range order {
		g := groups[k]
		result := map[string]any{}
		if groupBy != "" {
			result[groupBy] = g.value
		}
		result["_count"] = len(g.items)

		for _, agg := range aggs {
			result[agg.OutputField] = applyAggregation(agg.Op, agg.Field, g.items)
		}
		out = append(out, workflow.Item{JSON: result})
	}
	return out
}

func parseAggregations(raw any) []itemListsAggregation {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]itemListsAggregation, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		field, _ := m["field"].(string)
		op, _ := m["aggOperation"].(string)
		if op == "" {
			op = "sum"
		}
		outField, _ := m["outputField"].(string)
		if outField == "" {
			outField = fmt.Sprintf("%s_%s", field, op)
		}
		out = append(out, itemListsAggregation{Field: field, Op: op, OutputField: outField})
	}
	return out
}

func applyAggregation(op, field string, items []map[string]any) any {
	var values []any
	for _, it := range items {
		if v := nestedValue(it, field); v != nil {
			values = append(values, v)
		}
	}

	switch op {
	case "count":
		return len(values)
	case "first":
		if len(values) == 0 {
			return nil
		}
		return values[0]
	case "last":
		if len(values) == 0 {
			return nil
		}
		return values[len(values)-1]
	case "collect":
		return values
	case "min", "max", "sum", "avg":
		var nums []float64
		for _, v := range values {
			if f, ok := toFloat(v); ok {
				nums = append(nums, f)
			}
		}
		switch op {
		case "sum":
			var total float64
			for _, f := range nums {
				total += f
			}
			return total
		case "avg":
			if len(nums) == 0 {
				return float64(0)
			}
			var total float64
			for _, f := range nums {
				total += f
			}
			return total / float64(len(nums))
		case "min":
			if len(nums) == 0 {
				return nil
			}
			m := nums[0]
			for _, f := range nums[1:] {
				if f < m {
					m = f
				}
			}
			return m
		default: // max
			if len(nums) == 0 {
				return nil
			}
			m := nums[0]
			for _, f := range nums[1:] {
				if f > m {
					m = f
				}
			}
			return m
		}
	default:
		return nil
	}
}

func itemListsSummarize(def workflow.NodeDefinition, inputs []workflow.Item) []workflow.Item {
	field, _ := def.Parameters["summarizeField"].(string)
	if field == "" {
		field = "items"
	}
	includeCount := true
	if v, ok := def.Parameters["includeCount"].(bool); ok {
		includeCount = v
	}

	all := make([]map[string]any, len(inputs))
	for i, it := range inputs {
		all[i] = it.JSON
	}

	result := map[string]any{field: all}
	if includeCount {
		result["count"] = len(all)
	}
	return []workflow.Item{{JSON: result}}
}

func itemListsSplitOut(def workflow.NodeDefinition, inputs []workflow.Item) []workflow.Item {
	arrayField, _ := def.Parameters["arrayField"].(string)
	if arrayField == "" {
		return inputs
	}
	includeOther := true
	if v, ok := def.Parameters["includeOther"].(bool); ok {
		includeOther = v
	}

	var out []workflow.Item
	for _, it := range inputs {
		arr, ok := nestedValue(it.JSON, arrayField).([]any)
		if !ok {
			out = append(out, it)
			continue
		}

		for _, elem := range arr {
			var data map[string]any
			if includeOther {
				data = cloneJSON(it.JSON)
				delete(data, arrayField)
				if m, ok := elem.(map[string]any); ok {
					for k, v := range m {
						data[k] = v
					}
				} else {
					data[arrayField] = elem
				}
			} else if m, ok := elem.(map[string]any); ok {
				data = m
			} else {
				data = map[string]any{arrayField: elem}
			}
			out = append(out, workflow.Item{JSON: data, Binary: it.Binary})
		}
	}
	return out
}
