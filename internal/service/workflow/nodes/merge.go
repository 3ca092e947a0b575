package nodes

import (
	"context"
	"fmt"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// mergeNode joins any number of inbound branches into one output. The
// runner accumulates every branch's items into a single input slice
// (ordered by inbound connection) before Execute is called, tagging each
// item with the index of the branch it arrived on
// (workflow.MergeBranchKey) so branch-aware modes can regroup them; that
// tag is always stripped before an item leaves this node.
//
// Config (def.Parameters):
//
//	"mode": string — "append" (default, pass every item through in branch
//	                 order), "distinct" (drop items whose "id" field, or
//	                 "matchField" if set, repeats), "waitForAll" (one
//	                 output item per branch, each holding that branch's
//	                 items under "items"), "keepMatches" (items whose key
//	                 field value appears in every branch, taken from the
//	                 first branch), or "combinePairs" (branch 0's item i
//	                 shallow-merged with branch 1's item i, branch 2's item
//	                 i, ... for every i up to the shortest branch)
//
//	"matchField": string — key field for "distinct" and "keepMatches"
//	              (default "id")
type mergeNode struct{}

func init() {
	workflow.RegisterNodeType("merge", func() workflow.Noder { return &mergeNode{} })
}

func (n *mergeNode) Type() string    { return "merge" }
func (n *mergeNode) InputCount() int { return workflow.DynamicInputCount }

func (n *mergeNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *mergeNode) Execute(_ context.Context, _ *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	mode, _ := def.Parameters["mode"].(string)
	matchField, _ := def.Parameters["matchField"].(string)
	if matchField == "" {
		matchField = "id"
	}

	branches := splitMergeBranches(inputs)

	var items []workflow.Item
	switch mode {
	case "distinct":
		items = mergeDistinct(stripMergeBranch(inputs), matchField)
	case "waitForAll":
		items = mergeWaitForAll(branches)
	case "keepMatches":
		items = mergeKeepMatches(branches, matchField)
	case "combinePairs":
		items = mergeCombinePairs(branches)
	default:
		items = stripMergeBranch(inputs)
	}

	return workflow.Main(items), nil
}

// splitMergeBranches regroups a flat, branch-tagged item slice back into
// per-branch slices, ordered by branch index, with the tag removed.
func splitMergeBranches(inputs []workflow.Item) [][]workflow.Item {
	var branches [][]workflow.Item
	for _, it := range inputs {
		idx, _ := asInt(it.JSON[workflow.MergeBranchKey])
		for len(branches) <= idx {
			branches = append(branches, nil)
		}
		branches[idx] = append(branches[idx], stripMergeBranchItem(it))
	}
	return branches
}

func stripMergeBranch(inputs []workflow.Item) []workflow.Item {
	out := make([]workflow.Item, len(inputs))
	for i, it := range inputs {
		out[i] = stripMergeBranchItem(it)
	}
	return out
}

func stripMergeBranchItem(it workflow.Item) workflow.Item {
	if _, ok := it.JSON[workflow.MergeBranchKey]; !ok {
		return it
	}
	data := cloneJSON(it.JSON)
	delete(data, workflow.MergeBranchKey)
	return workflow.Item{JSON: data, Binary: it.Binary}
}

func mergeDistinct(inputs []workflow.Item, matchField string) []workflow.Item {
	seen := map[string]bool{}
	deduped := make([]workflow.Item, 0, len(inputs))
	for _, it := range inputs {
		key := fmt.Sprintf("%v", it.JSON[matchField])
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, it)
	}
	return deduped
}

func mergeWaitForAll(branches [][]workflow.Item) []workflow.Item {
	out := make([]workflow.Item, 0, len(branches))
	for _, branch := range branches {
		list := make([]map[string]any, len(branch))
		for i, it := range branch {
			list[i] = it.JSON
		}
		out = append(out, workflow.Item{JSON: map[string]any{"items": list}})
	}
	return out
}

func mergeKeepMatches(branches [][]workflow.Item, matchField string) []workflow.Item {
	if len(branches) == 0 {
		return nil
	}

	counts := map[string]int{}
	for _, branch := range branches {
		seenInBranch := map[string]bool{}
		for _, it := range branch {
			key := fmt.Sprintf("%v", it.JSON[matchField])
			if seenInBranch[key] {
				continue
			}
			seenInBranch[key] = true
			counts[key]++
		}
	}

	var out []workflow.Item
	for _, it := range branches[0] {
		key := fmt.Sprintf("%v", it.JSON[matchField])
		if counts[key] == len(branches) {
			out = append(out, it)
			delete(counts, key)
		}
	}
	return out
}

func mergeCombinePairs(branches [][]workflow.Item) []workflow.Item {
	if len(branches) == 0 {
		return nil
	}

	shortest := len(branches[0])
	for _, branch := range branches[1:] {
		if len(branch) < shortest {
			shortest = len(branch)
		}
	}

	out := make([]workflow.Item, shortest)
	for i := 0; i < shortest; i++ {
		combined := map[string]any{}
		for _, branch := range branches {
			for k, v := range branch[i].JSON {
				combined[k] = v
			}
		}
		out[i] = workflow.Item{JSON: combined}
	}
	return out
}
