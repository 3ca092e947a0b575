package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// scriptNode (the "Code" node) executes arbitrary JavaScript via Goja
// against the input items and returns whatever items the script produces.
//
// Config (def.Parameters):
//
//	"code": string — JavaScript code executed as a function body (required).
//	                 `items` is bound to the input items' json (array of
//	                 objects); the script's return value becomes the output:
//	                 an array becomes one item per element (non-object
//	                 elements wrapped as {"result": ...}), an object becomes
//	                 one item as-is, null/undefined yields no items, and any
//	                 other value becomes one item under {"result": ...}.
//
// A script still running after 5 seconds is interrupted and the node fails.
//
// Global helpers are available via SetupGojaVM: toString, jsonParse, btoa,
// atob, httpGet/httpPost/httpPut/httpDelete, and getVar when a variable
// lookup is wired.
type scriptNode struct{}

func init() {
	workflow.RegisterNodeType("code", func() workflow.Noder { return &scriptNode{} })
}

func (n *scriptNode) Type() string    { return "code" }
func (n *scriptNode) InputCount() int { return 1 }

func (n *scriptNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	if code, _ := def.Parameters["code"].(string); code == "" {
		return fmt.Errorf("code: 'code' is required")
	}
	return nil
}

func (n *scriptNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	code, _ := def.Parameters["code"].(string)

	vm := goja.New()
	timer := time.AfterFunc(5*time.Second, func() { vm.Interrupt("code: execution timed out after 5s") })
	defer timer.Stop()

	items := make([]map[string]any, len(inputs))
	for i, it := range inputs {
		items[i] = it.JSON
	}

	if err := workflow.SetupGojaVM(vm, map[string]any{"items": items}, ec.VarLookup); err != nil {
		return nil, fmt.Errorf("code: %w", err)
	}

	val, err := vm.RunString("(function(){" + code + "})()")
	if err != nil {
		return nil, fmt.Errorf("code: execution error: %w", err)
	}

	exported := val.Export()

	var out []workflow.Item
	switch v := exported.(type) {
	case []any:
		out = make([]workflow.Item, len(v))
		for i, elem := range v {
			if m, ok := elem.(map[string]any); ok {
				out[i] = workflow.Item{JSON: m}
			} else {
				out[i] = workflow.Item{JSON: map[string]any{"result": elem}}
			}
		}
	case map[string]any:
		out = []workflow.Item{{JSON: v}}
	case nil:
		out = nil
	default:
		out = []workflow.Item{{JSON: map[string]any{"result": v}}}
	}

	return workflow.Main(out), nil
}
