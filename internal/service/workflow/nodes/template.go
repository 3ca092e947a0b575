package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rytsh/mugo/templatex"

	"github.com/rakunlabs/at/internal/render"
	"github.com/rakunlabs/at/internal/service/workflow"
)

// templateNode renders a Go text/template per input item, with the item's
// json as template context.
//
// Config (def.Parameters):
//
//	"template": string — the Go template text (required)
//
// Output port: "main" — one item per input, json replaced by {"text": rendered}
type templateNode struct{}

func init() {
	workflow.RegisterNodeType("template", func() workflow.Noder { return &templateNode{} })
}

func (n *templateNode) Type() string    { return "template" }
func (n *templateNode) InputCount() int { return 1 }

func (n *templateNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	tmplText, _ := def.Parameters["template"].(string)
	if strings.TrimSpace(tmplText) == "" {
		return fmt.Errorf("template: 'template' is required")
	}
	return nil
}

func (n *templateNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	tmplText, _ := def.Parameters["template"].(string)
	funcs := varFuncMap(ec)

	out := make([]workflow.Item, len(inputs))
	for i, it := range inputs {
		result, err := render.ExecuteWithData(tmplText, it.JSON, templatex.WithExecFuncMap(funcs))
		if err != nil {
			return nil, fmt.Errorf("template: execute error: %w", err)
		}
		out[i] = workflow.Item{JSON: map[string]any{"text": string(result)}}
	}

	return workflow.Main(out), nil
}
