package nodes

import (
	"strings"

	"github.com/rytsh/mugo/templatex"

	"github.com/rakunlabs/at/internal/render"
	"github.com/rakunlabs/at/internal/service/workflow"
)

// varFuncMap builds a Go template FuncMap with a getVar function that
// resolves variables via the execution context's VarLookup.
func varFuncMap(ec *workflow.ExecutionContext) map[string]any {
	funcs := make(map[string]any)
	if ec != nil && ec.VarLookup != nil {
		funcs["getVar"] = func(key string) (string, error) {
			return ec.VarLookup(key)
		}
	}
	return funcs
}

// renderTemplate renders a Go text/template string with the given context,
// returning an empty string unrendered for blank templates (optional
// fields like a from-address override shouldn't error on absence).
func renderTemplate(name, tmplText string, data any, ec *workflow.ExecutionContext) (string, error) {
	if strings.TrimSpace(tmplText) == "" {
		return "", nil
	}
	result, err := render.ExecuteWithData(tmplText, data, templatex.WithExecFuncMap(varFuncMap(ec)))
	if err != nil {
		return "", err
	}
	return string(result), nil
}

// itemsJSON collapses a slice of Items into a single template/expression
// context: a single item's JSON is used directly, multiple items are
// exposed under "items".
func itemsJSON(items []workflow.Item) any {
	if len(items) == 1 {
		return items[0].JSON
	}
	list := make([]map[string]any, len(items))
	for i, it := range items {
		list[i] = it.JSON
	}
	return map[string]any{"items": list}
}
