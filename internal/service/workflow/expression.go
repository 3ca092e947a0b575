package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// ExpressionContext is the data available to a {{ }} template: the current
// item's json ($json), the full input list ($input), every previously-run
// node's last output ($node["Name"]), process environment ($env), run
// metadata ($execution), and the index of the item currently being
// processed ($itemIndex).
type ExpressionContext struct {
	JSON      map[string]any
	Input     []Item
	NodeData  map[string]nodeExpressionData
	Env       map[string]string
	Execution map[string]string
	ItemIndex int
}

type nodeExpressionData struct {
	JSON map[string]any   `json:"json"`
	Data []map[string]any `json:"data"`
}

// NewExpressionContext builds an ExpressionContext from run state. This is
// the Go equivalent of n8n-style expression evaluation: because goja
// evaluates real JavaScript, names like $json and bracket access like
// $node["Name"].json.field are valid syntax as-is — unlike the Python
// ground truth this engine is modeled on, no identifier-rewriting pass is
// needed before evaluation.
func NewExpressionContext(ec *ExecutionContext, currentData []Item, itemIndex int) ExpressionContext {
	var currentJSON map[string]any
	if itemIndex >= 0 && itemIndex < len(currentData) {
		currentJSON = currentData[itemIndex].JSON
	} else {
		currentJSON = map[string]any{}
	}

	nodeData := make(map[string]nodeExpressionData)
	for name, items := range ec.NodeStates() {
		data := make([]map[string]any, len(items))
		for i, it := range items {
			data[i] = it.JSON
		}
		var first map[string]any
		if len(items) > 0 {
			first = items[0].JSON
		} else {
			first = map[string]any{}
		}
		nodeData[name] = nodeExpressionData{JSON: first, Data: data}
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	return ExpressionContext{
		JSON:      currentJSON,
		Input:     currentData,
		NodeData:  nodeData,
		Env:       env,
		Execution: map[string]string{"id": ec.ExecutionID, "mode": string(ec.Mode)},
		ItemIndex: itemIndex,
	}
}

// templatePattern matches one {{ ... }} expression, non-greedy so adjacent
// expressions in the same string don't get merged.
var templatePattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// ResolveExpressions walks value recursively, resolving every {{ }}
// template found in any string it contains. Maps and slices are walked in
// place (producing new containers); every other type passes through
// unchanged. When skipJSON is true, any expression referencing $json or
// $itemIndex is left untouched — used during per-item re-evaluation where
// the caller first resolves node-level config and defers item-level
// expressions to the per-item pass.
func ResolveExpressions(value any, ctx ExpressionContext, skipJSON bool) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx, skipJSON)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveExpressions(item, ctx, skipJSON)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = ResolveExpressions(val, ctx, skipJSON)
		}
		return out
	default:
		return value
	}
}

func resolveString(s string, ctx ExpressionContext, skipJSON bool) any {
	trimmed := strings.TrimSpace(s)

	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		inner := strings.TrimSpace(trimmed[2 : len(trimmed)-2])
		if !strings.Contains(inner, "{{") {
			if skipJSON && referencesItemScope(inner) {
				return s
			}
			return evaluateExpression(inner, ctx)
		}
	}

	return templatePattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		if skipJSON && referencesItemScope(expr) {
			return match
		}
		return stringify(evaluateExpression(expr, ctx))
	})
}

func referencesItemScope(expr string) bool {
	return strings.Contains(expr, "$json") || strings.Contains(expr, "$itemIndex")
}

// evaluateExpression evaluates a single expression in a fresh, sandboxed
// goja runtime: no httpGet/exec/file-system helpers are registered here,
// only the allow-listed pure functions below plus the $-prefixed context
// values. A failing expression never aborts the run — it resolves to a
// "[Expression Error: ...]" string, matching the ground-truth engine's
// fall-back behavior so a typo in one field doesn't kill the whole node.
func evaluateExpression(expr string, ctx ExpressionContext) any {
	vm := goja.New()

	if err := setupExpressionVM(vm, ctx); err != nil {
		return fmt.Sprintf("[Expression Error: %v]", err)
	}

	val, err := vm.RunString(expr)
	if err != nil {
		return fmt.Sprintf("[Expression Error: %v]", err)
	}

	return val.Export()
}

func setupExpressionVM(vm *goja.Runtime, ctx ExpressionContext) error {
	sets := map[string]any{
		"$json":      ctx.JSON,
		"$input":     inputJSONList(ctx.Input),
		"$node":      ctx.NodeData,
		"$env":       ctx.Env,
		"$execution": ctx.Execution,
		"$itemIndex": ctx.ItemIndex,
	}
	for k, v := range sets {
		if err := vm.Set(k, v); err != nil {
			return err
		}
	}

	return registerExpressionFunctions(vm)
}

func inputJSONList(items []Item) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = it.JSON
	}
	return out
}

// registerExpressionFunctions installs the allow-listed helper functions
// available inside {{ }} expressions. This is a deliberately small,
// side-effect-free surface — no network, filesystem, or process access —
// unlike the helpers SetupGojaVM registers for the Code/Script node, which
// intentionally do allow outbound HTTP calls from user-authored scripts.
func registerExpressionFunctions(vm *goja.Runtime) error {
	fns := map[string]func(goja.FunctionCall) goja.Value{
		"str":   fnStr(vm),
		"int":   fnInt(vm),
		"float": fnFloat(vm),
		"bool":  fnBool(vm),

		"lower":      fnLower(vm),
		"upper":      fnUpper(vm),
		"trim":       fnTrim(vm),
		"split":      fnSplit(vm),
		"join":       fnJoin(vm),
		"includes":   fnIncludes(vm),
		"replace":    fnReplace(vm),
		"substring":  fnSubstring(vm),
		"length":     fnLength(vm),
		"startswith": fnStartsWith(vm),
		"endswith":   fnEndsWith(vm),

		"first":   fnFirst(vm),
		"last":    fnLast(vm),
		"at":      fnAt(vm),
		"slice":   fnSlice(vm),
		"reverse": fnReverse(vm),
		"sort":    fnSort(vm),
		"unique":  fnUnique(vm),
		"flatten": fnFlatten(vm),

		"abs":   fnAbs(vm),
		"min":   fnMin(vm),
		"max":   fnMax(vm),
		"sum":   fnSum(vm),
		"round": fnRound(vm),
		"floor": fnFloor(vm),
		"ceil":  fnCeil(vm),

		"now":       fnNow(vm),
		"date_now":  fnDateNow(vm),
		"timestamp": fnTimestamp(vm),

		"json_stringify": fnJSONStringify(vm),
		"json_parse":     fnJSONParse(vm),

		"typeof":   fnTypeof(vm),
		"is_array": fnIsArray(vm),
		"is_empty": fnIsEmpty(vm),
		"is_none":  fnIsNone(vm),

		"keys":   fnKeys(vm),
		"values": fnValues(vm),
		"get":    fnGet(vm),
	}

	for name, fn := range fns {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func arg(call goja.FunctionCall, i int) goja.Value {
	if i < len(call.Arguments) {
		return call.Arguments[i]
	}
	return goja.Undefined()
}

func fnStr(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value { return vm.ToValue(arg(call, 0).String()) }
}

func fnInt(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value { return vm.ToValue(int64(arg(call, 0).ToInteger())) }
}

func fnFloat(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value { return vm.ToValue(arg(call, 0).ToFloat()) }
}

func fnBool(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value { return vm.ToValue(arg(call, 0).ToBoolean()) }
}

func fnLower(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ToLower(arg(call, 0).String()))
	}
}

func fnUpper(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ToUpper(arg(call, 0).String()))
	}
}

func fnTrim(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.TrimSpace(arg(call, 0).String()))
	}
}

func fnSplit(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		sep := " "
		if len(call.Arguments) > 1 {
			sep = arg(call, 1).String()
		}
		return vm.ToValue(strings.Split(arg(call, 0).String(), sep))
	}
}

func fnJoin(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		sep := ""
		if len(call.Arguments) > 1 {
			sep = arg(call, 1).String()
		}
		items := toSlice(arg(call, 0).Export())
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprintf("%v", it)
		}
		return vm.ToValue(strings.Join(parts, sep))
	}
}

func fnIncludes(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.Contains(arg(call, 0).String(), arg(call, 1).String()))
	}
}

func fnReplace(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.ReplaceAll(arg(call, 0).String(), arg(call, 1).String(), arg(call, 2).String()))
	}
}

func fnSubstring(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := arg(call, 0).String()
		runes := []rune(s)
		start := clampIndex(int(arg(call, 1).ToInteger()), len(runes))
		end := len(runes)
		if len(call.Arguments) > 2 && !goja.IsUndefined(call.Arguments[2]) {
			end = clampIndex(int(call.Arguments[2].ToInteger()), len(runes))
		}
		if start > end {
			start = end
		}
		return vm.ToValue(string(runes[start:end]))
	}
}

func fnLength(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		v := arg(call, 0).Export()
		switch x := v.(type) {
		case string:
			return vm.ToValue(len([]rune(x)))
		case []any:
			return vm.ToValue(len(x))
		case map[string]any:
			return vm.ToValue(len(x))
		default:
			return vm.ToValue(0)
		}
	}
}

func fnStartsWith(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.HasPrefix(arg(call, 0).String(), arg(call, 1).String()))
	}
}

func fnEndsWith(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.HasSuffix(arg(call, 0).String(), arg(call, 1).String()))
	}
}

func fnFirst(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		if len(s) == 0 {
			return goja.Null()
		}
		return vm.ToValue(s[0])
	}
}

func fnLast(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		if len(s) == 0 {
			return goja.Null()
		}
		return vm.ToValue(s[len(s)-1])
	}
}

func fnAt(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		idx := int(arg(call, 1).ToInteger())
		if idx < 0 || idx >= len(s) {
			return goja.Null()
		}
		return vm.ToValue(s[idx])
	}
}

func fnSlice(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		start := clampIndex(int(arg(call, 1).ToInteger()), len(s))
		end := len(s)
		if len(call.Arguments) > 2 && !goja.IsUndefined(call.Arguments[2]) {
			end = clampIndex(int(call.Arguments[2].ToInteger()), len(s))
		}
		if start > end {
			start = end
		}
		return vm.ToValue(s[start:end])
	}
}

func fnReverse(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		out := make([]any, len(s))
		for i, v := range s {
			out[len(s)-1-i] = v
		}
		return vm.ToValue(out)
	}
}

func fnSort(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		out := make([]any, len(s))
		copy(out, s)
		sort.Slice(out, func(i, j int) bool {
			return fmt.Sprintf("%v", out[i]) < fmt.Sprintf("%v", out[j])
		})
		return vm.ToValue(out)
	}
}

func fnUnique(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		seen := make(map[string]bool, len(s))
		out := make([]any, 0, len(s))
		for _, v := range s {
			key := fmt.Sprintf("%v", v)
			if !seen[key] {
				seen[key] = true
				out = append(out, v)
			}
		}
		return vm.ToValue(out)
	}
}

func fnFlatten(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		out := make([]any, 0, len(s))
		for _, v := range s {
			if sub, ok := v.([]any); ok {
				out = append(out, sub...)
			} else {
				out = append(out, v)
			}
		}
		return vm.ToValue(out)
	}
}

func fnAbs(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value { return vm.ToValue(math.Abs(arg(call, 0).ToFloat())) }
}

func fnMin(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		nums := numericArgs(call)
		if len(nums) == 0 {
			return goja.Null()
		}
		m := nums[0]
		for _, n := range nums[1:] {
			if n < m {
				m = n
			}
		}
		return vm.ToValue(m)
	}
}

func fnMax(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		nums := numericArgs(call)
		if len(nums) == 0 {
			return goja.Null()
		}
		m := nums[0]
		for _, n := range nums[1:] {
			if n > m {
				m = n
			}
		}
		return vm.ToValue(m)
	}
}

func fnSum(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := toSlice(arg(call, 0).Export())
		total := 0.0
		for _, v := range s {
			total += toFloat(v)
		}
		return vm.ToValue(total)
	}
}

func fnRound(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(math.Round(arg(call, 0).ToFloat()))
	}
}

func fnFloor(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(math.Floor(arg(call, 0).ToFloat()))
	}
}

func fnCeil(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(math.Ceil(arg(call, 0).ToFloat()))
	}
}

func fnNow(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(time.Now().UnixMilli())
	}
}

func fnDateNow(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(time.Now().Format(time.RFC3339))
	}
}

func fnTimestamp(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(time.Now().Unix())
	}
}

func fnJSONStringify(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		data, err := json.Marshal(arg(call, 0).Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(data))
	}
}

func fnJSONParse(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := arg(call, 0).String()
		if s == "" {
			return goja.Null()
		}
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			panic(vm.NewTypeError("json_parse: " + err.Error()))
		}
		return vm.ToValue(parsed)
	}
}

func fnTypeof(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		switch arg(call, 0).Export().(type) {
		case nil:
			return vm.ToValue("NoneType")
		case string:
			return vm.ToValue("str")
		case bool:
			return vm.ToValue("bool")
		case int64, float64:
			return vm.ToValue("float")
		case []any:
			return vm.ToValue("list")
		case map[string]any:
			return vm.ToValue("dict")
		default:
			return vm.ToValue("object")
		}
	}
}

func fnIsArray(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		_, ok := arg(call, 0).Export().([]any)
		return vm.ToValue(ok)
	}
}

func fnIsEmpty(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		v := arg(call, 0).Export()
		switch x := v.(type) {
		case nil:
			return vm.ToValue(true)
		case string:
			return vm.ToValue(x == "")
		case []any:
			return vm.ToValue(len(x) == 0)
		default:
			return vm.ToValue(false)
		}
	}
}

func fnIsNone(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(arg(call, 0).Export() == nil)
	}
}

func fnKeys(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		m, ok := arg(call, 0).Export().(map[string]any)
		if !ok {
			return vm.ToValue([]any{})
		}
		out := make([]any, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		return vm.ToValue(out)
	}
}

func fnValues(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		m, ok := arg(call, 0).Export().(map[string]any)
		if !ok {
			return vm.ToValue([]any{})
		}
		out := make([]any, 0, len(m))
		for _, v := range m {
			out = append(out, v)
		}
		return vm.ToValue(out)
	}
}

func fnGet(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		m, ok := arg(call, 0).Export().(map[string]any)
		if !ok {
			return arg(call, 2)
		}
		key := arg(call, 1).String()
		v, ok := m[key]
		if !ok {
			return arg(call, 2)
		}
		return vm.ToValue(v)
	}
}

// ─── shared helpers ───

func toSlice(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case nil:
		return nil
	default:
		return nil
	}
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	default:
		return 0
	}
}

func numericArgs(call goja.FunctionCall) []float64 {
	if len(call.Arguments) == 1 {
		if s := toSlice(call.Arguments[0].Export()); s != nil {
			out := make([]float64, len(s))
			for i, v := range s {
				out[i] = toFloat(v)
			}
			return out
		}
	}
	out := make([]float64, len(call.Arguments))
	for i, a := range call.Arguments {
		out[i] = a.ToFloat()
	}
	return out
}

func clampIndex(i, length int) int {
	if i < 0 {
		i += length
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

// stringify converts a resolved expression value to its interpolated string
// form: nil becomes empty string, collections become their JSON text,
// everything else uses its natural string form.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", x)
	}
}
