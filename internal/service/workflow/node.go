// Package workflow implements a graph-based workflow execution engine.
//
// The design is inspired by worldline-go/chore: nodes implement the Noder
// interface, return a NodeExecutionResult whose named output ports control
// routing, and the runner
// uses a two-phase approach (validate → run) with concurrent layer-batched
// execution. Unlike a plain DAG executor, the runner schedules a queue of
// jobs keyed by (node name, run index) so that Loop/SplitInBatches back-edges
// can re-enter already-executed nodes without being mistaken for cycles.
package workflow

import (
	"context"
	"errors"
	"sync"
)

// ─── Sentinel Errors ───

// ErrStopBranch is a sentinel a node may return to end its own branch.
// Unlike WorkflowStopError it is not a run-wide halt. No built-in node
// returns it, and the runner does not special-case it: a node that returns
// it is handled and recorded as failed like any other node error.
var ErrStopBranch = errors.New("stop branch")

// ─── Item ───

// Item is the unit of data flowing between nodes: a JSON-shaped payload
// plus optional named binary blobs. Items are immutable once emitted by a
// node — a node that "modifies" data returns new Items rather than mutating
// ones it received.
type Item struct {
	JSON   map[string]any    `json:"json"`
	Binary map[string][]byte `json:"-"`
}

// CloneItems returns a shallow copy of the slice (new backing array, same
// Item values) so that a node cannot accidentally mutate another branch's
// view of the same data by appending to it.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// ─── NodeExecutionResult ───
//
// A node's Execute call returns a mapping from output-port name to either a
// (possibly empty) list of items or the NO_OUTPUT sentinel. These two must
// stay distinct: an empty list still counts as "this port produced nothing
// but the branch is alive", while NO_OUTPUT means "this branch is dead" and
// is the only one of the two that is propagated to waiting multi-input joins.

// PortOutput is one port's contribution to a NodeExecutionResult.
type PortOutput struct {
	items    []Item
	noOutput bool
}

// Output wraps a (possibly empty) item list as a live port result.
func Output(items []Item) PortOutput {
	return PortOutput{items: items}
}

// NoOutput returns the NO_OUTPUT sentinel for a port: the branch is dead.
func NoOutput() PortOutput {
	return PortOutput{noOutput: true}
}

// IsNoOutput reports whether this port signals a dead branch.
func (p PortOutput) IsNoOutput() bool { return p.noOutput }

// Items returns the port's items. Meaningless (and empty) when IsNoOutput.
func (p PortOutput) Items() []Item { return p.items }

// NodeExecutionResult is the full result of one node execution: a mapping
// from output port name ("main", "true", "false", "output0", "loop", ...)
// to that port's PortOutput.
type NodeExecutionResult struct {
	Outputs map[string]PortOutput
}

// NewNodeExecutionResult builds a result from a shorthand map of port name
// to item list; every entry is a live (non-NO_OUTPUT) port.
func NewNodeExecutionResult(outputs map[string][]Item) *NodeExecutionResult {
	r := &NodeExecutionResult{Outputs: make(map[string]PortOutput, len(outputs))}
	for port, items := range outputs {
		r.Outputs[port] = Output(items)
	}
	return r
}

// Main is a convenience constructor for the common single-"main"-port case.
func Main(items []Item) *NodeExecutionResult {
	return NewNodeExecutionResult(map[string][]Item{"main": items})
}

// ─── DYNAMIC input count ───

// DynamicInputCount marks a node (e.g. Merge) that accepts any number (≥1)
// of inbound connections rather than a fixed arity.
const DynamicInputCount = -1

// ─── Noder Interface ───

// Noder is the interface every node type implements.
type Noder interface {
	// Type returns the node type name (e.g. "if", "set", "http_request").
	Type() string

	// InputCount returns how many distinct upstream (source, output)
	// connections this node expects before it may run: 1 for ordinary
	// nodes, 0 for triggers, DynamicInputCount for join nodes like Merge.
	InputCount() int

	// Validate checks the node's configuration before execution. Called
	// once per node at graph-parse time.
	Validate(ctx context.Context, reg *Registry, def NodeDefinition) error

	// Execute runs the node against its resolved parameters and the items
	// arriving on its input ports.
	Execute(ctx context.Context, ec *ExecutionContext, def NodeDefinition, inputs []Item) (*NodeExecutionResult, error)
}

// NodeFactory creates a Noder from a node type name. Each node type
// registers a factory via RegisterNodeType.
type NodeFactory func() Noder

// nodeFactories is the process-wide registry of node type factories,
// populated by init() functions in the nodes/ package. It is read-only
// after program startup, matching the teacher's treatment of node
// registration as process-wide state initialized once.
var (
	nodeFactoriesMu sync.RWMutex
	nodeFactories   = make(map[string]NodeFactory)
)

// RegisterNodeType registers a node factory for a given type name. Called
// from init() functions in the nodes/ package.
func RegisterNodeType(typeName string, factory NodeFactory) {
	nodeFactoriesMu.Lock()
	defer nodeFactoriesMu.Unlock()
	nodeFactories[typeName] = factory
}

// GetNodeFactory returns the factory for a given node type, or nil if not
// registered.
func GetNodeFactory(typeName string) NodeFactory {
	nodeFactoriesMu.RLock()
	defer nodeFactoriesMu.RUnlock()
	return nodeFactories[typeName]
}

// RegisteredNodeTypes returns all registered node type names.
func RegisteredNodeTypes() []string {
	nodeFactoriesMu.RLock()
	defer nodeFactoriesMu.RUnlock()
	types := make([]string, 0, len(nodeFactories))
	for t := range nodeFactories {
		types = append(types, t)
	}
	return types
}

// Registry is the lookup the runner consults when building a node instance
// from a NodeDefinition. Nodes are stateless, so a single instance per type
// is reused across every job in every run — the per-run state lives in
// ExecutionContext, not here.
type Registry struct {
	mu        sync.Mutex
	instances map[string]Noder
}

// NewRegistry creates an empty node-type instance cache.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]Noder)}
}

// Get returns the cached Noder instance for a type, creating it via the
// registered factory on first use.
func (r *Registry) Get(nodeType string) (Noder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.instances[nodeType]; ok {
		return n, nil
	}

	factory := GetNodeFactory(nodeType)
	if factory == nil {
		return nil, &UnknownNodeTypeError{Type: nodeType}
	}

	n := factory()
	r.instances[nodeType] = n
	return n, nil
}
