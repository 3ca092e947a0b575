package workflow

// NodeDefinition is the static declaration of one node inside a workflow.
type NodeDefinition struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Position   *NodePosition  `json:"position,omitempty"`

	// PinnedData, when set, overrides execution entirely: the node's
	// output is these items, and Execute is never called.
	PinnedData []Item `json:"pinned_data,omitempty"`

	RetryOnFail    int  `json:"retry_on_fail,omitempty"`
	RetryDelay     int  `json:"retry_delay,omitempty"` // milliseconds
	ContinueOnFail bool `json:"continue_on_fail,omitempty"`
}

// NodePosition is the visual-editor position of a node; the runner never
// reads it.
type NodePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RetryDelayOrDefault returns RetryDelay, defaulting to 1000ms per spec.
func (n NodeDefinition) RetryDelayOrDefault() int {
	if n.RetryDelay <= 0 {
		return 1000
	}
	return n.RetryDelay
}

// ConnectionType distinguishes ordinary data edges from subnode
// configuration edges.
type ConnectionType string

const (
	ConnectionNormal  ConnectionType = "normal"
	ConnectionSubnode ConnectionType = "subnode"
)

// Connection is a directed edge between two nodes.
type Connection struct {
	SourceNode     string         `json:"source_node"`
	TargetNode     string         `json:"target_node"`
	SourceOutput   string         `json:"source_output,omitempty"`
	TargetInput    string         `json:"target_input,omitempty"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
	SlotName       string         `json:"slot_name,omitempty"`
}

// SourceOutputOrDefault returns SourceOutput, defaulting to "main".
func (c Connection) SourceOutputOrDefault() string {
	if c.SourceOutput == "" {
		return "main"
	}
	return c.SourceOutput
}

// TargetInputOrDefault returns TargetInput, defaulting to "main".
func (c Connection) TargetInputOrDefault() string {
	if c.TargetInput == "" {
		return "main"
	}
	return c.TargetInput
}

// IsSubnode reports whether this connection attaches a configuration
// provider (model/memory/tool) rather than carrying runtime items.
func (c Connection) IsSubnode() bool {
	return c.ConnectionType == ConnectionSubnode
}

// Workflow is a full workflow definition: named nodes, directed connections
// between them, and run-level settings.
type Workflow struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	Nodes       []NodeDefinition `json:"nodes"`
	Connections []Connection     `json:"connections"`
	Settings    map[string]any   `json:"settings,omitempty"`
}

// MaxIterations returns workflow.settings.max_iterations, defaulting to
// 1000. Accepts either a JSON number (float64, from decoded JSON) or an int
// (constructed programmatically / in tests).
func (w Workflow) MaxIterations() int {
	const def = 1000
	if w.Settings == nil {
		return def
	}
	switch v := w.Settings["max_iterations"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// NodeByName returns the node definition with the given name, or nil.
func (w Workflow) NodeByName(name string) *NodeDefinition {
	for i := range w.Nodes {
		if w.Nodes[i].Name == name {
			return &w.Nodes[i]
		}
	}
	return nil
}

// ExecutionJob is one scheduled unit of work in the runner's queue.
type ExecutionJob struct {
	NodeName     string
	InputData    []Item
	SourceNode   string // empty for the seed job
	SourceOutput string
	RunIndex     int
}

// RunResult is the terminal state of a completed run, summarizing the
// execution context for callers that don't need the full context object.
type RunResult struct {
	ExecutionID     string
	Outputs         map[string]any
	Errors          []ExecutionError
	WebhookResponse *WebhookResponse
}
