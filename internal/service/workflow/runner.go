package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Runner executes workflows against a shared node-type Registry. A single
// Runner is safe to reuse across concurrent runs — all per-run state lives
// in the ExecutionContext each Run call creates, never on the Runner
// itself.
type Runner struct {
	Registry *Registry
}

// NewRunner creates a Runner backed by the given node-type registry.
func NewRunner(reg *Registry) *Runner {
	return &Runner{Registry: reg}
}

// RunOptions configures one Run call.
type RunOptions struct {
	Mode              Mode
	OnEvent           EventCallback
	HTTPClient        *http.Client
	MaxExecutionDepth int
	ParentExecutionID string
	ExecutionDepth    int
	WorkflowRepo      WorkflowRepository
	VarLookup         VarLookup

	// EarlyWebhookResponse, if non-nil, receives the webhook response
	// exactly once, as soon as a RespondToWebhook node sets one — without
	// waiting for the rest of the run to finish. The send is best-effort
	// (buffered-or-dropped, never blocking): callers that want it must pass
	// a channel with capacity at least 1.
	EarlyWebhookResponse chan<- *WebhookResponse
}

// Run executes workflow starting from entryNodeNames (normally a single
// trigger node, but a webhook id may match more than one trigger node in
// the graph). initialData seeds every entry node's first job. It runs the
// BFS layer scheduler to completion (queue empty, a hard stop, or the
// iteration limit) and returns the resulting ExecutionContext.
//
// This replaces a strict topological-order walk: Loop and SplitInBatches
// nodes route an output back to a node that already ran earlier in the
// same run, which a topological sort would reject as a cycle. Jobs are
// instead keyed by (node name, run index), so a node can legitimately
// re-enter the queue multiple times across a run.
func (r *Runner) Run(ctx context.Context, wf *Workflow, entryNodeNames []string, initialData []Item, opts RunOptions) (*ExecutionContext, error) {
	if len(initialData) == 0 {
		initialData = []Item{{JSON: map[string]any{}}}
	}

	ec := NewExecutionContext(wf, generateExecutionID(), opts.Mode)
	ec.OnEvent = opts.OnEvent
	ec.ParentExecutionID = opts.ParentExecutionID
	ec.ExecutionDepth = opts.ExecutionDepth
	ec.WorkflowRepository = opts.WorkflowRepo
	ec.VarLookup = opts.VarLookup
	if opts.MaxExecutionDepth > 0 {
		ec.MaxExecutionDepth = opts.MaxExecutionDepth
	}
	ec.HTTPClient = opts.HTTPClient
	if ec.HTTPClient == nil {
		ec.HTTPClient = defaultHTTPClient()
	}

	if ec.ExecutionDepth > ec.MaxExecutionDepth {
		return ec, ErrRecursionLimit
	}

	nodeMap := make(map[string]*NodeDefinition, len(wf.Nodes))
	for i := range wf.Nodes {
		nodeMap[wf.Nodes[i].Name] = &wf.Nodes[i]
	}

	totalNodes := len(wf.Nodes)
	completedNodes := 0
	executedNodes := make(map[string]bool)

	ec.emitExecutionStart(totalNodes)

	queue := make([]ExecutionJob, 0, len(entryNodeNames))
	for _, name := range entryNodeNames {
		if nodeMap[name] == nil {
			continue
		}
		queue = append(queue, ExecutionJob{
			NodeName:     name,
			InputData:    initialData,
			SourceOutput: "main",
			RunIndex:     0,
		})
	}
	if len(queue) == 0 {
		err := fmt.Errorf("no valid start node found among %v", entryNodeNames)
		ec.emitExecutionError(err)
		return ec, err
	}

	maxIterations := wf.MaxIterations()
	iteration := 0
	earlySent := false
	var stop *WorkflowStopError

	for len(queue) > 0 && iteration < maxIterations {
		iteration++

		batch := queue
		queue = nil

		for _, job := range batch {
			if nd := nodeMap[job.NodeName]; nd != nil && !executedNodes[job.NodeName] {
				ec.emitNodeStart(job.NodeName, nd.Type, job.RunIndex, completedNodes, totalNodes)
			}
		}

		nextBatches := make([][]ExecutionJob, len(batch))
		jobResults := make([]*NodeExecutionResult, len(batch))
		hadErrors := make([]bool, len(batch))
		jobErrs := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, job := range batch {
			wg.Add(1)
			go func(i int, job ExecutionJob) {
				defer wg.Done()
				nextJobs, result, err := r.processJob(ctx, ec, job, nodeMap)
				nextBatches[i] = nextJobs
				jobResults[i] = result
				hadErrors[i] = err != nil
				jobErrs[i] = err
			}(i, job)
		}
		wg.Wait()

		for i, job := range batch {
			nd := nodeMap[job.NodeName]
			if !executedNodes[job.NodeName] {
				executedNodes[job.NodeName] = true
				completedNodes++
				if !hadErrors[i] && nd != nil {
					ec.emitNodeComplete(job.NodeName, nd.Type, job.RunIndex, jobResults[i], completedNodes, totalNodes)
				}
			}
			if s, ok := AsWorkflowStop(jobErrs[i]); ok && stop == nil {
				stop = s
				continue
			}
			queue = append(queue, nextBatches[i]...)
		}

		if opts.EarlyWebhookResponse != nil && !earlySent {
			if wr := ec.WebhookResponse(); wr != nil {
				earlySent = true
				select {
				case opts.EarlyWebhookResponse <- wr:
				default:
				}
			}
		}

		if stop != nil {
			queue = nil
			break
		}
	}

	if stop != nil {
		if stop.Warning {
			ec.emitExecutionComplete(completedNodes, totalNodes)
			return ec, nil
		}
		ec.AddError("WorkflowRunner", stop.Error())
		ec.emitExecutionError(stop)
		return ec, stop
	}

	if iteration >= maxIterations && len(queue) > 0 {
		ec.AddError("WorkflowRunner", ErrIterationLimit.Error())
		ec.emitExecutionError(ErrIterationLimit)
		return ec, ErrIterationLimit
	}

	ec.emitExecutionComplete(completedNodes, totalNodes)
	return ec, nil
}

// processJob runs a single node and returns the jobs it unblocks along with
// the node's result (nil if it was merely buffered by a join node still
// waiting on other inputs). The returned error is non-nil only to tell the
// caller "this job ended in an error" for event/bookkeeping purposes — the
// run itself continues regardless, matching the ground truth's per-job
// return-True-on-error rather than aborting the batch. Node-complete events
// are emitted by the caller once per node, not here, so a node revisited via
// a loop back-edge is still only counted once toward overall progress.
func (r *Runner) processJob(ctx context.Context, ec *ExecutionContext, job ExecutionJob, nodeMap map[string]*NodeDefinition) ([]ExecutionJob, *NodeExecutionResult, error) {
	def := nodeMap[job.NodeName]
	if def == nil {
		err := fmt.Errorf("node %q not found", job.NodeName)
		ec.AddError(job.NodeName, err.Error())
		ec.emitNodeError(job.NodeName, "", job.RunIndex, err)
		return nil, nil, err
	}

	node, err := r.Registry.Get(def.Type)
	if err != nil {
		ec.AddError(job.NodeName, err.Error())
		ec.emitNodeError(job.NodeName, def.Type, job.RunIndex, err)
		return nil, nil, err
	}

	inputData := job.InputData
	if n := node.InputCount(); n > 1 || n == DynamicInputCount {
		ready := r.handleMultiInput(ec, *def, job)
		if !ready {
			return nil, nil, nil
		}
		inputData = r.collectMultiInput(ec, job.NodeName, job.RunIndex)
	}

	if len(def.PinnedData) > 0 {
		ec.setNodeState(job.NodeName, def.PinnedData)
		result := Main(def.PinnedData)
		return r.queueNextNodes(ec, *def, result, job.RunIndex, nodeMap), result, nil
	}

	resolvedDef := r.resolveNodeParameters(ec, *def, inputData)

	var result *NodeExecutionResult
	var lastErr error
	maxRetries := def.RetryOnFail
	retryDelay := time.Duration(def.RetryDelayOrDefault()) * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, lastErr = node.Execute(ctx, ec, resolvedDef, inputData)
		if lastErr == nil {
			break
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = maxRetries
			case <-time.After(retryDelay):
			}
		}
	}

	if lastErr != nil || result == nil {
		errMsg := "unknown execution error"
		if lastErr != nil {
			errMsg = lastErr.Error()
		}
		if stop, ok := AsWorkflowStop(lastErr); ok && stop.Warning {
			return nil, nil, stop
		}
		wrapped := &NodeExecutionError{NodeName: job.NodeName, NodeType: def.Type, Attempt: maxRetries + 1, Err: errors.New(errMsg)}
		ec.AddError(job.NodeName, wrapped.Error())
		ec.emitNodeError(job.NodeName, def.Type, job.RunIndex, wrapped)

		if stop, ok := AsWorkflowStop(lastErr); ok {
			return nil, nil, stop
		}

		if def.ContinueOnFail {
			result = Main([]Item{{JSON: map[string]any{"error": errMsg, "_errorNode": job.NodeName}}})
		} else {
			r.propagateNoOutput(ec, *def, job.RunIndex, nodeMap)
			return nil, nil, wrapped
		}
	}

	ec.incrementRunCount(job.NodeName)

	if main, ok := result.Outputs["main"]; ok && !main.IsNoOutput() {
		ec.setNodeState(job.NodeName, main.Items())
	} else if len(result.Outputs) > 0 {
		for _, v := range result.Outputs {
			if !v.IsNoOutput() {
				ec.setNodeState(job.NodeName, v.Items())
				break
			}
		}
	}

	return r.queueNextNodes(ec, *def, result, job.RunIndex, nodeMap), result, nil
}

// handleMultiInput accumulates one upstream contribution for a join node
// (e.g. Merge) and reports whether every expected upstream connection has
// now delivered — including NO_OUTPUT signals, which still count toward
// readiness even though they carry no items.
func (r *Runner) handleMultiInput(ec *ExecutionContext, def NodeDefinition, job ExecutionJob) bool {
	nodeKey := fmt.Sprintf("%s:%d", def.Name, job.RunIndex)
	inputKey := "initial"
	if job.SourceNode != "" {
		inputKey = fmt.Sprintf("%s:%s", job.SourceNode, job.SourceOutput)
	}

	count := ec.recordPendingInput(nodeKey, inputKey, Output(job.InputData))

	expected := map[string]bool{}
	for _, c := range ec.Workflow.Connections {
		if c.TargetNode == def.Name {
			expected[fmt.Sprintf("%s:%s", c.SourceNode, c.SourceOutputOrDefault())] = true
		}
	}

	return count >= len(expected)
}

// collectMultiInput assembles a join node's combined input items from its
// accumulated pending-input bucket, once handleMultiInput has reported the
// node ready, ordered by the target's inbound connections so a Merge node
// sees its upstream branches in a stable, graph-defined order rather than
// Go's randomized map iteration order. Each item is tagged with its source
// branch's index under MergeBranchKey so Merge's branch-aware modes
// (waitForAll, keepMatches, combinePairs) can regroup them even though they
// travel through Execute as a single flat slice; Merge strips the tag
// before any item leaves the node.
func (r *Runner) collectMultiInput(ec *ExecutionContext, nodeName string, runIndex int) []Item {
	nodeKey := fmt.Sprintf("%s:%d", nodeName, runIndex)
	bucket := ec.takePendingInputs(nodeKey)

	var items []Item
	seen := map[string]bool{}
	branch := 0
	for _, conn := range ec.Workflow.Connections {
		if conn.TargetNode != nodeName {
			continue
		}
		key := fmt.Sprintf("%s:%s", conn.SourceNode, conn.SourceOutputOrDefault())
		if seen[key] {
			continue
		}
		seen[key] = true
		if out, ok := bucket[key]; ok && !out.IsNoOutput() {
			for _, it := range out.Items() {
				tagged := make(map[string]any, len(it.JSON)+1)
				for k, v := range it.JSON {
					tagged[k] = v
				}
				tagged[MergeBranchKey] = branch
				items = append(items, Item{JSON: tagged, Binary: it.Binary})
			}
		}
		branch++
	}
	return items
}

// MergeBranchKey is the JSON field collectMultiInput uses to tag each item
// with the index (0-based, in inbound-connection order) of the branch it
// arrived on. It is internal wiring between the runner and the Merge node
// and must never appear on an item once Merge has processed it.
const MergeBranchKey = "__merge_branch"

// queueNextNodes builds the follow-on jobs for every connection leading out
// of def, given the node's result. A "loop" output port advances the
// target's run index, which is how Loop/SplitInBatches back-edges are
// distinguished from a fresh pass through the same node.
func (r *Runner) queueNextNodes(ec *ExecutionContext, def NodeDefinition, result *NodeExecutionResult, runIndex int, nodeMap map[string]*NodeDefinition) []ExecutionJob {
	var next []ExecutionJob

	for outputName, out := range result.Outputs {
		for _, conn := range ec.Workflow.Connections {
			if conn.SourceNode != def.Name || conn.SourceOutputOrDefault() != outputName {
				continue
			}
			targetDef := nodeMap[conn.TargetNode]
			if targetDef == nil {
				continue
			}

			isLoop := outputName == "loop"
			nextRunIndex := runIndex
			if isLoop {
				nextRunIndex = runIndex + 1
			}

			if out.IsNoOutput() {
				targetNode, err := r.Registry.Get(targetDef.Type)
				if err != nil {
					continue
				}
				if targetNode.InputCount() != 1 {
					nodeKey := fmt.Sprintf("%s:%d", conn.TargetNode, nextRunIndex)
					ec.recordPendingInput(nodeKey, fmt.Sprintf("%s:%s", def.Name, outputName), NoOutput())
				}
				continue
			}

			if len(out.Items()) == 0 {
				// An explicitly-empty-but-live port does not advance a
				// single-input node and does not count toward a join's
				// readiness either — it is simply not propagated.
				continue
			}

			next = append(next, ExecutionJob{
				NodeName:     conn.TargetNode,
				InputData:    out.Items(),
				SourceNode:   def.Name,
				SourceOutput: outputName,
				RunIndex:     nextRunIndex,
			})
		}
	}

	return next
}

// propagateNoOutput marks every downstream join node as having received a
// dead branch from def, used when a node fails without continueOnFail.
func (r *Runner) propagateNoOutput(ec *ExecutionContext, def NodeDefinition, runIndex int, nodeMap map[string]*NodeDefinition) {
	for _, conn := range ec.Workflow.Connections {
		if conn.SourceNode != def.Name {
			continue
		}
		targetDef := nodeMap[conn.TargetNode]
		if targetDef == nil {
			continue
		}
		targetNode, err := r.Registry.Get(targetDef.Type)
		if err != nil {
			continue
		}
		if targetNode.InputCount() != 1 {
			nodeKey := fmt.Sprintf("%s:%d", conn.TargetNode, runIndex)
			ec.recordPendingInput(nodeKey, fmt.Sprintf("%s:%s", def.Name, conn.SourceOutputOrDefault()), NoOutput())
		}
	}
}

// resolveNodeParameters evaluates every node-level {{ }} expression in a
// node's parameters (those touching $node, $env, $execution, $input)
// against the current execution state, returning a copy of the node
// definition with Parameters replaced. Expressions referencing $json or
// $itemIndex are left as literal template text (skip_json=true) since they
// vary per item — nodes that process items one at a time (If, Filter, Set,
// HttpRequest, Email, ...) resolve those themselves inside Execute against
// each item's own ExpressionContext. The original def is left untouched so
// retries re-resolve from the same source parameters.
func (r *Runner) resolveNodeParameters(ec *ExecutionContext, def NodeDefinition, inputData []Item) NodeDefinition {
	exprCtx := NewExpressionContext(ec, inputData, 0)
	resolved := ResolveExpressions(any(def.Parameters), exprCtx, true)

	out := def
	if m, ok := resolved.(map[string]any); ok {
		out.Parameters = m
	}
	return out
}

var (
	execIDMu      sync.Mutex
	execIDCounter int
)

// generateExecutionID builds a time-ordered, collision-resistant execution
// id. Avoids wall-clock-only ids (two runs starting in the same
// millisecond) by folding in a monotonic counter.
func generateExecutionID() string {
	execIDMu.Lock()
	execIDCounter++
	n := execIDCounter
	execIDMu.Unlock()
	return fmt.Sprintf("exec_%d_%d", time.Now().UnixNano(), n)
}

var (
	defaultClientOnce sync.Once
	defaultClient     *http.Client
)

// defaultHTTPClient lazily builds the process-wide fallback HTTP client used
// when a Run call doesn't supply its own, mirroring the ground truth's
// one-client-per-run httpx.AsyncClient(timeout=30.0).
func defaultHTTPClient() *http.Client {
	defaultClientOnce.Do(func() {
		defaultClient = &http.Client{Timeout: 30 * time.Second}
	})
	return defaultClient
}
