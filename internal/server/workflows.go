package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rakunlabs/at/internal/service"
	"github.com/rakunlabs/at/internal/service/workflow"
	"github.com/rakunlabs/logi"

	// Blank import triggers init() registration of all built-in node types.
	_ "github.com/rakunlabs/at/internal/service/workflow/nodes"

	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
)

// ─── Workflow CRUD API ───

// workflowsResponse wraps a list of workflow records for JSON output.
type workflowsResponse struct {
	Workflows []service.Workflow `json:"workflows"`
}

// ListWorkflowsAPI handles GET /api/v1/workflows.
func (s *Server) ListWorkflowsAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	records, err := s.workflowStore.ListWorkflows(r.Context())
	if err != nil {
		slog.Error("list workflows failed", "error", err)
		httpResponse(w, fmt.Sprintf("failed to list workflows: %v", err), http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []service.Workflow{}
	}

	httpResponseJSON(w, workflowsResponse{Workflows: records}, http.StatusOK)
}

// GetWorkflowAPI handles GET /api/v1/workflows/:id.
func (s *Server) GetWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	record, err := s.workflowStore.GetWorkflow(r.Context(), id)
	if err != nil {
		slog.Error("get workflow failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to get workflow: %v", err), http.StatusInternalServerError)
		return
	}

	if record == nil {
		httpResponse(w, fmt.Sprintf("workflow %q not found", id), http.StatusNotFound)
		return
	}

	httpResponseJSON(w, record, http.StatusOK)
}

// CreateWorkflowAPI handles POST /api/v1/workflows.
func (s *Server) CreateWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	var req service.Workflow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		httpResponse(w, "name is required", http.StatusBadRequest)
		return
	}

	userEmail := s.getUserEmail(r)
	req.CreatedBy = userEmail
	req.UpdatedBy = userEmail
	record, err := s.workflowStore.CreateWorkflow(r.Context(), req)
	if err != nil {
		slog.Error("create workflow failed", "name", req.Name, "error", err)
		httpResponse(w, fmt.Sprintf("failed to create workflow: %v", err), http.StatusInternalServerError)
		return
	}

	// Sync triggers: create DB trigger records for any trigger nodes in the graph.
	if s.triggerStore != nil {
		cronChanged, err := s.syncTriggers(r.Context(), record.ID, record.Graph, userEmail)
		if err != nil {
			slog.Error("sync triggers failed after create", "id", record.ID, "error", err)
			// Non-fatal: workflow was created, triggers just didn't sync.
		}

		if cronChanged && s.scheduler != nil {
			if err := s.scheduler.Reload(r.Context()); err != nil {
				slog.Error("scheduler reload failed after workflow create", "error", err)
			}
		}
	}

	httpResponseJSON(w, record, http.StatusCreated)
}

// UpdateWorkflowAPI handles PUT /api/v1/workflows/:id.
func (s *Server) UpdateWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	var req service.Workflow
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		httpResponse(w, "name is required", http.StatusBadRequest)
		return
	}

	userEmail := s.getUserEmail(r)
	req.UpdatedBy = userEmail

	// Sync triggers before saving: creates/updates/deletes DB trigger records
	// based on trigger nodes in the graph, matched to nodes by name.
	var cronChanged bool
	if s.triggerStore != nil {
		var err error
		cronChanged, err = s.syncTriggers(r.Context(), id, req.Graph, userEmail)
		if err != nil {
			slog.Error("sync triggers failed", "id", id, "error", err)
			httpResponse(w, fmt.Sprintf("failed to sync triggers: %v", err), http.StatusInternalServerError)
			return
		}
	}

	record, err := s.workflowStore.UpdateWorkflow(r.Context(), id, req)
	if err != nil {
		slog.Error("update workflow failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to update workflow: %v", err), http.StatusInternalServerError)
		return
	}

	if record == nil {
		httpResponse(w, fmt.Sprintf("workflow %q not found", id), http.StatusNotFound)
		return
	}

	// Auto-create a new version snapshot on every save.
	if s.workflowVersionStore != nil {
		ver, err := s.workflowVersionStore.CreateWorkflowVersion(r.Context(), service.WorkflowVersion{
			WorkflowID:  id,
			Name:        record.Name,
			Description: record.Description,
			Graph:       record.Graph,
			CreatedBy:   userEmail,
		})
		if err != nil {
			slog.Error("create workflow version failed", "id", id, "error", err)
			// Non-fatal: workflow was updated, version just didn't get created.
		} else if record.ActiveVersion == nil {
			// On first save (no active version yet), auto-set active version.
			if err := s.workflowVersionStore.SetActiveVersion(r.Context(), id, ver.Version); err != nil {
				slog.Error("set initial active version failed", "id", id, "error", err)
			} else {
				record.ActiveVersion = &ver.Version
			}
		}
	}

	if cronChanged && s.scheduler != nil {
		if err := s.scheduler.Reload(r.Context()); err != nil {
			slog.Error("scheduler reload failed after workflow update", "error", err)
		}
	}

	httpResponseJSON(w, record, http.StatusOK)
}

// DeleteWorkflowAPI handles DELETE /api/v1/workflows/:id.
func (s *Server) DeleteWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	// Delete all triggers associated with this workflow before deleting the workflow.
	var hadCronTriggers bool
	if s.triggerStore != nil {
		triggers, err := s.triggerStore.ListTriggers(r.Context(), id)
		if err != nil {
			slog.Error("list triggers for delete failed", "id", id, "error", err)
		} else {
			for _, t := range triggers {
				if t.Type == "cron" {
					hadCronTriggers = true
				}
				if err := s.triggerStore.DeleteTrigger(r.Context(), t.ID); err != nil {
					slog.Error("delete trigger failed during workflow delete", "trigger_id", t.ID, "error", err)
				}
			}
		}
	}

	if err := s.workflowStore.DeleteWorkflow(r.Context(), id); err != nil {
		slog.Error("delete workflow failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to delete workflow: %v", err), http.StatusInternalServerError)
		return
	}

	if hadCronTriggers && s.scheduler != nil {
		if err := s.scheduler.Reload(r.Context()); err != nil {
			slog.Error("scheduler reload failed after workflow delete", "error", err)
		}
	}

	httpResponse(w, "deleted", http.StatusOK)
}

// ─── Workflow Execution ───

// runWorkflowRequest is the JSON body for POST /api/v1/workflows/run/:id.
type runWorkflowRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// runWorkflowResponse is returned when a workflow is started (async) or completed (sync).
type runWorkflowResponse struct {
	RunID      string                     `json:"run_id"`
	WorkflowID string                     `json:"workflow_id"`
	Status     string                     `json:"status"`
	Outputs    map[string][]workflow.Item `json:"outputs,omitempty"`
	Errors     []workflow.ExecutionError  `json:"errors,omitempty"`
}

// graphToWorkflow adapts a stored graph into the shape the Runner consumes.
func graphToWorkflow(id string, g service.WorkflowGraph) *workflow.Workflow {
	return &workflow.Workflow{
		ID:          id,
		Nodes:       g.Nodes,
		Connections: g.Connections,
		Settings:    g.Settings,
	}
}

// activeGraph returns the graph that should be run for a workflow: the
// active version's graph if one is set, falling back to the workflow's
// latest saved graph on any lookup failure.
func (s *Server) activeGraph(ctx context.Context, wf *service.Workflow) service.WorkflowGraph {
	if wf.ActiveVersion == nil || s.workflowVersionStore == nil {
		return wf.Graph
	}

	ver, err := s.workflowVersionStore.GetWorkflowVersion(ctx, wf.ID, *wf.ActiveVersion)
	if err != nil || ver == nil {
		return wf.Graph
	}

	return ver.Graph
}

// workflowRepository builds a workflow.WorkflowRepository backed by the
// workflow store, used for execute_workflow sub-workflow calls.
func (s *Server) workflowRepository() workflow.WorkflowRepository {
	if s.workflowStore == nil {
		return nil
	}
	return workflowRepoFunc(func(id string) (*workflow.Workflow, error) {
		wf, err := s.workflowStore.GetWorkflow(context.Background(), id)
		if err != nil {
			return nil, err
		}
		if wf == nil {
			return nil, fmt.Errorf("workflow %q not found", id)
		}
		return graphToWorkflow(wf.ID, s.activeGraph(context.Background(), wf)), nil
	})
}

// runAndRecord runs a workflow to completion and persists an Execution
// record summarizing the outcome. Shared by manual runs and webhook runs so
// both show up in history. Cron runs started by the Scheduler call the
// runner directly and are not recorded.
func (s *Server) runAndRecord(ctx context.Context, wfID string, g service.WorkflowGraph, entryNodeNames []string, initialData []workflow.Item, mode workflow.Mode) *workflow.ExecutionContext {
	startedAt := time.Now().UTC()

	ec, err := s.runner.Run(ctx, graphToWorkflow(wfID, g), entryNodeNames, initialData, workflow.RunOptions{
		Mode:         mode,
		OnEvent:      s.broadcastEvent,
		VarLookup:    s.varLookup,
		WorkflowRepo: s.workflowRepository(),
	})
	if err != nil {
		slog.Error("workflow run failed", "workflow_id", wfID, "mode", mode, "error", err)
	}

	if s.executionStore != nil && ec != nil {
		status := "completed"
		var errorsJSON string
		if errs := ec.Errors(); len(errs) > 0 {
			status = "failed"
			if b, mErr := json.Marshal(errs); mErr == nil {
				errorsJSON = string(b)
			}
		}

		_, storeErr := s.executionStore.CreateExecution(context.WithoutCancel(ctx), service.Execution{
			ID:         ec.ExecutionID,
			WorkflowID: wfID,
			Mode:       string(mode),
			Status:     status,
			Errors:     errorsJSON,
			StartedAt:  startedAt.Format(time.RFC3339),
			FinishedAt: time.Now().UTC().Format(time.RFC3339),
		})
		if storeErr != nil {
			slog.Error("record execution failed", "workflow_id", wfID, "error", storeErr)
		}
	}

	return ec
}

// entryNodesAndOutputs scans a graph for manual_trigger entry nodes (the
// only trigger type a manual/API run can start from) and reports whether
// any output node is present.
func entryNodesAndOutputs(g service.WorkflowGraph) (entries []string, hasOutput bool) {
	for _, n := range g.Nodes {
		if n.Type == "manual_trigger" {
			entries = append(entries, n.Name)
		}
		if n.Type == "output" {
			hasOutput = true
		}
	}
	return entries, hasOutput
}

// RunWorkflowAPI handles POST /api/v1/workflows/run/:id.
// By default the workflow is executed asynchronously and the response returns
// a run_id that can be used to cancel the run.
// Pass ?sync=true to run synchronously: the request blocks until the workflow
// completes and the response includes the run status and errors, plus the
// node outputs when the graph contains an output node.
func (s *Server) RunWorkflowAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	wf, err := s.workflowStore.GetWorkflow(r.Context(), id)
	if err != nil {
		slog.Error("run workflow: get failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to get workflow: %v", err), http.StatusInternalServerError)
		return
	}

	if wf == nil {
		httpResponse(w, fmt.Sprintf("workflow %q not found", id), http.StatusNotFound)
		return
	}

	// Determine which graph to run: if ?version=N is set, load that version's graph.
	graphToRun := s.activeGraph(r.Context(), wf)
	if versionStr := r.URL.Query().Get("version"); versionStr != "" {
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			httpResponse(w, fmt.Sprintf("invalid version parameter: %v", err), http.StatusBadRequest)
			return
		}
		if s.workflowVersionStore == nil {
			httpResponse(w, "version store not configured", http.StatusServiceUnavailable)
			return
		}
		ver, err := s.workflowVersionStore.GetWorkflowVersion(r.Context(), id, version)
		if err != nil {
			slog.Error("run workflow: get version failed", "id", id, "version", version, "error", err)
			httpResponse(w, fmt.Sprintf("failed to get workflow version: %v", err), http.StatusInternalServerError)
			return
		}
		if ver == nil {
			httpResponse(w, fmt.Sprintf("workflow %q version %d not found", id, version), http.StatusNotFound)
			return
		}
		graphToRun = ver.Graph
	}

	var req runWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	entryNodeNames, hasOutputNode := entryNodesAndOutputs(graphToRun)
	if len(entryNodeNames) == 0 {
		httpResponse(w, "workflow has no manual_trigger node to start from", http.StatusBadRequest)
		return
	}

	initialData := []workflow.Item{{JSON: req.Inputs}}

	// Sync mode runs the engine inline in this handler; async mode runs it in
	// a goroutine that outlives the HTTP request. Both use
	// context.Background() so the request context cancellation does not kill
	// graph execution.
	parentCtx := context.Background()

	requestID := r.Header.Get(mrequestid.HeaderXRequestID)
	parentCtx = logi.WithContext(parentCtx, slog.With(
		slog.String("workflow_id", id),
		slog.String("workflow_name", wf.Name),
		slog.String("request_id", requestID),
	))

	runID, ctx, cleanup := s.registerRun(parentCtx, id, "api")

	if r.URL.Query().Get("sync") == "true" {
		defer cleanup()

		ec := s.runAndRecord(ctx, id, graphToRun, entryNodeNames, initialData, workflow.ModeManual)

		status := "completed"
		if ec == nil {
			httpResponse(w, "workflow execution failed", http.StatusInternalServerError)
			return
		}
		if len(ec.Errors()) > 0 {
			status = "failed"
		}

		resp := runWorkflowResponse{
			RunID:      runID,
			WorkflowID: id,
			Status:     status,
			Errors:     ec.Errors(),
		}
		if hasOutputNode {
			resp.Outputs = ec.NodeStates()
		}

		httpResponseJSON(w, resp, http.StatusOK)
		return
	}

	go func() {
		defer cleanup()
		ec := s.runAndRecord(ctx, id, graphToRun, entryNodeNames, initialData, workflow.ModeManual)
		if ec != nil {
			logi.Ctx(ctx).Info("workflow completed", "id", id, "run_id", runID, "errors", len(ec.Errors()))
		}
	}()

	httpResponseJSON(w, runWorkflowResponse{
		RunID:      runID,
		WorkflowID: id,
		Status:     "running",
	}, http.StatusAccepted)
}

// ─── Workflow Version API ───

// workflowVersionsResponse wraps a list of workflow version records for JSON output.
type workflowVersionsResponse struct {
	Versions []service.WorkflowVersion `json:"versions"`
}

// ListWorkflowVersionsAPI handles GET /api/v1/workflows/:id/versions.
func (s *Server) ListWorkflowVersionsAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowVersionStore == nil {
		httpResponse(w, "version store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	versions, err := s.workflowVersionStore.ListWorkflowVersions(r.Context(), id)
	if err != nil {
		slog.Error("list workflow versions failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to list workflow versions: %v", err), http.StatusInternalServerError)
		return
	}

	if versions == nil {
		versions = []service.WorkflowVersion{}
	}

	httpResponseJSON(w, workflowVersionsResponse{Versions: versions}, http.StatusOK)
}

// GetWorkflowVersionAPI handles GET /api/v1/workflows/:id/versions/:version.
func (s *Server) GetWorkflowVersionAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowVersionStore == nil {
		httpResponse(w, "version store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	versionStr := r.PathValue("version")
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		httpResponse(w, fmt.Sprintf("invalid version: %v", err), http.StatusBadRequest)
		return
	}

	ver, err := s.workflowVersionStore.GetWorkflowVersion(r.Context(), id, version)
	if err != nil {
		slog.Error("get workflow version failed", "id", id, "version", version, "error", err)
		httpResponse(w, fmt.Sprintf("failed to get workflow version: %v", err), http.StatusInternalServerError)
		return
	}

	if ver == nil {
		httpResponse(w, fmt.Sprintf("workflow %q version %d not found", id, version), http.StatusNotFound)
		return
	}

	httpResponseJSON(w, ver, http.StatusOK)
}

// setActiveVersionRequest is the JSON body for PUT /api/v1/workflows/:id/active-version.
type setActiveVersionRequest struct {
	Version int `json:"version"`
}

// SetActiveVersionAPI handles PUT /api/v1/workflows/:id/active-version.
func (s *Server) SetActiveVersionAPI(w http.ResponseWriter, r *http.Request) {
	if s.workflowVersionStore == nil {
		httpResponse(w, "version store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	var req setActiveVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Version <= 0 {
		httpResponse(w, "version must be a positive integer", http.StatusBadRequest)
		return
	}

	ver, err := s.workflowVersionStore.GetWorkflowVersion(r.Context(), id, req.Version)
	if err != nil {
		slog.Error("set active version: get version failed", "id", id, "version", req.Version, "error", err)
		httpResponse(w, fmt.Sprintf("failed to verify version: %v", err), http.StatusInternalServerError)
		return
	}
	if ver == nil {
		httpResponse(w, fmt.Sprintf("workflow %q version %d not found", id, req.Version), http.StatusNotFound)
		return
	}

	if err := s.workflowVersionStore.SetActiveVersion(r.Context(), id, req.Version); err != nil {
		slog.Error("set active version failed", "id", id, "version", req.Version, "error", err)
		httpResponse(w, fmt.Sprintf("failed to set active version: %v", err), http.StatusInternalServerError)
		return
	}

	if _, err := s.workflowStore.UpdateWorkflow(r.Context(), id, service.Workflow{
		Name:        ver.Name,
		Description: ver.Description,
		Graph:       ver.Graph,
		UpdatedBy:   s.getUserEmail(r),
	}); err != nil {
		slog.Error("update workflow graph from active version failed", "id", id, "version", req.Version, "error", err)
		// Non-fatal: active_version was set, graph sync just failed.
	}

	if s.scheduler != nil {
		if err := s.scheduler.Reload(r.Context()); err != nil {
			slog.Error("scheduler reload failed after set active version", "error", err)
		}
	}

	httpResponse(w, fmt.Sprintf("active version set to %d", req.Version), http.StatusOK)
}

// ─── Trigger Sync ───

// triggerNodeType maps graph node types to DB trigger types.
var triggerNodeType = map[string]string{
	"webhook_trigger": "http",
	"cron_trigger":    "cron",
}

// syncTriggers synchronises DB trigger records with the trigger nodes present
// in the workflow graph, matched by node name (stored in Config["node_name"]):
//   - Creates new triggers for trigger nodes with no matching DB record
//   - Updates existing triggers whose config/alias/public flag has changed
//   - Deletes DB triggers whose node no longer exists in the graph
//
// Returns whether any cron triggers were created, updated or deleted (so the
// caller can reload the scheduler).
func (s *Server) syncTriggers(ctx context.Context, workflowID string, graph service.WorkflowGraph, userEmail string) (cronChanged bool, err error) {
	existing, err := s.triggerStore.ListTriggers(ctx, workflowID)
	if err != nil {
		return false, fmt.Errorf("list triggers: %w", err)
	}

	existingByNode := make(map[string]service.Trigger, len(existing))
	for _, t := range existing {
		if name, _ := t.Config["node_name"].(string); name != "" {
			existingByNode[name] = t
		}
	}

	seen := make(map[string]bool)

	for _, node := range graph.Nodes {
		dbType, ok := triggerNodeType[node.Type]
		if !ok {
			continue
		}

		newConfig := buildTriggerConfig(node)
		alias, _ := node.Parameters["alias"].(string)
		public, _ := node.Parameters["public"].(bool)

		if t, exists := existingByNode[node.Name]; exists {
			seen[node.Name] = true

			if configChanged(t.Config, newConfig) || t.Alias != alias || t.Public != public {
				updated, err := s.triggerStore.UpdateTrigger(ctx, t.ID, service.Trigger{
					Type:      dbType,
					Config:    newConfig,
					Alias:     alias,
					Public:    public,
					Enabled:   true,
					UpdatedBy: userEmail,
				})
				if err != nil {
					slog.Error("sync: update trigger failed", "trigger_id", t.ID, "error", err)
				} else if updated != nil && dbType == "cron" {
					cronChanged = true
				}
			}
			continue
		}

		_, err := s.triggerStore.CreateTrigger(ctx, service.Trigger{
			WorkflowID: workflowID,
			Type:       dbType,
			Config:     newConfig,
			Alias:      alias,
			Public:     public,
			Enabled:    true,
			CreatedBy:  userEmail,
			UpdatedBy:  userEmail,
		})
		if err != nil {
			slog.Error("sync: create trigger failed", "node_name", node.Name, "error", err)
			continue
		}

		seen[node.Name] = true
		if dbType == "cron" {
			cronChanged = true
		}
	}

	for name, t := range existingByNode {
		if seen[name] {
			continue
		}
		if err := s.triggerStore.DeleteTrigger(ctx, t.ID); err != nil {
			slog.Error("sync: delete orphaned trigger failed", "trigger_id", t.ID, "error", err)
			continue
		}
		if t.Type == "cron" {
			cronChanged = true
		}
		slog.Info("sync: deleted orphaned trigger", "trigger_id", t.ID, "type", t.Type, "node_name", name)
	}

	return cronChanged, nil
}

// buildTriggerConfig extracts trigger-specific config from a graph node's
// parameters. node_name is always stored so syncTriggers can match this
// trigger back to its node on the next save.
func buildTriggerConfig(node workflow.NodeDefinition) map[string]any {
	config := map[string]any{"node_name": node.Name}

	switch node.Type {
	case "cron_trigger":
		if schedule, ok := node.Parameters["schedule"].(string); ok && schedule != "" {
			config["schedule"] = schedule
		}
		if payload, ok := node.Parameters["payload"]; ok {
			config["payload"] = payload
		}
	case "webhook_trigger":
		// No user-configurable settings beyond existence and alias/public,
		// which are stored directly on the Trigger record.
	}

	return config
}

// configChanged returns true if two config maps differ in meaningful ways.
func configChanged(old, updated map[string]any) bool {
	if len(old) != len(updated) {
		return true
	}
	for k, v := range updated {
		oldV, exists := old[k]
		if !exists {
			return true
		}
		oldJSON, _ := json.Marshal(oldV)
		newJSON, _ := json.Marshal(v)
		if string(oldJSON) != string(newJSON) {
			return true
		}
	}
	return false
}
