package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rakunlabs/at/internal/service"
	"github.com/rakunlabs/at/internal/service/workflow"
	"github.com/rakunlabs/logi"

	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
)

// ─── Trigger CRUD API ───

// triggersResponse wraps a list of trigger records for JSON output.
type triggersResponse struct {
	Triggers []service.Trigger `json:"triggers"`
}

// ListTriggersAPI handles GET /api/v1/workflows/:workflow_id/triggers.
func (s *Server) ListTriggersAPI(w http.ResponseWriter, r *http.Request) {
	if s.triggerStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	wfID := r.PathValue("workflow_id")
	if wfID == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	records, err := s.triggerStore.ListTriggers(r.Context(), wfID)
	if err != nil {
		slog.Error("list triggers failed", "workflow_id", wfID, "error", err)
		httpResponse(w, fmt.Sprintf("failed to list triggers: %v", err), http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []service.Trigger{}
	}

	httpResponseJSON(w, triggersResponse{Triggers: records}, http.StatusOK)
}

// CreateTriggerAPI handles POST /api/v1/workflows/:workflow_id/triggers.
func (s *Server) CreateTriggerAPI(w http.ResponseWriter, r *http.Request) {
	if s.triggerStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	wfID := r.PathValue("workflow_id")
	if wfID == "" {
		httpResponse(w, "workflow id is required", http.StatusBadRequest)
		return
	}

	var req service.Trigger
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Type != "http" && req.Type != "cron" {
		httpResponse(w, "type must be 'http' or 'cron'", http.StatusBadRequest)
		return
	}

	if req.Type == "cron" {
		schedule, _ := req.Config["schedule"].(string)
		if schedule == "" {
			httpResponse(w, "cron trigger requires 'schedule' in config", http.StatusBadRequest)
			return
		}
	}

	userEmail := s.getUserEmail(r)

	if req.Alias != "" {
		existing, err := s.triggerStore.GetTriggerByAlias(r.Context(), req.Alias)
		if err != nil {
			slog.Error("check alias uniqueness failed", "alias", req.Alias, "error", err)
			httpResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		if existing != nil {
			httpResponse(w, fmt.Sprintf("alias %q is already in use", req.Alias), http.StatusConflict)
			return
		}
	}

	req.WorkflowID = wfID
	req.CreatedBy = userEmail
	req.UpdatedBy = userEmail

	record, err := s.triggerStore.CreateTrigger(r.Context(), req)
	if err != nil {
		slog.Error("create trigger failed", "workflow_id", wfID, "error", err)
		httpResponse(w, fmt.Sprintf("failed to create trigger: %v", err), http.StatusInternalServerError)
		return
	}

	if req.Type == "cron" && req.Enabled && s.scheduler != nil {
		if err := s.scheduler.Reload(r.Context()); err != nil {
			slog.Error("scheduler reload failed after trigger create", "error", err)
		}
	}

	httpResponseJSON(w, record, http.StatusCreated)
}

// GetTriggerAPI handles GET /api/v1/triggers/:id.
func (s *Server) GetTriggerAPI(w http.ResponseWriter, r *http.Request) {
	if s.triggerStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "trigger id is required", http.StatusBadRequest)
		return
	}

	record, err := s.triggerStore.GetTrigger(r.Context(), id)
	if err != nil {
		slog.Error("get trigger failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to get trigger: %v", err), http.StatusInternalServerError)
		return
	}

	if record == nil {
		httpResponse(w, fmt.Sprintf("trigger %q not found", id), http.StatusNotFound)
		return
	}

	httpResponseJSON(w, record, http.StatusOK)
}

// UpdateTriggerAPI handles PUT /api/v1/triggers/:id.
func (s *Server) UpdateTriggerAPI(w http.ResponseWriter, r *http.Request) {
	if s.triggerStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "trigger id is required", http.StatusBadRequest)
		return
	}

	var req service.Trigger
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpResponse(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	if req.Type != "" && req.Type != "http" && req.Type != "cron" {
		httpResponse(w, "type must be 'http' or 'cron'", http.StatusBadRequest)
		return
	}

	userEmail := s.getUserEmail(r)

	if req.Alias != "" {
		existing, err := s.triggerStore.GetTriggerByAlias(r.Context(), req.Alias)
		if err != nil {
			slog.Error("check alias uniqueness failed", "alias", req.Alias, "error", err)
			httpResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
		if existing != nil && existing.ID != id {
			httpResponse(w, fmt.Sprintf("alias %q is already in use", req.Alias), http.StatusConflict)
			return
		}
	}

	req.UpdatedBy = userEmail
	record, err := s.triggerStore.UpdateTrigger(r.Context(), id, req)
	if err != nil {
		slog.Error("update trigger failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to update trigger: %v", err), http.StatusInternalServerError)
		return
	}

	if record == nil {
		httpResponse(w, fmt.Sprintf("trigger %q not found", id), http.StatusNotFound)
		return
	}

	if s.scheduler != nil {
		if err := s.scheduler.Reload(r.Context()); err != nil {
			slog.Error("scheduler reload failed after trigger update", "error", err)
		}
	}

	httpResponseJSON(w, record, http.StatusOK)
}

// DeleteTriggerAPI handles DELETE /api/v1/triggers/:id.
func (s *Server) DeleteTriggerAPI(w http.ResponseWriter, r *http.Request) {
	if s.triggerStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "trigger id is required", http.StatusBadRequest)
		return
	}

	existing, _ := s.triggerStore.GetTrigger(r.Context(), id)

	if err := s.triggerStore.DeleteTrigger(r.Context(), id); err != nil {
		slog.Error("delete trigger failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to delete trigger: %v", err), http.StatusInternalServerError)
		return
	}

	if existing != nil && existing.Type == "cron" && s.scheduler != nil {
		if err := s.scheduler.Reload(r.Context()); err != nil {
			slog.Error("scheduler reload failed after trigger delete", "error", err)
		}
	}

	httpResponse(w, "deleted", http.StatusOK)
}

// ─── Webhook Handler ───

// WebhookAPI handles POST /api/v1/webhooks/:trigger_id_or_alias.
// It looks up the HTTP trigger by ID or alias, verifies it is enabled,
// enforces authentication for non-public triggers, loads the associated
// workflow, and starts execution from the matching webhook_trigger node.
// By default runs asynchronously (202). Pass ?sync=true to block until
// the workflow completes; the response is then the run's webhook response
// if a respond_to_webhook node set one, otherwise the run status and errors,
// plus node outputs when the graph contains an output node.
func (s *Server) WebhookAPI(w http.ResponseWriter, r *http.Request) {
	if s.triggerStore == nil || s.workflowStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	idOrAlias := r.PathValue("id")
	if idOrAlias == "" {
		httpResponse(w, "trigger id or alias is required", http.StatusBadRequest)
		return
	}

	trigger, err := s.triggerStore.GetTrigger(r.Context(), idOrAlias)
	if err != nil {
		slog.Error("webhook: get trigger failed", "id_or_alias", idOrAlias, "error", err)
		httpResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if trigger == nil {
		trigger, err = s.triggerStore.GetTriggerByAlias(r.Context(), idOrAlias)
		if err != nil {
			slog.Error("webhook: get trigger by alias failed", "alias", idOrAlias, "error", err)
			httpResponse(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	if trigger == nil {
		httpResponse(w, "webhook not found", http.StatusNotFound)
		return
	}

	if trigger.Type != "http" {
		httpResponse(w, "trigger is not an HTTP trigger", http.StatusBadRequest)
		return
	}

	if !trigger.Enabled {
		httpResponse(w, "trigger is disabled", http.StatusForbidden)
		return
	}

	if !trigger.Public {
		token := s.authenticateRequest(r)
		if token == nil {
			httpResponse(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if !tokenAllowsWebhook(token, trigger.ID, trigger.Alias) {
			httpResponse(w, "token does not have access to this webhook", http.StatusForbidden)
			return
		}
	}

	wf, err := s.workflowStore.GetWorkflow(r.Context(), trigger.WorkflowID)
	if err != nil {
		slog.Error("webhook: get workflow failed",
			"trigger_id", trigger.ID, "workflow_id", trigger.WorkflowID, "error", err)
		httpResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if wf == nil {
		httpResponse(w, "associated workflow not found", http.StatusNotFound)
		return
	}

	graphToRun := s.activeGraph(r.Context(), wf)

	nodeName, _ := trigger.Config["node_name"].(string)

	var entryNodeNames []string
	hasOutputNode := false
	for _, n := range graphToRun.Nodes {
		if n.Type == "webhook_trigger" && (nodeName == "" || n.Name == nodeName) {
			entryNodeNames = append(entryNodeNames, n.Name)
		}
		if n.Type == "output" {
			hasOutputNode = true
		}
	}

	if len(entryNodeNames) == 0 {
		httpResponse(w, "trigger has no matching webhook_trigger node", http.StatusInternalServerError)
		return
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("webhook: read body failed", "trigger_id", trigger.ID, "error", err)
		httpResponse(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var bodyJSON any
	if len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, &bodyJSON); err != nil {
			bodyJSON = string(bodyBytes)
		}
	}

	query := make(map[string]string, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	inputs := map[string]any{
		"method":       r.Method,
		"path":         r.URL.Path,
		"query":        query,
		"headers":      headers,
		"body":         bodyJSON,
		"trigger_id":   trigger.ID,
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
	}

	initialData := []workflow.Item{{JSON: inputs}}

	// Sync mode runs inline in this handler; async mode runs in a goroutine
	// that outlives the HTTP request. Both use context.Background() so the
	// request context cancellation does not kill graph execution.
	parentCtx := context.Background()

	requestID := r.Header.Get(mrequestid.HeaderXRequestID)
	parentCtx = logi.WithContext(parentCtx, slog.With(
		slog.String("workflow_id", trigger.WorkflowID),
		slog.String("workflow_name", wf.Name),
		slog.String("request_id", requestID),
		slog.String("trigger_id", trigger.ID),
	))

	runID, ctx, cleanup := s.registerRun(parentCtx, trigger.WorkflowID, "webhook")

	if r.URL.Query().Get("sync") == "true" {
		defer cleanup()

		logi.Ctx(ctx).Info("webhook: workflow started", "run_id", runID)
		ec := s.runAndRecord(ctx, trigger.WorkflowID, graphToRun, entryNodeNames, initialData, workflow.ModeWebhook)

		if ec == nil {
			httpResponse(w, "workflow execution failed", http.StatusInternalServerError)
			return
		}

		if resp := ec.WebhookResponse(); resp != nil {
			var payload []byte
			switch body := resp.Body.(type) {
			case string:
				payload = []byte(body)
			case []byte:
				payload = body
			default:
				payload, _ = json.Marshal(body)
			}

			contentType := resp.ContentType
			if contentType == "" {
				contentType = "application/json"
			}
			w.Header().Set("Content-Type", contentType)
			for k, v := range resp.Headers {
				w.Header().Set(k, v)
			}

			status := resp.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			w.Write(payload) //nolint:errcheck
			return
		}

		status := "completed"
		if len(ec.Errors()) > 0 {
			status = "failed"
		}

		resp := runWorkflowResponse{
			RunID:      runID,
			WorkflowID: trigger.WorkflowID,
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
		logi.Ctx(ctx).Info("webhook: workflow started", "run_id", runID)
		ec := s.runAndRecord(ctx, trigger.WorkflowID, graphToRun, entryNodeNames, initialData, workflow.ModeWebhook)
		if ec != nil {
			logi.Ctx(ctx).Info("webhook: workflow completed", "run_id", runID, "errors", len(ec.Errors()))
		}
	}()

	httpResponseJSON(w, runWorkflowResponse{
		RunID:      runID,
		WorkflowID: trigger.WorkflowID,
		Status:     "running",
	}, http.StatusAccepted)
}
