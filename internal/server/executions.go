package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rakunlabs/at/internal/service"
)

// ─── Execution History API ───

// executionsResponse wraps a list of execution records for JSON output.
type executionsResponse struct {
	Executions []service.Execution `json:"executions"`
}

// ListExecutionsAPI handles GET /api/v1/executions.
// Supports optional ?workflow_id=... and ?limit=... query parameters.
func (s *Server) ListExecutionsAPI(w http.ResponseWriter, r *http.Request) {
	if s.executionStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	workflowID := r.URL.Query().Get("workflow_id")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			httpResponse(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.executionStore.ListExecutions(r.Context(), workflowID, limit)
	if err != nil {
		slog.Error("list executions failed", "workflow_id", workflowID, "error", err)
		httpResponse(w, fmt.Sprintf("failed to list executions: %v", err), http.StatusInternalServerError)
		return
	}

	if records == nil {
		records = []service.Execution{}
	}

	httpResponseJSON(w, executionsResponse{Executions: records}, http.StatusOK)
}

// GetExecutionAPI handles GET /api/v1/executions/:id.
func (s *Server) GetExecutionAPI(w http.ResponseWriter, r *http.Request) {
	if s.executionStore == nil {
		httpResponse(w, "store not configured", http.StatusServiceUnavailable)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		httpResponse(w, "execution id is required", http.StatusBadRequest)
		return
	}

	record, err := s.executionStore.GetExecution(r.Context(), id)
	if err != nil {
		slog.Error("get execution failed", "id", id, "error", err)
		httpResponse(w, fmt.Sprintf("failed to get execution: %v", err), http.StatusInternalServerError)
		return
	}

	if record == nil {
		httpResponse(w, fmt.Sprintf("execution %q not found", id), http.StatusNotFound)
		return
	}

	httpResponseJSON(w, record, http.StatusOK)
}
