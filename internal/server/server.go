package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rakunlabs/ada"
	"github.com/rakunlabs/at/internal/cluster"
	"github.com/rakunlabs/at/internal/config"
	"github.com/rakunlabs/at/internal/service"
	"github.com/rakunlabs/at/internal/service/workflow"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"
)

// Server wires the persisted workflow/trigger/variable/node-config/token
// stores onto the workflow engine's Registry and Runner, and exposes them
// over an HTTP API built with ada.
type Server struct {
	config config.Server

	server *ada.Server

	tokenStore           service.APITokenStorer
	workflowStore        service.WorkflowStorer
	workflowVersionStore service.WorkflowVersionStorer
	triggerStore         service.TriggerStorer
	variableStore        service.VariableStorer
	nodeConfigStore      service.NodeConfigStorer
	executionStore       service.ExecutionStorer

	registry *workflow.Registry
	runner   *workflow.Runner

	// scheduler drives cron trigger nodes; nil when triggerStore is nil.
	scheduler *Scheduler

	// cluster is the optional distributed coordination layer (alan).
	// nil when clustering is not configured (single-instance mode).
	cluster *cluster.Cluster

	// tokenLastUsed tracks when each token's last_used_at was last written to
	// the DB, so we can throttle updates to at most once per 5 minutes.
	tokenLastUsed sync.Map // map[string]time.Time

	// m/channels back the SSE event stream: broadcastMessage fans every
	// workflow.Event out to every connected /api/v1/events client.
	m        sync.RWMutex
	channels map[string]chan MessageChannel

	// activeRuns tracks in-flight workflow executions so they can be
	// listed and cancelled via the runs API.
	activeRuns sync.Map // map[string]*activeRun
}

// New wires the persistence layer onto the workflow engine and builds the
// HTTP route table. tokenStore/workflowStore/... may individually be nil,
// in which case the corresponding endpoints respond 503.
func New(
	ctx context.Context,
	cfg config.Server,
	tokenStore service.APITokenStorer,
	workflowStore service.WorkflowStorer,
	workflowVersionStore service.WorkflowVersionStorer,
	triggerStore service.TriggerStorer,
	variableStore service.VariableStorer,
	nodeConfigStore service.NodeConfigStorer,
	executionStore service.ExecutionStorer,
	registry *workflow.Registry,
	cl *cluster.Cluster,
) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	s := &Server{
		config:               cfg,
		server:               mux,
		tokenStore:           tokenStore,
		workflowStore:        workflowStore,
		workflowVersionStore: workflowVersionStore,
		triggerStore:         triggerStore,
		variableStore:        variableStore,
		nodeConfigStore:      nodeConfigStore,
		executionStore:       executionStore,
		registry:             registry,
		runner:               workflow.NewRunner(registry),
		cluster:              cl,
		channels:             make(map[string]chan MessageChannel),
	}

	// Start the cron trigger scheduler if a trigger store is available.
	if triggerStore != nil && workflowStore != nil {
		s.scheduler = NewScheduler(triggerStore, workflowStore, workflowVersionStore, s.runner, s.varLookup, s.broadcastEvent, cl)
		if err := s.scheduler.Start(ctx); err != nil {
			slog.Error("failed to start cron scheduler", "error", err)
			// Non-fatal: the server can run without cron triggers.
		}
	}

	// ////////////////////////////////////////////

	if cfg.BasePath != "" {
		slog.Info("configuring server with base path", "base_path", cfg.BasePath)
	}

	baseGroup := mux.Group(cfg.BasePath)

	// ////////////////////////////////////////////
	if cfg.ForwardAuth != nil {
		slog.Info("forward auth enabled", "url", cfg.ForwardAuth.Address)
		baseGroup.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.ForwardAuth)))
	} else {
		slog.Info("forward auth disabled (no forward_auth config)")
	}

	apiGroup := baseGroup.Group("/api")

	apiGroup.GET("/v1/info", s.InfoAPI)

	// API Token management
	apiGroup.GET("/v1/api-tokens", s.ListAPITokensAPI)
	apiGroup.POST("/v1/api-tokens", s.CreateAPITokenAPI)
	apiGroup.PUT("/v1/api-tokens/*", s.UpdateAPITokenAPI)
	apiGroup.DELETE("/v1/api-tokens/*", s.DeleteAPITokenAPI)

	// Workflow management
	apiGroup.GET("/v1/workflows", s.ListWorkflowsAPI)
	apiGroup.POST("/v1/workflows", s.CreateWorkflowAPI)
	apiGroup.POST("/v1/workflows/run/*", s.RunWorkflowAPI)
	apiGroup.GET("/v1/workflows/*/versions", s.ListWorkflowVersionsAPI)
	apiGroup.GET("/v1/workflows/*/versions/*", s.GetWorkflowVersionAPI)
	apiGroup.PUT("/v1/workflows/*/active-version", s.SetActiveVersionAPI)
	apiGroup.GET("/v1/workflows/*", s.GetWorkflowAPI)
	apiGroup.PUT("/v1/workflows/*", s.UpdateWorkflowAPI)
	apiGroup.DELETE("/v1/workflows/*", s.DeleteWorkflowAPI)

	// Trigger management (nested under workflows for list/create)
	apiGroup.GET("/v1/workflows/*/triggers", s.ListTriggersAPI)
	apiGroup.POST("/v1/workflows/*/triggers", s.CreateTriggerAPI)
	apiGroup.GET("/v1/triggers/*", s.GetTriggerAPI)
	apiGroup.PUT("/v1/triggers/*", s.UpdateTriggerAPI)
	apiGroup.DELETE("/v1/triggers/*", s.DeleteTriggerAPI)

	// Variable management
	apiGroup.GET("/v1/variables", s.ListVariablesAPI)
	apiGroup.POST("/v1/variables", s.CreateVariableAPI)
	apiGroup.GET("/v1/variables/*", s.GetVariableAPI)
	apiGroup.PUT("/v1/variables/*", s.UpdateVariableAPI)
	apiGroup.DELETE("/v1/variables/*", s.DeleteVariableAPI)

	// Node config management
	apiGroup.GET("/v1/node-configs", s.ListNodeConfigsAPI)
	apiGroup.POST("/v1/node-configs", s.CreateNodeConfigAPI)
	apiGroup.GET("/v1/node-configs/*", s.GetNodeConfigAPI)
	apiGroup.PUT("/v1/node-configs/*", s.UpdateNodeConfigAPI)
	apiGroup.DELETE("/v1/node-configs/*", s.DeleteNodeConfigAPI)

	// Execution history
	apiGroup.GET("/v1/executions", s.ListExecutionsAPI)
	apiGroup.GET("/v1/executions/*", s.GetExecutionAPI)

	// Active run tracking
	apiGroup.GET("/v1/runs", s.ListActiveRunsAPI)
	apiGroup.POST("/v1/runs/*/cancel", s.CancelRunAPI)

	// Live execution event stream (SSE)
	apiGroup.GET("/v1/events", s.EventsAPI)

	// Webhook endpoint (public, no auth middleware needed for external callers)
	apiGroup.POST("/v1/webhooks/*", s.WebhookAPI)

	// Settings API (protected by admin token)
	settingsGroup := apiGroup.Group("/v1/settings")
	settingsGroup.Use(s.adminAuthMiddleware())
	settingsGroup.POST("/rotate-key", s.RotateKeyAPI)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.config.Host, s.config.Port))
}

// getUserEmail extracts the authenticated user's email from the header the
// forward-auth middleware populates. Returns "" when forward auth is not
// configured or the header is absent (e.g. direct/internal calls).
func (s *Server) getUserEmail(r *http.Request) string {
	header := s.config.UserHeader
	if header == "" {
		header = "X-User"
	}
	return r.Header.Get(header)
}

// adminAuthMiddleware returns middleware that protects admin endpoints.
// If no admin_token is configured, all admin requests are rejected with 403.
// If configured, requests must provide a matching Authorization: Bearer <token> header.
func (s *Server) adminAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.config.AdminToken == "" {
				httpResponse(w, "admin token not configured", http.StatusForbidden)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(auth, "Bearer ")
			if token == auth || token != s.config.AdminToken {
				httpResponse(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// InfoAPI handles GET /api/v1/info.
func (s *Server) InfoAPI(w http.ResponseWriter, r *http.Request) {
	httpResponseJSON(w, map[string]any{
		"service":       config.Service,
		"node_types":    workflow.RegisteredNodeTypes(),
		"clustered":     s.cluster != nil,
		"has_scheduler": s.scheduler != nil,
	}, http.StatusOK)
}
