package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rakunlabs/at/internal/cluster"
	"github.com/rakunlabs/at/internal/service"
	"github.com/rakunlabs/at/internal/service/workflow"
)

// Scheduler drives cron-type triggers: it keeps one robfig/cron entry per
// enabled cron trigger and re-runs the owning workflow on each tick,
// starting from the trigger's linked cron_trigger node.
type Scheduler struct {
	triggerStore         service.TriggerStorer
	workflowStore        service.WorkflowStorer
	workflowVersionStore service.WorkflowVersionStorer
	runner               *workflow.Runner
	varLookup            workflow.VarLookup
	onEvent              workflow.EventCallback
	cluster              *cluster.Cluster

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID // trigger ID -> cron entry
}

// NewScheduler builds a Scheduler. onEvent and workflowVersionStore may be nil.
func NewScheduler(
	triggerStore service.TriggerStorer,
	workflowStore service.WorkflowStorer,
	workflowVersionStore service.WorkflowVersionStorer,
	runner *workflow.Runner,
	varLookup workflow.VarLookup,
	onEvent workflow.EventCallback,
	cl *cluster.Cluster,
) *Scheduler {
	return &Scheduler{
		triggerStore:         triggerStore,
		workflowStore:        workflowStore,
		workflowVersionStore: workflowVersionStore,
		runner:               runner,
		varLookup:            varLookup,
		onEvent:              onEvent,
		cluster:              cl,
		cron:                 cron.New(),
		entries:              make(map[string]cron.EntryID),
	}
}

// Start loads every currently enabled cron trigger and begins the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Reload re-reads the enabled cron triggers from the store and rebuilds the
// cron entry set from scratch. Called after any trigger create/update/delete
// that could affect cron scheduling.
func (s *Scheduler) Reload(ctx context.Context) error {
	triggers, err := s.triggerStore.ListEnabledCronTriggers(ctx)
	if err != nil {
		return fmt.Errorf("list enabled cron triggers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[string]cron.EntryID)

	for _, t := range triggers {
		schedule, _ := t.Config["schedule"].(string)
		if schedule == "" {
			slog.Warn("cron trigger missing schedule, skipping", "trigger_id", t.ID)
			continue
		}

		trigger := t
		id, err := s.cron.AddFunc(schedule, func() {
			s.runTrigger(trigger)
		})
		if err != nil {
			slog.Error("invalid cron schedule, skipping trigger", "trigger_id", trigger.ID, "schedule", schedule, "error", err)
			continue
		}

		s.entries[trigger.ID] = id
	}

	return nil
}

// runTrigger loads the trigger's workflow and runs it starting from the
// cron_trigger node linked via Config["node_name"].
func (s *Scheduler) runTrigger(t service.Trigger) {
	ctx := context.Background()

	if s.cluster != nil {
		if err := s.cluster.LockScheduler(ctx); err != nil {
			slog.Warn("skipping cron tick: could not acquire scheduler lock (another instance likely owns it)",
				"trigger_id", t.ID, "error", err)
			return
		}
		defer func() {
			if err := s.cluster.UnlockScheduler(); err != nil {
				slog.Error("failed to release scheduler lock", "error", err)
			}
		}()
	}

	wf, err := s.workflowStore.GetWorkflow(ctx, t.WorkflowID)
	if err != nil {
		slog.Error("cron trigger: failed to load workflow", "trigger_id", t.ID, "workflow_id", t.WorkflowID, "error", err)
		return
	}

	nodeName, _ := t.Config["node_name"].(string)
	if nodeName == "" {
		slog.Warn("cron trigger: no linked node, skipping", "trigger_id", t.ID)
		return
	}

	payload, _ := t.Config["payload"].(map[string]any)

	seed := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		seed[k] = v
	}
	seed["triggered_at"] = time.Now().UTC().Format(time.RFC3339)
	seed["mode"] = string(workflow.ModeCron)
	seed["schedule"] = t.Config["schedule"]
	seed["trigger_id"] = t.ID

	graph := wf.Graph
	if wf.ActiveVersion != nil && s.workflowVersionStore != nil {
		if ver, err := s.workflowVersionStore.GetWorkflowVersion(ctx, wf.ID, *wf.ActiveVersion); err == nil {
			graph = ver.Graph
		} else {
			slog.Warn("cron trigger: failed to load active version, using latest graph",
				"trigger_id", t.ID, "version", *wf.ActiveVersion, "error", err)
		}
	}

	graphWf := graphToWorkflow(wf.ID, graph)

	ec, err := s.runner.Run(ctx, graphWf, []string{nodeName}, []workflow.Item{{JSON: seed}}, workflow.RunOptions{
		Mode:      workflow.ModeCron,
		OnEvent:   s.onEvent,
		VarLookup: s.varLookup,
		WorkflowRepo: workflowRepoFunc(func(id string) (*workflow.Workflow, error) {
			w, err := s.workflowStore.GetWorkflow(ctx, id)
			if err != nil {
				return nil, err
			}
			return graphToWorkflow(w.ID, w.Graph), nil
		}),
	})
	if err != nil {
		slog.Error("cron trigger run failed", "trigger_id", t.ID, "workflow_id", t.WorkflowID, "error", err)
		return
	}

	if len(ec.Errors()) > 0 {
		slog.Warn("cron trigger run completed with errors", "trigger_id", t.ID, "workflow_id", t.WorkflowID, "errors", ec.Errors())
	}
}

// workflowRepoFunc adapts a plain function to workflow.WorkflowRepository,
// used so sub-workflow lookups (execute_workflow nodes) go back through the
// store rather than needing a second concrete repository type.
type workflowRepoFunc func(id string) (*workflow.Workflow, error)

func (f workflowRepoFunc) GetWorkflow(id string) (*workflow.Workflow, error) {
	return f(id)
}
