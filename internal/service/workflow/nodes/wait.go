package nodes

import (
	"context"
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// waitNode pauses its branch for a configured duration before passing data
// through unchanged on "main". The duration accepts either a Go-style
// duration string ("90s", "5m") or a plain number of seconds.
//
// Config (def.Parameters):
//
//	"duration": string|float64 — how long to pause (required)
type waitNode struct{}

func init() {
	workflow.RegisterNodeType("wait", func() workflow.Noder { return &waitNode{} })
}

func (n *waitNode) Type() string    { return "wait" }
func (n *waitNode) InputCount() int { return 1 }

func (n *waitNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	if _, err := waitDuration(def.Parameters["duration"]); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return nil
}

func (n *waitNode) Execute(ctx context.Context, _ *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	d, err := waitDuration(def.Parameters["duration"])
	if err != nil {
		return nil, fmt.Errorf("wait: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
	}

	return workflow.Main(inputs), nil
}

func waitDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid 'duration' %q: %w", v, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("'duration' is required")
	}
}
