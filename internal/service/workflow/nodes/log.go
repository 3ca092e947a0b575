package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/at/internal/render"
	"github.com/rakunlabs/at/internal/service/workflow"
)

// logNode logs the incoming items at a configurable level and passes them
// through unchanged on "main". The message supports Go text/template syntax
// rendered against the items (a single item's json, or {"items": [...]}
// for a batch).
//
// Config (def.Parameters):
//
//	"level":   string — "info" | "warn" | "error" | "debug" (default "info")
//	"message": string — Go template rendered with input data (optional)
type logNode struct{}

var validLevels = map[string]slog.Level{
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
	"debug": slog.LevelDebug,
}

func init() {
	workflow.RegisterNodeType("log", func() workflow.Noder { return &logNode{} })
}

func (n *logNode) Type() string    { return "log" }
func (n *logNode) InputCount() int { return 1 }

func (n *logNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	levelStr, _ := def.Parameters["level"].(string)
	if levelStr == "" {
		return nil
	}
	if _, ok := validLevels[strings.ToLower(levelStr)]; !ok {
		return fmt.Errorf("log: invalid level %q (must be info, warn, error, or debug)", levelStr)
	}
	return nil
}

func (n *logNode) Execute(ctx context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	levelStr, _ := def.Parameters["level"].(string)
	level, ok := validLevels[strings.ToLower(levelStr)]
	if !ok {
		level = slog.LevelInfo
	}
	message, _ := def.Parameters["message"].(string)

	msg := def.Name
	if message != "" {
		rendered, err := render.ExecuteWithFuncs(message, itemsJSON(inputs), varFuncMap(ec))
		if err != nil {
			return nil, fmt.Errorf("log: template error: %w", err)
		}
		msg = string(rendered)
	}

	logi.Ctx(ctx).Log(ctx, level, msg, "node", def.Name, "items", len(inputs))

	return workflow.Main(inputs), nil
}
