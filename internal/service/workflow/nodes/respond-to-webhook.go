package nodes

import (
	"context"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// respondToWebhookNode sets a custom HTTP response for the run's triggering
// webhook, then ends the run as a successful warning stop — only meaningful
// in webhook mode; the dispatcher reads the response back off the context
// once the run (or its early-response channel) settles.
//
// Config (def.Parameters):
//
//	"statusCode":  float64 — HTTP status (default 200)
//	"body":        any     — response body (default: the first input item's json)
//	"contentType": string  — response Content-Type (default "application/json")
//	"headers":     map[string]any — extra response headers
type respondToWebhookNode struct{}

func init() {
	workflow.RegisterNodeType("respond_to_webhook", func() workflow.Noder { return &respondToWebhookNode{} })
}

func (n *respondToWebhookNode) Type() string    { return "respond_to_webhook" }
func (n *respondToWebhookNode) InputCount() int { return 1 }

func (n *respondToWebhookNode) Validate(_ context.Context, _ *workflow.Registry, _ workflow.NodeDefinition) error {
	return nil
}

func (n *respondToWebhookNode) Execute(_ context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	statusCode := 200
	if v, ok := def.Parameters["statusCode"].(float64); ok && v > 0 {
		statusCode = int(v)
	}
	contentType, _ := def.Parameters["contentType"].(string)
	if contentType == "" {
		contentType = "application/json"
	}

	body := def.Parameters["body"]
	if body == nil && len(inputs) > 0 {
		body = inputs[0].JSON
	}

	headers := map[string]string{}
	if h, ok := def.Parameters["headers"].(map[string]any); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	ec.SetWebhookResponse(&workflow.WebhookResponse{
		StatusCode:  statusCode,
		Body:        body,
		Headers:     headers,
		ContentType: contentType,
	})

	return nil, &workflow.WorkflowStopError{Message: "responded to webhook", Warning: true}
}
