package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// httpRequestNode makes an HTTP request per input item. The url, method,
// header values, and body are each resolved as {{ }} expressions against
// that item before the request is sent.
//
// Config (def.Parameters):
//
//	"url":                  string — request URL expression (required)
//	"method":                string — HTTP method expression (default "GET")
//	"headers":              map[string]any — header name -> value expression
//	"body":                 string — request body expression (optional; falls
//	                                 back to the item's json for POST/PUT/PATCH)
//	"timeout":              float64 — timeout in seconds (default 30)
//	"proxy":                string — HTTP proxy URL (optional)
//	"insecure_skip_verify": bool   — skip TLS verification (default false)
//	"retry":                bool   — enable klient's automatic retry (default false)
//
// Output ports:
//
//	"success" — 2xx responses
//	"error"   — non-2xx responses, or a transport/build failure
type httpRequestNode struct{}

func init() {
	workflow.RegisterNodeType("http_request", func() workflow.Noder { return &httpRequestNode{} })
}

func (n *httpRequestNode) Type() string    { return "http_request" }
func (n *httpRequestNode) InputCount() int { return 1 }

func (n *httpRequestNode) Validate(_ context.Context, _ *workflow.Registry, def workflow.NodeDefinition) error {
	if url, _ := def.Parameters["url"].(string); url == "" {
		return fmt.Errorf("http_request: 'url' is required")
	}
	return nil
}

func (n *httpRequestNode) Execute(ctx context.Context, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item) (*workflow.NodeExecutionResult, error) {
	timeout := 30.0
	if v, ok := def.Parameters["timeout"].(float64); ok && v > 0 {
		timeout = v
	}
	proxy, _ := def.Parameters["proxy"].(string)
	insecure, _ := def.Parameters["insecure_skip_verify"].(bool)
	retry, _ := def.Parameters["retry"].(bool)

	client, err := buildHTTPClient(proxy, insecure, retry)
	if err != nil {
		return nil, fmt.Errorf("http_request: build client: %w", err)
	}

	var success, errored []workflow.Item

	for idx, item := range inputs {
		out, ok, err := n.doOne(ctx, client, ec, def, inputs, idx, time.Duration(timeout*float64(time.Second)))
		if err != nil {
			errored = append(errored, workflow.Item{JSON: map[string]any{"error": err.Error(), "input": item.JSON}})
			continue
		}
		if ok {
			success = append(success, out)
		} else {
			errored = append(errored, out)
		}
	}

	return &workflow.NodeExecutionResult{Outputs: map[string]workflow.PortOutput{
		"success": workflow.Output(success),
		"error":   workflow.Output(errored),
	}}, nil
}

func (n *httpRequestNode) doOne(ctx context.Context, client *klient.Client, ec *workflow.ExecutionContext, def workflow.NodeDefinition, inputs []workflow.Item, idx int, timeout time.Duration) (workflow.Item, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exprCtx := workflow.NewExpressionContext(ec, inputs, idx)

	urlTmpl, _ := def.Parameters["url"].(string)
	reqURL, _ := workflow.ResolveExpressions(urlTmpl, exprCtx, false).(string)

	methodTmpl, _ := def.Parameters["method"].(string)
	method, _ := workflow.ResolveExpressions(methodTmpl, exprCtx, false).(string)
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}

	var body io.Reader
	if bodyTmpl, _ := def.Parameters["body"].(string); bodyTmpl != "" {
		rendered, _ := workflow.ResolveExpressions(bodyTmpl, exprCtx, false).(string)
		body = strings.NewReader(rendered)
	} else if method == "POST" || method == "PUT" || method == "PATCH" {
		b, err := json.Marshal(inputs[idx].JSON)
		if err != nil {
			return workflow.Item{}, false, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return workflow.Item{}, false, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if headers, ok := def.Parameters["headers"].(map[string]any); ok {
		for key, tmpl := range headers {
			s, _ := tmpl.(string)
			val, _ := workflow.ResolveExpressions(s, exprCtx, false).(string)
			req.Header.Set(key, val)
		}
	}

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return workflow.Item{}, false, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return workflow.Item{}, false, fmt.Errorf("read response: %w", err)
	}

	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	out := workflow.Item{JSON: map[string]any{
		"response":    parsed,
		"status_code": resp.StatusCode,
		"headers":     headers,
	}}

	return out, resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

// buildHTTPClient creates a klient.Client with the request's proxy, TLS,
// and retry settings.
func buildHTTPClient(proxy string, insecureSkipVerify, retry bool) (*klient.Client, error) {
	opts := []klient.OptionClientFn{
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	opts = append(opts, klient.WithDisableRetry(!retry))

	return klient.New(opts...)
}
