// Package nodes registers all built-in workflow node types.
//
// Each file in this package defines a node type and registers it via
// an init() function that calls workflow.RegisterNodeType. Importing
// this package (even as a blank import) triggers all registrations:
//
//	import _ "github.com/rakunlabs/at/internal/service/workflow/nodes"
//
// Registered node types:
//
//   - manual_trigger           — seeds a run with the operator-supplied payload
//   - webhook_trigger          — seeds a run with a decoded HTTP request
//   - cron_trigger             — seeds a run with schedule-fire metadata
//   - execute_workflow_trigger — sub-workflow entry point for ExecuteWorkflow
//   - if                       — two-port (true/false) boolean routing
//   - switch                   — named-port routing by case match or expression
//   - merge                    — joins a dynamic number of upstream branches
//   - filter                   — drops items failing a condition
//   - item_lists               — sort/limit/dedupe/aggregate/summarize/splitOut over a whole list
//   - set                      — assigns or replaces fields on each item
//   - loop                     — exit-condition-bounded iteration (continue/loop/done)
//   - split_in_batches         — fixed-size batching over the input list (loop/done)
//   - wait                     — suspends the branch for a fixed or parsed duration
//   - execute_workflow         — runs another workflow as a sub-workflow
//   - stop_and_error           — halts the run with a custom error message
//   - respond_to_webhook       — sets the run's custom HTTP response
//   - code                     — arbitrary JavaScript execution (Goja)
//   - template                 — Go text/template rendering per item
//   - log                      — structured logging with rendered message
//   - http_request             — HTTP client node (klient, expression templating)
//   - email                    — SMTP send (go-mail, optional HTTP-CONNECT proxy)
//   - output                   — terminal passthrough marker
package nodes
