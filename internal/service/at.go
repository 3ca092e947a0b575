package service

import (
	"context"

	"github.com/worldline-go/types"

	"github.com/rakunlabs/at/internal/service/workflow"
)

// ─── API Token Management ───

// APIToken represents a bearer token stored in the database for webhook auth.
type APIToken struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	TokenPrefix     string                 `json:"token_prefix"`     // first 8 chars for display (e.g. "at_xxxx…")
	AllowedWebhooks types.Slice[string]    `json:"allowed_webhooks"` // nil = all webhooks allowed (trigger IDs or aliases)
	ExpiresAt       types.Null[types.Time] `json:"expires_at"`       // zero value = no expiry
	CreatedAt       types.Time             `json:"created_at"`
	LastUsedAt      types.Null[types.Time] `json:"last_used_at"`
	CreatedBy       string                 `json:"created_by"`
	UpdatedBy       string                 `json:"updated_by"`
}

// APITokenStorer defines CRUD operations for API tokens.
type APITokenStorer interface {
	ListAPITokens(ctx context.Context) ([]APIToken, error)
	GetAPITokenByHash(ctx context.Context, hash string) (*APIToken, error)
	CreateAPIToken(ctx context.Context, token APIToken, tokenHash string) (*APIToken, error)
	UpdateAPIToken(ctx context.Context, id string, token APIToken) (*APIToken, error)
	DeleteAPIToken(ctx context.Context, id string) error
	UpdateLastUsed(ctx context.Context, id string) error
}

// ─── Workflow Management ───

// WorkflowGraph is the full graph definition stored as JSON: the node
// set and the connections between them, in exactly the shape the
// workflow engine's Runner consumes — there is no separate
// visual-editor-oriented translation layer between what's stored and
// what's run.
type WorkflowGraph struct {
	Nodes       []workflow.NodeDefinition `json:"nodes"`
	Connections []workflow.Connection     `json:"connections"`
	Settings    map[string]any            `json:"settings,omitempty"`
}

// Workflow represents a saved workflow definition.
type Workflow struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Graph         WorkflowGraph `json:"graph"`
	ActiveVersion *int          `json:"active_version,omitempty"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
	CreatedBy     string        `json:"created_by"`
	UpdatedBy     string        `json:"updated_by"`
}

// WorkflowVersion represents an immutable snapshot of a workflow at a point in time.
type WorkflowVersion struct {
	ID          string        `json:"id"`
	WorkflowID  string        `json:"workflow_id"`
	Version     int           `json:"version"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Graph       WorkflowGraph `json:"graph"`
	CreatedAt   string        `json:"created_at"`
	CreatedBy   string        `json:"created_by"`
}

// WorkflowStorer defines CRUD operations for workflow definitions.
type WorkflowStorer interface {
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	CreateWorkflow(ctx context.Context, w Workflow) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, w Workflow) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// WorkflowVersionStorer defines operations for workflow version history.
type WorkflowVersionStorer interface {
	ListWorkflowVersions(ctx context.Context, workflowID string) ([]WorkflowVersion, error)
	GetWorkflowVersion(ctx context.Context, workflowID string, version int) (*WorkflowVersion, error)
	CreateWorkflowVersion(ctx context.Context, v WorkflowVersion) (*WorkflowVersion, error)
	SetActiveVersion(ctx context.Context, workflowID string, version int) error
}

// ─── Trigger Management ───

// Trigger represents a workflow trigger (HTTP webhook or cron schedule).
// Multiple triggers can reference the same workflow.
type Trigger struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"type"`            // "http" or "cron"
	Config     map[string]any `json:"config"`          // type-specific configuration
	Alias      string         `json:"alias,omitempty"` // optional human-friendly alias (unique)
	Public     bool           `json:"public"`          // if true, no auth required; if false, Bearer token required
	Enabled    bool           `json:"enabled"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
	CreatedBy  string         `json:"created_by"`
	UpdatedBy  string         `json:"updated_by"`
}

// TriggerStorer defines CRUD operations for workflow triggers.
type TriggerStorer interface {
	ListTriggers(ctx context.Context, workflowID string) ([]Trigger, error)
	GetTrigger(ctx context.Context, id string) (*Trigger, error)
	GetTriggerByAlias(ctx context.Context, alias string) (*Trigger, error)
	CreateTrigger(ctx context.Context, t Trigger) (*Trigger, error)
	UpdateTrigger(ctx context.Context, id string, t Trigger) (*Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	ListEnabledCronTriggers(ctx context.Context) ([]Trigger, error)
}

// ─── Variable Management ───

// Variable represents a key-value variable stored in the database.
// Variables can be secret (encrypted at rest, redacted in list responses)
// or non-secret (stored as plaintext, shown in list responses).
// Accessed from Code nodes and Template/Log templates via getVar();
// {{ }} expressions do not expose getVar().
type Variable struct {
	ID          string `json:"id"`
	Key         string `json:"key"`         // unique key for lookup (e.g. "jira_token", "base_url")
	Value       string `json:"value"`       // plaintext value; encrypted at rest when Secret=true; redacted in API list responses for secrets
	Description string `json:"description"` // human-readable description
	Secret      bool   `json:"secret"`      // true = encrypted at rest, value redacted in list API
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	CreatedBy   string `json:"created_by"`
	UpdatedBy   string `json:"updated_by"`
}

// VariableStorer defines CRUD operations for variables.
type VariableStorer interface {
	ListVariables(ctx context.Context) ([]Variable, error)
	GetVariable(ctx context.Context, id string) (*Variable, error)
	GetVariableByKey(ctx context.Context, key string) (*Variable, error)
	CreateVariable(ctx context.Context, v Variable) (*Variable, error)
	UpdateVariable(ctx context.Context, id string, v Variable) (*Variable, error)
	DeleteVariable(ctx context.Context, id string) error
}

// ─── Node Configs ───

// NodeConfig represents a reusable configuration for workflow nodes (e.g. SMTP server settings for email nodes).
// The Data field is a JSON blob whose schema depends on the Type (e.g. type "email" stores host, port, username, password, from, tls).
// Sensitive fields within Data (like password) are encrypted at rest.
type NodeConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"` // unique human-readable name (e.g. "Production SMTP")
	Type      string `json:"type"` // config type discriminator (e.g. "email", "slack", "sms")
	Data      string `json:"data"` // JSON blob with type-specific configuration
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	CreatedBy string `json:"created_by"`
	UpdatedBy string `json:"updated_by"`
}

// NodeConfigStorer defines CRUD operations for node configs.
type NodeConfigStorer interface {
	ListNodeConfigs(ctx context.Context) ([]NodeConfig, error)
	ListNodeConfigsByType(ctx context.Context, configType string) ([]NodeConfig, error)
	GetNodeConfig(ctx context.Context, id string) (*NodeConfig, error)
	CreateNodeConfig(ctx context.Context, nc NodeConfig) (*NodeConfig, error)
	UpdateNodeConfig(ctx context.Context, id string, nc NodeConfig) (*NodeConfig, error)
	DeleteNodeConfig(ctx context.Context, id string) error
}

// ─── Execution History ───

// Execution is a persisted record of one workflow run, written after the
// run completes (or fails) so runs.go's in-memory active-run tracking has
// somewhere durable to hand off to once a run is no longer active.
type Execution struct {
	ID          string `json:"id"`
	WorkflowID  string `json:"workflow_id"`
	Mode        string `json:"mode"` // "manual", "webhook", "cron"
	Status      string `json:"status"` // "completed", "failed"
	Errors      string `json:"errors,omitempty"` // JSON-encoded []workflow.ExecutionError
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at"`
}

// ExecutionStorer defines CRUD operations for execution history.
type ExecutionStorer interface {
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]Execution, error)
	GetExecution(ctx context.Context, id string) (*Execution, error)
	CreateExecution(ctx context.Context, e Execution) (*Execution, error)
}

// KeyRotator is optionally implemented by stores that support encryption
// key rotation for at-rest secret fields (variable values, node config
// secrets). The method decrypts every row with the current key, re-encrypts
// with newKey, and updates them atomically within a transaction. Passing nil
// as newKey disables encryption (values are stored as plaintext).
type KeyRotator interface {
	RotateEncryptionKey(ctx context.Context, newKey []byte) error
}

// EncryptionKeyUpdater is optionally implemented by stores that support
// updating the in-memory encryption key without re-encrypting database rows.
// Used by peer instances in a cluster when they receive a key rotation
// broadcast from the instance that performed the actual DB rotation.
type EncryptionKeyUpdater interface {
	SetEncryptionKey(newKey []byte)
}
