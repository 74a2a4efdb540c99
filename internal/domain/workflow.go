package domain

import "encoding/json"

// WebhookRequest is the JSON body sent to a module's webhook.
type WebhookRequest struct {
	SessionID string          `json:"session_id,omitempty"`
	Input     WebhookInput    `json:"input"`
	Metadata  WebhookMetadata `json:"metadata"`
	Auth      AuthEnvelope    `json:"auth"`
}

// WebhookInput is the input block of a webhook request.
type WebhookInput struct {
	Message    string         `json:"message"`
	Context    map[string]any `json:"context"`
	ModuleSlug string         `json:"module_slug"`
	ModuleName string         `json:"module_name"`
	ModuleID   string         `json:"module_id"`
	Timestamp  string         `json:"timestamp"`
}

// WebhookMetadata echoes module identity and carries the correlation id.
type WebhookMetadata struct {
	ModuleID      string      `json:"module_id"`
	ModuleSlug    string      `json:"module_slug"`
	ModuleName    string      `json:"module_name"`
	CorrelationID string      `json:"correlation_id"`
	TriggerType   TriggerType `json:"trigger_type"`
	TaskID        string      `json:"task_id,omitempty"`
	Source        string      `json:"source,omitempty"`
}

// AuthEnvelope carries the calling user's context to the workflow engine.
type AuthEnvelope struct {
	UserID           string     `json:"user_id"`
	Email            string     `json:"email"`
	Plan             string     `json:"plan"`
	CreditBalance    float64    `json:"credit_balance"`
	Status           string     `json:"status"`
	FullName         string     `json:"full_name"`
	Role             string     `json:"role"`
	IsPremium        bool       `json:"is_premium"`
	AccountCreated   string     `json:"account_created"`
	SessionTimestamp string     `json:"session_timestamp"`
	ModuleInfo       ModuleInfo `json:"module_info"`
}

// ModuleInfo identifies the module inside the auth envelope.
type ModuleInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// WorkflowOutcome is the classified success of a workflow call.
type WorkflowOutcome struct {
	ModuleType    OutcomeVariant  `json:"module_type"`
	ModuleSlug    string          `json:"module_slug"`
	TriggerType   TriggerType     `json:"trigger_type"`
	SessionID     string          `json:"session_id,omitempty"`
	Data          json.RawMessage `json:"data"`
	OutputMessage *string         `json:"output_message"`
}
