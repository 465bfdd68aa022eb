package models

import (
	"encoding/json"
	"time"
)

// ConversationStatus mirrors the "running"/"completed"/"error" lifecycle of
// one agent's run, as persisted by the Conversation Store.
type ConversationStatus string

const (
	ConversationRunning   ConversationStatus = "running"
	ConversationCompleted ConversationStatus = "completed"
	ConversationError     ConversationStatus = "error"
)

// Conversation is the control plane's persisted record of one agent's run,
// grounded on original_source/backend/src/db/conversations.py's
// _conv_row_to_dict field set.
type Conversation struct {
	ID               string             `json:"id"`
	UniverseID       string             `json:"universe_id"`
	AgentID          string             `json:"agent_id"`
	AgentName        string             `json:"agent_name"`
	AgentRole        string             `json:"agent_role"`
	Model            string             `json:"model"`
	WorkerID         string             `json:"worker_id"`
	TaskPrompt       string             `json:"task_prompt"`
	Status           ConversationStatus `json:"status"`
	ErrorMessage     *string            `json:"error_message,omitempty"`
	TotalTurns       int                `json:"total_turns"`
	TotalIterations  int                `json:"total_iterations"`
	TotalInputTokens int                `json:"total_input_tokens"`
	TotalOutputTokens int               `json:"total_output_tokens"`
	CreatedAt        time.Time          `json:"created_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`

	// WorkerUnknown is set only on read, for conversations still "running"
	// from before the control plane's current process started (Open
	// Question #3, see DESIGN.md) — never persisted.
	WorkerUnknown bool `json:"worker_unknown,omitempty"`
}

// IterationDetailPayload is the shape of the `data` field on an
// iteration_detail event (spec.md §4.9). It is the atomic unit persisted
// as one turn row.
type IterationDetailPayload struct {
	TurnNumber      int             `json:"turn_number"`
	Iteration       int             `json:"iteration"`
	SystemPrompt    string          `json:"system_prompt"`
	MessagesSent    json.RawMessage `json:"messages_sent"`
	ToolsAvailable  json.RawMessage `json:"tools_available"`
	Model           string          `json:"model"`
	MaxTokens       int             `json:"max_tokens"`
	ResponseContent json.RawMessage `json:"response_content"`
	StopReason      string          `json:"stop_reason"`
	Usage           TokenUsage      `json:"usage"`
	ToolCalls       json.RawMessage `json:"tool_calls"`
	StartedAt       time.Time       `json:"started_at"`
	DurationMs      int64           `json:"duration_ms"`
}

// TokenUsage carries input/output token counts reported by the LLM.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
