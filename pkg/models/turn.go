package models

import (
	"encoding/json"
	"time"
)

// Turn is one LLM call plus any tool calls it triggered, append-only and
// never mutated after insertion. Grounded on
// original_source/backend/src/db/conversations.py's _turn_row_to_dict
// field set.
type Turn struct {
	ID              string          `json:"id"`
	ConversationID  string          `json:"conversation_id"`
	TurnNumber      int             `json:"turn_number"`
	IterationNumber int             `json:"iteration_number"`
	SystemPrompt    string          `json:"system_prompt"`
	MessagesSent    json.RawMessage `json:"messages_sent"`
	ToolsAvailable  json.RawMessage `json:"tools_available"`
	Model           string          `json:"model"`
	MaxTokens       int             `json:"max_tokens"`
	ResponseContent json.RawMessage `json:"response_content"`
	StopReason      string          `json:"stop_reason"`
	InputTokens     int             `json:"input_tokens"`
	OutputTokens    int             `json:"output_tokens"`
	ToolCalls       json.RawMessage `json:"tool_calls"`
	StartedAt       time.Time       `json:"started_at"`
	DurationMs      int64           `json:"duration_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Stop reason values a turn can carry (spec.md §3).
const (
	StopReasonEndTurn   = "end_turn"
	StopReasonToolUse   = "tool_use"
	StopReasonMaxTokens = "max_tokens"
	StopReasonOther     = "other"
)
