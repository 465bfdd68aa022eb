// Package conversations implements the Conversation Store (spec.md §4.6):
// it persists one Conversation row per agent run and one Turn row per
// iteration_detail event, and serves the read endpoints the dashboard
// uses to inspect a run after the fact.
//
// Grounded on original_source/backend/src/db/conversations.py: the insert,
// lookup-by-universe-and-agent, aggregate update, and completion-guard SQL
// are kept verbatim in shape, translated from asyncpg/$-placeholders to
// database/sql with pgx's placeholder style.
package conversations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/sawuapara/jarvis/pkg/database"
	"github.com/sawuapara/jarvis/pkg/models"
)

// ErrNotFound is returned when a conversation or turn lookup matches no row.
var ErrNotFound = errors.New("conversations: not found")

// Store persists and retrieves conversations and turns.
type Store struct {
	db *database.Client
}

// New builds a Store backed by the control plane's Postgres connection.
func New(db *database.Client) *Store {
	return &Store{db: db}
}

// CreateConversation inserts a new conversation row on agent_started.
// Mirrors create_conversation: failures are logged and swallowed so a
// persistence hiccup never interrupts the event fan-out.
func (s *Store) CreateConversation(ctx context.Context, evt models.Event) {
	agentName, _ := evt.Data["agent_name"].(string)
	if agentName == "" {
		agentName = evt.AgentName
	}
	agentRole, _ := evt.Data["role"].(string)
	model, _ := evt.Data["model"].(string)

	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO orchestration.conversations
			(universe_id, agent_id, agent_name, agent_role, model, worker_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.UniverseID, evt.AgentID, agentName, agentRole, model, evt.WorkerID)
	if err != nil {
		slog.Error("conversations: failed to create conversation", "universe_id", evt.UniverseID, "agent_id", evt.AgentID, "error", err)
	}
}

// InsertTurn looks up the most recent conversation for universe+agent,
// inserts a turn row, and bumps the conversation's aggregates. Mirrors
// insert_turn, including its warn-and-drop behavior when no conversation
// row exists yet (an out-of-order iteration_detail frame).
func (s *Store) InsertTurn(ctx context.Context, evt models.Event) {
	payload, err := decodePayload(evt.Data)
	if err != nil {
		slog.Error("conversations: malformed iteration_detail payload", "universe_id", evt.UniverseID, "agent_id", evt.AgentID, "error", err)
		return
	}

	var convID string
	err = s.db.DB().QueryRowContext(ctx, `
		SELECT id FROM orchestration.conversations
		WHERE universe_id = $1 AND agent_id = $2
		ORDER BY created_at DESC LIMIT 1
	`, evt.UniverseID, evt.AgentID).Scan(&convID)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("conversations: no conversation found for turn", "universe_id", evt.UniverseID, "agent_id", evt.AgentID)
		return
	}
	if err != nil {
		slog.Error("conversations: failed to look up conversation", "error", err)
		return
	}

	maxTokens := payload.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	startedAt := payload.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	_, err = s.db.DB().ExecContext(ctx, `
		INSERT INTO orchestration.turns
			(conversation_id, turn_number, iteration_number,
			 system_prompt, messages_sent, tools_available,
			 model, max_tokens, response_content, stop_reason,
			 input_tokens, output_tokens, tool_calls,
			 started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13,
		        $14, $15)
	`,
		convID, payload.TurnNumber, payload.Iteration,
		payload.SystemPrompt, nullableJSON(payload.MessagesSent), nullableJSON(payload.ToolsAvailable),
		payload.Model, maxTokens, nullableJSON(payload.ResponseContent), payload.StopReason,
		payload.Usage.InputTokens, payload.Usage.OutputTokens, nullableJSON(payload.ToolCalls),
		startedAt, payload.DurationMs,
	)
	if err != nil {
		slog.Error("conversations: failed to insert turn", "conversation_id", convID, "error", err)
		return
	}

	_, err = s.db.DB().ExecContext(ctx, `
		UPDATE orchestration.conversations
		SET total_iterations = total_iterations + 1,
		    total_turns = GREATEST(total_turns, $2),
		    total_input_tokens = total_input_tokens + $3,
		    total_output_tokens = total_output_tokens + $4,
		    updated_at = NOW()
		WHERE id = $1
	`, convID, payload.TurnNumber, payload.Usage.InputTokens, payload.Usage.OutputTokens)
	if err != nil {
		slog.Error("conversations: failed to update conversation aggregates", "conversation_id", convID, "error", err)
	}
}

// CompleteConversation marks the running conversation for universe+agent as
// completed or errored. Mirrors complete_conversation's "WHERE status =
// 'running'" guard, which prevents a duplicate agent_done/agent_error frame
// from stomping an already-closed row.
func (s *Store) CompleteConversation(ctx context.Context, evt models.Event) {
	status := models.ConversationCompleted
	var errMsg *string
	if evt.Type == models.EventAgentError {
		status = models.ConversationError
		if msg, ok := evt.Data["error"].(string); ok {
			errMsg = &msg
		}
	}

	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE orchestration.conversations
		SET status = $3, error_message = $4, completed_at = NOW(), updated_at = NOW()
		WHERE universe_id = $1 AND agent_id = $2 AND status = 'running'
	`, evt.UniverseID, evt.AgentID, status, errMsg)
	if err != nil {
		slog.Error("conversations: failed to complete conversation", "universe_id", evt.UniverseID, "agent_id", evt.AgentID, "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("conversations: no running conversation to complete", "universe_id", evt.UniverseID, "agent_id", evt.AgentID)
	}
}

// PersistEvent is the fanout.PersistFunc wiring: it dispatches each
// persistable event type to the right store method (spec.md §4.6).
func (s *Store) PersistEvent(ctx context.Context, evt models.Event) {
	switch evt.Type {
	case models.EventAgentStarted:
		s.CreateConversation(ctx, evt)
	case models.EventIterationDetail:
		s.InsertTurn(ctx, evt)
	case models.EventAgentDone, models.EventAgentError:
		s.CompleteConversation(ctx, evt)
	}
}

// ByUniverse lists all conversations for a universe, most recent first.
// cacheStartedAt annotates any still-"running" conversation older than the
// control plane's current process start as worker_unknown (Open Question
// #3): its owning worker connection, if any, predates this cache and its
// true liveness cannot be inferred from in-memory state alone.
func (s *Store) ByUniverse(ctx context.Context, universeID string, cacheStartedAt time.Time) ([]models.Conversation, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, universe_id, agent_id, agent_name, agent_role, model, worker_id,
		       task_prompt, status, error_message, total_turns, total_iterations,
		       total_input_tokens, total_output_tokens, created_at, completed_at, updated_at
		FROM orchestration.conversations
		WHERE universe_id = $1
		ORDER BY created_at DESC
	`, universeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		if c.Status == models.ConversationRunning && c.CreatedAt.Before(cacheStartedAt) {
			c.WorkerUnknown = true
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TurnsByConversation lists all turns for a conversation in execution order.
func (s *Store) TurnsByConversation(ctx context.Context, conversationID string) ([]models.Turn, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, conversation_id, turn_number, iteration_number, system_prompt,
		       messages_sent, tools_available, model, max_tokens, response_content,
		       stop_reason, input_tokens, output_tokens, tool_calls, started_at,
		       duration_ms, created_at
		FROM orchestration.turns
		WHERE conversation_id = $1
		ORDER BY turn_number, iteration_number
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TurnDetail fetches a single turn by conversation and turn ID.
func (s *Store) TurnDetail(ctx context.Context, conversationID, turnID string) (models.Turn, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		SELECT id, conversation_id, turn_number, iteration_number, system_prompt,
		       messages_sent, tools_available, model, max_tokens, response_content,
		       stop_reason, input_tokens, output_tokens, tool_calls, started_at,
		       duration_ms, created_at
		FROM orchestration.turns
		WHERE conversation_id = $1 AND id = $2
	`, conversationID, turnID)

	t, err := scanTurn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Turn{}, ErrNotFound
	}
	return t, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID, &c.UniverseID, &c.AgentID, &c.AgentName, &c.AgentRole, &c.Model, &c.WorkerID,
		&c.TaskPrompt, &c.Status, &c.ErrorMessage, &c.TotalTurns, &c.TotalIterations,
		&c.TotalInputTokens, &c.TotalOutputTokens, &c.CreatedAt, &c.CompletedAt, &c.UpdatedAt,
	)
	return c, err
}

func scanTurn(row scanner) (models.Turn, error) {
	var t models.Turn
	var messagesSent, toolsAvailable, responseContent, toolCalls []byte
	err := row.Scan(
		&t.ID, &t.ConversationID, &t.TurnNumber, &t.IterationNumber, &t.SystemPrompt,
		&messagesSent, &toolsAvailable, &t.Model, &t.MaxTokens, &responseContent,
		&t.StopReason, &t.InputTokens, &t.OutputTokens, &toolCalls, &t.StartedAt,
		&t.DurationMs, &t.CreatedAt,
	)
	t.MessagesSent = messagesSent
	t.ToolsAvailable = toolsAvailable
	t.ResponseContent = responseContent
	t.ToolCalls = toolCalls
	return t, err
}

// decodePayload re-marshals the event's loosely-typed Data map into the
// strongly-typed iteration_detail payload, so downstream code never deals
// with map[string]any.
func decodePayload(data map[string]any) (models.IterationDetailPayload, error) {
	var payload models.IterationDetailPayload
	raw, err := json.Marshal(data)
	if err != nil {
		return payload, err
	}
	err = json.Unmarshal(raw, &payload)
	return payload, err
}

// nullableJSON turns an empty json.RawMessage into SQL NULL so inserts
// don't store the literal string "null" into a jsonb column.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
