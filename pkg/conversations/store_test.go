package conversations_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sawuapara/jarvis/pkg/conversations"
	"github.com/sawuapara/jarvis/pkg/database/testdb"
	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestConversationLifecycle(t *testing.T) {
	db := testdb.NewTestClient(t)
	store := conversations.New(db)
	ctx := context.Background()

	universeID := "u-" + t.Name()
	agentID := "a-1"

	store.PersistEvent(ctx, models.Event{
		Type:       models.EventAgentStarted,
		UniverseID: universeID,
		AgentID:    agentID,
		WorkerID:   "w1",
		Data: map[string]any{
			"agent_name": "greeter",
			"role":       "task_creator",
			"model":      "claude-sonnet",
		},
	})

	convs, err := store.ByUniverse(ctx, universeID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, models.ConversationRunning, convs[0].Status)
	require.Equal(t, "greeter", convs[0].AgentName)
	conversationID := convs[0].ID

	messagesSent, _ := json.Marshal([]map[string]string{{"role": "user", "content": "hi"}})
	store.PersistEvent(ctx, models.Event{
		Type:       models.EventIterationDetail,
		UniverseID: universeID,
		AgentID:    agentID,
		Data: map[string]any{
			"turn_number":   1,
			"iteration":     0,
			"system_prompt": "be helpful",
			"messages_sent": json.RawMessage(messagesSent),
			"model":         "claude-sonnet",
			"max_tokens":    4096,
			"stop_reason":   models.StopReasonEndTurn,
			"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
			"started_at":    time.Now().UTC().Format(time.RFC3339),
			"duration_ms":   150,
		},
	})

	turns, err := store.TurnsByConversation(ctx, conversationID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	require.Equal(t, 1, turns[0].TurnNumber)
	require.Equal(t, 10, turns[0].InputTokens)
	require.Equal(t, 20, turns[0].OutputTokens)

	detail, err := store.TurnDetail(ctx, conversationID, turns[0].ID)
	require.NoError(t, err)
	require.Equal(t, turns[0].ID, detail.ID)

	store.PersistEvent(ctx, models.Event{
		Type:       models.EventAgentDone,
		UniverseID: universeID,
		AgentID:    agentID,
	})

	convs, err = store.ByUniverse(ctx, universeID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.ConversationCompleted, convs[0].Status)
	require.Equal(t, 1, convs[0].TotalTurns)
	require.Equal(t, 1, convs[0].TotalIterations)
	require.Equal(t, 10, convs[0].TotalInputTokens)
	require.Equal(t, 20, convs[0].TotalOutputTokens)
}

func TestCompleteConversationIgnoresAlreadyClosedRow(t *testing.T) {
	db := testdb.NewTestClient(t)
	store := conversations.New(db)
	ctx := context.Background()

	universeID := "u-" + t.Name()
	agentID := "a-1"

	store.PersistEvent(ctx, models.Event{Type: models.EventAgentStarted, UniverseID: universeID, AgentID: agentID})
	store.PersistEvent(ctx, models.Event{Type: models.EventAgentDone, UniverseID: universeID, AgentID: agentID})
	// Duplicate agent_error after completion must not reopen or override the
	// already-"completed" row (the UPDATE's WHERE status = 'running' guard).
	store.PersistEvent(ctx, models.Event{
		Type: models.EventAgentError, UniverseID: universeID, AgentID: agentID,
		Data: map[string]any{"error": "too late"},
	})

	convs, err := store.ByUniverse(ctx, universeID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, models.ConversationCompleted, convs[0].Status)
	require.Nil(t, convs[0].ErrorMessage)
}

func TestInsertTurnDropsWhenNoConversationExists(t *testing.T) {
	db := testdb.NewTestClient(t)
	store := conversations.New(db)
	ctx := context.Background()

	// No agent_started was ever recorded for this universe/agent; the
	// iteration_detail frame must be dropped, not panic or error loudly.
	store.PersistEvent(ctx, models.Event{
		Type:       models.EventIterationDetail,
		UniverseID: "orphan-universe",
		AgentID:    "orphan-agent",
		Data: map[string]any{
			"turn_number": 1,
			"iteration":   0,
		},
	})
}

func TestByUniverseFlagsStaleRunningConversationAsWorkerUnknown(t *testing.T) {
	db := testdb.NewTestClient(t)
	store := conversations.New(db)
	ctx := context.Background()

	universeID := "u-" + t.Name()
	store.PersistEvent(ctx, models.Event{Type: models.EventAgentStarted, UniverseID: universeID, AgentID: "a-1"})

	convs, err := store.ByUniverse(ctx, universeID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, convs[0].WorkerUnknown)
}
