package agentloop_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/sawuapara/jarvis/pkg/workerrt/agentloop"
	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []llmclient.ChatResponse
	calls     int
}

func (s *scriptedLLM) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		require.Less(t, s.calls, len(s.responses), "unexpected extra LLM call")
		resp := s.responses[s.calls]
		s.calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func collectingEmit() (agentloop.Emit, func() []models.Event) {
	var mu sync.Mutex
	var events []models.Event
	emit := func(evt models.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	}
	return emit, func() []models.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]models.Event(nil), events...)
	}
}

func eventTypes(events []models.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestRunSingleTurnNoToolUseCompletes(t *testing.T) {
	script := &scriptedLLM{responses: []llmclient.ChatResponse{
		{StopReason: "end_turn", Content: []llmclient.ContentBlock{{Type: "text", Text: "all done"}}},
	}}
	srv := httptest.NewServer(script.handler(t))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, drain := collectingEmit()

	result := agentloop.Run(context.Background(), llm, 10, 200, agentloop.Task{
		AgentID:      "a1",
		AgentName:    "builder",
		AgentRole:    "worker",
		Model:        "claude-sonnet",
		TaskPrompt:   "build the thing",
		UniverseID:   "u1",
		UniverseName: "demo",
		WorktreePath: t.TempDir(),
		GetState:     func() models.StateBag { return models.StateBag{} },
	}, emit)

	require.Equal(t, models.AgentCompleted, result.Status)
	require.Equal(t, 1, result.FinalTurn)

	types := eventTypes(drain())
	require.Equal(t, []string{
		models.EventAgentStarted,
		models.EventTurnStart,
		models.EventLLMResponse,
		models.EventIterationDetail,
		models.EventTurnEnd,
		models.EventAgentDone,
	}, types)
}

func TestRunExecutesToolThenCompletes(t *testing.T) {
	dir := t.TempDir()
	toolInput, _ := json.Marshal(map[string]string{"path": "out.txt", "content": "hi"})
	script := &scriptedLLM{responses: []llmclient.ChatResponse{
		{StopReason: "tool_use", Content: []llmclient.ContentBlock{
			{Type: "tool_use", ID: "t1", Name: "write_file", Input: toolInput},
		}},
		{StopReason: "end_turn", Content: []llmclient.ContentBlock{{Type: "text", Text: "wrote the file"}}},
	}}
	srv := httptest.NewServer(script.handler(t))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, drain := collectingEmit()

	result := agentloop.Run(context.Background(), llm, 10, 200, agentloop.Task{
		AgentID:      "a1",
		AgentName:    "builder",
		AgentRole:    "worker",
		Model:        "claude-sonnet",
		TaskPrompt:   "write out.txt",
		UniverseID:   "u1",
		UniverseName: "demo",
		WorktreePath: dir,
		GetState:     func() models.StateBag { return models.StateBag{} },
	}, emit)

	require.Equal(t, models.AgentCompleted, result.Status)

	types := eventTypes(drain())
	require.Contains(t, types, models.EventToolCall)
	require.Contains(t, types, models.EventToolResult)
}

func TestRunStopsAtMaxTurnsWhenAgentKeepsRequestingTools(t *testing.T) {
	toolInput, _ := json.Marshal(map[string]string{"command": "echo hi"})
	toolUseResp := llmclient.ChatResponse{StopReason: "tool_use", Content: []llmclient.ContentBlock{
		{Type: "tool_use", ID: "t1", Name: "run_command", Input: toolInput},
	}}
	script := &scriptedLLM{responses: []llmclient.ChatResponse{toolUseResp, toolUseResp, toolUseResp}}
	srv := httptest.NewServer(script.handler(t))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, _ := collectingEmit()

	var turns []int
	result := agentloop.Run(context.Background(), llm, 2, 1, agentloop.Task{
		AgentID:      "a1",
		AgentRole:    "worker",
		Model:        "claude-sonnet",
		WorktreePath: t.TempDir(),
		GetState:     func() models.StateBag { return models.StateBag{} },
		OnTurn:       func(turn int) { turns = append(turns, turn) },
	}, emit)

	require.Equal(t, models.AgentCompleted, result.Status)
	require.Equal(t, 2, result.FinalTurn)
	require.Equal(t, []int{1, 2}, turns)
}

func TestRunTaskCreatorPersistsMessagesAcrossTurns(t *testing.T) {
	var apiBaseHits int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiBaseHits++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "task-1", "title": "Ship it", "priority": 70})
	}))
	defer backend.Close()

	createInput, _ := json.Marshal(map[string]any{"title": "Ship it", "description": "do it", "priority": 70})
	script := &scriptedLLM{responses: []llmclient.ChatResponse{
		{StopReason: "tool_use", Content: []llmclient.ContentBlock{
			{Type: "tool_use", ID: "t1", Name: "create_task", Input: createInput},
		}},
		{StopReason: "end_turn", Content: []llmclient.ContentBlock{{Type: "text", Text: "created it"}}},
	}}
	srv := httptest.NewServer(script.handler(t))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, drain := collectingEmit()

	result := agentloop.Run(context.Background(), llm, 10, 200, agentloop.Task{
		AgentID:    "a1",
		AgentRole:  models.RoleTaskCreator,
		Model:      "claude-sonnet",
		TaskPrompt: "I need a task to ship the release",
		APIBase:    backend.URL,
		GetState:   func() models.StateBag { return models.StateBag{} },
	}, emit)

	require.Equal(t, models.AgentCompleted, result.Status)
	require.Equal(t, 1, apiBaseHits)

	for _, evt := range drain() {
		if evt.Type == models.EventToolResult {
			require.Contains(t, evt.Data["result"], "Task created successfully")
		}
	}
}

func TestRunReturnsErrorStatusOnLLMFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, drain := collectingEmit()

	result := agentloop.Run(context.Background(), llm, 10, 200, agentloop.Task{
		AgentID:      "a1",
		AgentRole:    "worker",
		Model:        "claude-sonnet",
		WorktreePath: t.TempDir(),
		GetState:     func() models.StateBag { return models.StateBag{} },
	}, emit)

	require.Equal(t, models.AgentError, result.Status)
	require.NotEmpty(t, result.ErrorMessage)
	require.Contains(t, eventTypes(drain()), models.EventAgentError)
}

func TestRunPausesWhenContextCanceledMidChat(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, drain := collectingEmit()

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := make(chan agentloop.Result, 1)
	go func() {
		resultCh <- agentloop.Run(ctx, llm, 10, 200, agentloop.Task{
			AgentID:      "a1",
			AgentRole:    "worker",
			Model:        "claude-sonnet",
			WorktreePath: t.TempDir(),
			GetState:     func() models.StateBag { return models.StateBag{} },
		}, emit)
	}()

	<-started
	cancel()
	result := <-resultCh

	require.Equal(t, models.AgentPaused, result.Status)
	require.NotContains(t, eventTypes(drain()), models.EventAgentError)
}

func TestRunUsesStateBagContextInSystemPromptViaDecisions(t *testing.T) {
	var gotSystem string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSystem, _ = body["system"].(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(llmclient.ChatResponse{StopReason: "end_turn", Content: []llmclient.ContentBlock{{Type: "text", Text: "ok"}}})
	}))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	emit, _ := collectingEmit()

	state := models.StateBag{ContextSummary: "repo is mid-migration", Decisions: []string{"use postgres", "drop redis"}}
	agentloop.Run(context.Background(), llm, 1, 10, agentloop.Task{
		AgentID:      "a1",
		AgentName:    "builder",
		AgentRole:    "worker",
		UniverseName: "demo",
		WorktreePath: t.TempDir(),
		GetState:     func() models.StateBag { return state },
	}, emit)

	require.Contains(t, gotSystem, "repo is mid-migration")
	require.Contains(t, gotSystem, "use postgres")
}
