package manager_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
	"github.com/sawuapara/jarvis/pkg/workerrt/manager"
	"github.com/stretchr/testify/require"
)

func endTurnServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(llmclient.ChatResponse{
			StopReason: "end_turn",
			Content:    []llmclient.ContentBlock{{Type: "text", Text: "done"}},
		})
	}))
}

type eventSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *eventSink) emit(evt models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func containsType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func TestLaunchUniverseRunsAgentsToCompletion(t *testing.T) {
	srv := endTurnServer(t)
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	sink := &eventSink{}
	mgr := manager.New("worker-1", llm, 10, 200, sink.emit)

	universe, err := mgr.LaunchUniverse(context.Background(), "demo", "dim-1", t.TempDir(), []models.LaunchAgentSpec{
		{Name: "builder", Role: "worker", Task: "build it"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, universe.ID)

	require.Eventually(t, func() bool {
		u, ok := mgr.Universe(universe.ID)
		return ok && u.Status == models.UniverseTerminated
	}, 2*time.Second, 10*time.Millisecond)

	u, ok := mgr.Universe(universe.ID)
	require.True(t, ok)
	require.Len(t, u.Agents, 1)
	require.Equal(t, models.AgentCompleted, u.Agents[0].Status)

	types := sink.types()
	require.True(t, containsType(types, models.EventUniverseCreated))
	require.True(t, containsType(types, models.EventAgentDone))
	require.True(t, containsType(types, models.EventUniverseStopped))
}

func TestLaunchAgentOnUnknownUniverseErrors(t *testing.T) {
	srv := endTurnServer(t)
	defer srv.Close()
	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	mgr := manager.New("worker-1", llm, 10, 200, func(models.Event) {})

	_, err := mgr.LaunchAgent(context.Background(), "missing", "a", "worker", "", "task")
	require.Error(t, err)
}

func TestStopUniverseCancelsRunningAgents(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(blocked)
	}))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	sink := &eventSink{}
	mgr := manager.New("worker-1", llm, 10, 200, sink.emit)

	universe, err := mgr.LaunchUniverse(context.Background(), "demo", "", t.TempDir(), []models.LaunchAgentSpec{
		{Name: "builder", Role: "worker", Task: "build it"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return containsType(sink.types(), models.EventAgentStarted)
	}, time.Second, 5*time.Millisecond)

	require.True(t, mgr.StopUniverse(universe.ID))

	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("stopping the universe did not cancel the in-flight LLM request")
	}

	require.Eventually(t, func() bool {
		u, ok := mgr.Universe(universe.ID)
		return ok && u.Status == models.UniverseTerminated
	}, time.Second, 5*time.Millisecond)

	u, ok := mgr.Universe(universe.ID)
	require.True(t, ok)
	require.Len(t, u.Agents, 1)
	require.Equal(t, models.AgentPaused, u.Agents[0].Status)
}

func TestRunningAgentCountReflectsLiveAgents(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(llmclient.ChatResponse{StopReason: "end_turn", Content: []llmclient.ContentBlock{{Type: "text", Text: "ok"}}})
	}))
	defer srv.Close()

	llm := llmclient.New(srv.URL, "k", "claude-sonnet", nil)
	mgr := manager.New("worker-1", llm, 10, 200, func(models.Event) {})

	universe, err := mgr.LaunchUniverse(context.Background(), "demo", "", t.TempDir(), []models.LaunchAgentSpec{
		{Name: "builder", Role: "worker", Task: "build it"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return mgr.RunningAgentCount() == 1 }, time.Second, 5*time.Millisecond)

	status := mgr.GetStatus()
	require.Equal(t, 1, status.ActiveUniverses)
	require.Equal(t, 1, status.RunningAgents)

	close(release)
	require.Eventually(t, func() bool {
		u, ok := mgr.Universe(universe.ID)
		return ok && u.Status == models.UniverseTerminated
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, mgr.RunningAgentCount())
}
