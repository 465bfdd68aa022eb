package dispatch_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sawuapara/jarvis/pkg/dispatch"
	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	workers []models.Worker
}

func (f fakeLister) ListOnlineWithCapacity(context.Context) ([]models.Worker, error) {
	return f.workers, nil
}

func TestSelectWorkerPicksLeastBusy(t *testing.T) {
	t0 := time.Now()
	workers := []models.Worker{
		{ID: "busy", CurrentAgents: 3, RegisteredAt: t0},
		{ID: "idle", CurrentAgents: 0, RegisteredAt: t0.Add(time.Second)},
	}
	best, ok := dispatch.SelectWorker(workers)
	require.True(t, ok)
	require.Equal(t, "idle", best.ID)
}

func TestSelectWorkerTiebreaksByOldestRegistration(t *testing.T) {
	t0 := time.Now()
	workers := []models.Worker{
		{ID: "newer", CurrentAgents: 1, RegisteredAt: t0.Add(time.Minute)},
		{ID: "older", CurrentAgents: 1, RegisteredAt: t0},
	}
	best, ok := dispatch.SelectWorker(workers)
	require.True(t, ok)
	require.Equal(t, "older", best.ID)
}

func TestSelectWorkerNoneAvailable(t *testing.T) {
	_, ok := dispatch.SelectWorker(nil)
	require.False(t, ok)
}

func TestLaunchForwardsToSelectedWorker(t *testing.T) {
	var received models.LaunchUniverseRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"universe_id": "u1", "status": "launched"})
	}))
	defer srv.Close()

	d := dispatch.New(fakeLister{workers: []models.Worker{
		{ID: "w1", Name: "w1", Address: srv.URL, CurrentAgents: 0, MaxConcurrentAgents: 4},
	}})

	resp, err := d.Launch(context.Background(), models.LaunchUniverseDispatchRequest{
		Prompt:    "say hi",
		AgentName: "greeter",
		AgentRole: "smoke",
	})
	require.NoError(t, err)
	require.Equal(t, "u1", resp.UniverseID)
	require.Equal(t, "w1", resp.WorkerID)
	require.Equal(t, "greeter", received.Agents[0].Name)
	require.Equal(t, "smoke", received.Agents[0].Role)
}

func TestLaunchNoWorkerAvailable(t *testing.T) {
	d := dispatch.New(fakeLister{})
	_, err := d.Launch(context.Background(), models.LaunchUniverseDispatchRequest{Prompt: "x"})
	require.ErrorIs(t, err, dispatch.ErrNoWorkerAvailable)
}

func TestLaunchWorkerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := dispatch.New(fakeLister{workers: []models.Worker{
		{ID: "w1", Address: srv.URL, CurrentAgents: 0, MaxConcurrentAgents: 1},
	}})

	_, err := d.Launch(context.Background(), models.LaunchUniverseDispatchRequest{Prompt: "x"})
	require.Error(t, err)
	var rejected *dispatch.ErrWorkerRejected
	require.ErrorAs(t, err, &rejected)
}
