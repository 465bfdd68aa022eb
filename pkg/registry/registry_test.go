package registry_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sawuapara/jarvis/pkg/database/testdb"
	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/sawuapara/jarvis/pkg/registry"
	"github.com/stretchr/testify/require"
)

func TestRegisterInsertsNewWorker(t *testing.T) {
	client := testdb.NewTestClient(t)
	reg := registry.New(client.DB())
	ctx := context.Background()

	resp, err := reg.Register(ctx, models.RegisterRequest{
		Hostname:            "host-a",
		WorkerName:          "w1",
		WorkerAddress:       "http://localhost:8100",
		MaxConcurrentAgents: 4,
		Capabilities:        []string{"git", "claude-code"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.NotEmpty(t, resp.AuthToken)
	require.Equal(t, models.WorkerOnline, resp.Status)
	require.Equal(t, 0, resp.CurrentAgents)
}

func TestRegisterWithExistingIDResetsLoadAndRotatesToken(t *testing.T) {
	client := testdb.NewTestClient(t)
	reg := registry.New(client.DB())
	ctx := context.Background()

	workerID := uuid.NewString()
	first, err := reg.Register(ctx, models.RegisterRequest{
		WorkerID:            workerID,
		Hostname:            "host-a",
		MaxConcurrentAgents: 4,
	})
	require.NoError(t, err)

	_, err = reg.Heartbeat(ctx, workerID, models.HeartbeatRequest{CurrentAgents: 3, Status: models.WorkerOnline})
	require.NoError(t, err)

	second, err := reg.Register(ctx, models.RegisterRequest{
		WorkerID:            workerID,
		Hostname:            "host-a",
		MaxConcurrentAgents: 8,
	})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.NotEqual(t, first.AuthToken, second.AuthToken)
	require.Equal(t, 0, second.CurrentAgents)
	require.Equal(t, 8, second.MaxConcurrentAgents)

	_, err = reg.AuthenticateByTokenHash(ctx, first.AuthToken)
	require.ErrorIs(t, err, registry.ErrNotFound)

	w, err := reg.AuthenticateByTokenHash(ctx, second.AuthToken)
	require.NoError(t, err)
	require.Equal(t, workerID, w.ID)
}

func TestHeartbeatUnknownWorkerReturnsNotFound(t *testing.T) {
	client := testdb.NewTestClient(t)
	reg := registry.New(client.DB())

	_, err := reg.Heartbeat(context.Background(), uuid.NewString(), models.HeartbeatRequest{CurrentAgents: 1, Status: models.WorkerOnline})
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeregisterSetsOffline(t *testing.T) {
	client := testdb.NewTestClient(t)
	reg := registry.New(client.DB())
	ctx := context.Background()

	resp, err := reg.Register(ctx, models.RegisterRequest{Hostname: "host-a", MaxConcurrentAgents: 1})
	require.NoError(t, err)

	require.NoError(t, reg.Deregister(ctx, resp.ID))

	w, err := reg.Get(ctx, resp.ID)
	require.NoError(t, err)
	require.Equal(t, models.WorkerOffline, w.Status)

	// Best-effort: deregistering again is not an error.
	require.NoError(t, reg.Deregister(ctx, resp.ID))
}

func TestListOnlineWithCapacityExcludesFullWorkers(t *testing.T) {
	client := testdb.NewTestClient(t)
	reg := registry.New(client.DB())
	ctx := context.Background()

	full, err := reg.Register(ctx, models.RegisterRequest{Hostname: "full", MaxConcurrentAgents: 1})
	require.NoError(t, err)
	_, err = reg.Heartbeat(ctx, full.ID, models.HeartbeatRequest{CurrentAgents: 1, Status: models.WorkerOnline})
	require.NoError(t, err)

	free, err := reg.Register(ctx, models.RegisterRequest{Hostname: "free", MaxConcurrentAgents: 4})
	require.NoError(t, err)

	workers, err := reg.ListOnlineWithCapacity(ctx)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, w := range workers {
		ids[w.ID] = true
	}
	require.True(t, ids[free.ID])
	require.False(t, ids[full.ID])
}
