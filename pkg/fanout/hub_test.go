package fanout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sawuapara/jarvis/pkg/fanout"
	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, h *fanout.Hub) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/worker/w1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		h.HandleWorkerConnection(r.Context(), "w1", conn)
	})
	mux.HandleFunc("/ws/universes", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		h.HandleDashboardConnection(r.Context(), conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDashboardReceivesSnapshotThenForwardedEvents(t *testing.T) {
	var persisted []models.Event
	h := fanout.New(func(_ context.Context, evt models.Event) {
		persisted = append(persisted, evt)
	})

	srv := newTestServer(t, h)
	wsURL := "ws" + srv.URL[len("http"):]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dashConn, _, err := websocket.Dial(ctx, wsURL+"/ws/universes", nil)
	require.NoError(t, err)
	defer dashConn.Close(websocket.StatusNormalClosure, "")

	_, snapshotRaw, err := dashConn.Read(ctx)
	require.NoError(t, err)
	var snapshot models.SnapshotEvent
	require.NoError(t, json.Unmarshal(snapshotRaw, &snapshot))
	require.Equal(t, "snapshot", snapshot.Type)

	workerConn, _, err := websocket.Dial(ctx, wsURL+"/ws/worker/w1", nil)
	require.NoError(t, err)
	defer workerConn.Close(websocket.StatusNormalClosure, "")

	evtPayload, _ := json.Marshal(models.Event{Type: models.EventUniverseCreated, UniverseID: "u1"})
	require.NoError(t, workerConn.Write(ctx, websocket.MessageText, evtPayload))

	_, forwarded, err := dashConn.Read(ctx)
	require.NoError(t, err)
	var fwdEvt models.Event
	require.NoError(t, json.Unmarshal(forwarded, &fwdEvt))
	require.Equal(t, models.EventUniverseCreated, fwdEvt.Type)

	require.Eventually(t, func() bool {
		snap := h.Cache.Snapshot()
		return len(snap) == 1 && snap[0].ID == "u1"
	}, time.Second, 10*time.Millisecond)
}
