// Package fanout implements the Event Fan-out (spec.md §4.5): accepts
// worker event streams over WS /ws/worker/{id}, maintains the in-memory
// universe cache, broadcasts to WS /ws/universes dashboard subscribers,
// and invokes a persistence hook for event types the Conversation Store
// cares about.
//
// Adapted from the teacher's pkg/events/manager.go ConnectionManager: the
// "subscriptions/state mutated only by the connection's own goroutine"
// discipline and the snapshot-then-send-outside-lock Broadcast pattern
// are kept; the channel/LISTEN subscription machinery is replaced with
// this spec's simpler two-endpoint model (no catchup query, no Postgres
// NOTIFY).
package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sawuapara/jarvis/pkg/models"
)

const writeTimeout = 5 * time.Second

// PersistFunc is invoked for every event the Conversation Store persists
// (spec.md §4.6). Errors are logged and swallowed — a persistence failure
// must never interrupt the fan-out.
type PersistFunc func(ctx context.Context, evt models.Event)

// Hub owns the universe cache, the worker connections, and the dashboard
// broadcast set. All mutation of its maps happens under its own locks;
// there is no shared memory accessed outside this type.
type Hub struct {
	Cache *Cache

	persist PersistFunc

	dashMu sync.RWMutex
	dash   map[string]*dashboardConn
}

type dashboardConn struct {
	id   string
	conn *websocket.Conn
	ctx  context.Context
}

// New builds a Hub. persist may be nil if no Conversation Store is wired.
func New(persist PersistFunc) *Hub {
	return &Hub{
		Cache:   NewCache(),
		persist: persist,
		dash:    make(map[string]*dashboardConn),
	}
}

// HandleWorkerConnection reads event frames from one worker's persistent
// WebSocket until it closes. Events are applied to the cache, persisted,
// and broadcast in that order, matching the effect ordering in spec.md
// §4.5.
func (h *Hub) HandleWorkerConnection(ctx context.Context, workerID string, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Info("fanout: worker connection closed", "worker_id", workerID, "error", err)
			return
		}

		var evt models.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("fanout: invalid event frame", "worker_id", workerID, "error", err)
			continue
		}
		evt.WorkerID = workerID

		h.Cache.Apply(evt)

		if h.persist != nil && isPersistable(evt.Type) {
			// Fire-and-forget: persistence failure must not block the
			// worker's read loop or the broadcast to dashboards.
			go h.persist(context.Background(), evt)
		}

		h.Broadcast(data)
	}
}

// isPersistable reports whether an event type triggers Conversation
// Store writes (spec.md §4.6).
func isPersistable(eventType string) bool {
	switch eventType {
	case models.EventAgentStarted, models.EventIterationDetail, models.EventAgentDone, models.EventAgentError:
		return true
	default:
		return false
	}
}

// HandleDashboardConnection registers a dashboard subscriber, sends the
// initial snapshot frame, then blocks reading (solely to detect close)
// until the connection ends.
func (h *Hub) HandleDashboardConnection(ctx context.Context, conn *websocket.Conn) {
	id := uuid.NewString()
	d := &dashboardConn{id: id, conn: conn, ctx: ctx}

	h.dashMu.Lock()
	h.dash[id] = d
	h.dashMu.Unlock()
	defer h.removeDashboard(id)

	snapshot := models.SnapshotEvent{Type: "snapshot", Universes: h.Cache.Snapshot()}
	payload, err := json.Marshal(snapshot)
	if err == nil {
		_ = h.send(d, payload)
	}

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends raw JSON to every connected dashboard client; slow or
// broken clients are removed, matching the teacher's Broadcast: snapshot
// the connection set under a lock, then send outside of it.
func (h *Hub) Broadcast(payload []byte) {
	h.dashMu.RLock()
	conns := make([]*dashboardConn, 0, len(h.dash))
	for _, d := range h.dash {
		conns = append(conns, d)
	}
	h.dashMu.RUnlock()

	for _, d := range conns {
		if err := h.send(d, payload); err != nil {
			slog.Warn("fanout: removing broken dashboard connection", "connection_id", d.id, "error", err)
			h.removeDashboard(d.id)
		}
	}
}

func (h *Hub) send(d *dashboardConn, payload []byte) error {
	ctx, cancel := context.WithTimeout(d.ctx, writeTimeout)
	defer cancel()
	return d.conn.Write(ctx, websocket.MessageText, payload)
}

func (h *Hub) removeDashboard(id string) {
	h.dashMu.Lock()
	d, ok := h.dash[id]
	h.dashMu.Unlock()
	if !ok {
		return
	}
	h.dashMu.Lock()
	delete(h.dash, id)
	h.dashMu.Unlock()
	_ = d.conn.Close(websocket.StatusNormalClosure, "")
}

// DashboardConnectionCount reports the number of connected dashboard clients.
func (h *Hub) DashboardConnectionCount() int {
	h.dashMu.RLock()
	defer h.dashMu.RUnlock()
	return len(h.dash)
}
