package fanout

import (
	"sync"
	"time"

	"github.com/sawuapara/jarvis/pkg/models"
)

// Cache is the control plane's in-memory projection of universes
// (spec.md §4.5). It is soft state: empty after a control-plane restart,
// rehydrated only as new worker events flow. The authoritative state is
// the set of live worker connections.
type Cache struct {
	mu         sync.RWMutex
	universes  map[string]*models.UniverseCacheRow
	startedAt  time.Time
}

// NewCache creates an empty cache stamped with the process start time,
// used to annotate stale "running" conversations per Open Question #3
// (see DESIGN.md).
func NewCache() *Cache {
	return &Cache{
		universes: make(map[string]*models.UniverseCacheRow),
		startedAt: time.Now(),
	}
}

// StartedAt returns when this cache (i.e. this control-plane process) came up.
func (c *Cache) StartedAt() time.Time {
	return c.startedAt
}

// Apply updates the cache according to the event-type table in
// spec.md §4.5.
func (c *Cache) Apply(evt models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case models.EventUniverseCreated:
		c.universes[evt.UniverseID] = &models.UniverseCacheRow{
			ID:           evt.UniverseID,
			Status:       models.UniverseActive,
			StateVersion: 0,
			WorkerID:     evt.WorkerID,
			Agents:       make(map[string]*models.AgentCacheRow),
		}

	case models.EventUniverseStopped:
		if u, ok := c.universes[evt.UniverseID]; ok {
			u.Status = models.UniverseTerminated
		}

	case models.EventAgentStarted:
		u := c.ensureUniverse(evt.UniverseID, evt.WorkerID)
		u.Agents[evt.AgentID] = &models.AgentCacheRow{ID: evt.AgentID, Status: models.AgentRunning}

	case models.EventAgentDone:
		if a := c.agent(evt.UniverseID, evt.AgentID); a != nil {
			a.Status = models.AgentCompleted
		}

	case models.EventAgentError:
		if a := c.agent(evt.UniverseID, evt.AgentID); a != nil {
			a.Status = models.AgentError
			if msg, ok := evt.Data["error"].(string); ok {
				a.ErrorMessage = msg
			}
		}

	case models.EventTurnStart:
		if a := c.agent(evt.UniverseID, evt.AgentID); a != nil {
			if turn, ok := evt.Data["turn"].(float64); ok {
				a.CurrentTurn = int(turn)
			}
		}

	case models.EventTurnEnd:
		if u, ok := c.universes[evt.UniverseID]; ok {
			u.StateVersion++
		}
	}
}

func (c *Cache) ensureUniverse(universeID, workerID string) *models.UniverseCacheRow {
	if u, ok := c.universes[universeID]; ok {
		return u
	}
	u := &models.UniverseCacheRow{ID: universeID, Status: models.UniverseActive, WorkerID: workerID, Agents: make(map[string]*models.AgentCacheRow)}
	c.universes[universeID] = u
	return u
}

func (c *Cache) agent(universeID, agentID string) *models.AgentCacheRow {
	u, ok := c.universes[universeID]
	if !ok {
		return nil
	}
	return u.Agents[agentID]
}

// Snapshot returns a defensive copy of all cached universes, suitable for
// the WS /ws/universes initial snapshot frame and GET /api/universes.
func (c *Cache) Snapshot() []*models.UniverseCacheRow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.UniverseCacheRow, 0, len(c.universes))
	for _, u := range c.universes {
		cp := *u
		agents := make(map[string]*models.AgentCacheRow, len(u.Agents))
		for id, a := range u.Agents {
			acp := *a
			agents[id] = &acp
		}
		cp.Agents = agents
		out = append(out, &cp)
	}
	return out
}
