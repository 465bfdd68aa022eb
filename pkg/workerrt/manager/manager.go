// Package manager implements the Universe Manager (spec.md §4.8): the
// worker-side registry that launches universes and agents, tracks their
// live status, and tears them down on stop — grounded on
// original_source/backend/src/worker/manager.py, translated from a
// single-threaded asyncio event loop into one goroutine per agent guarded
// by the mutex-and-cancel-registry idiom of the teacher's
// pkg/queue/pool.go WorkerPool.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/sawuapara/jarvis/pkg/workerrt/agentloop"
	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
)

// Emit pushes one event onto the worker's outbound event stream.
type Emit func(evt models.Event)

// universeEntry is the manager's live handle for one universe: the
// serializable model plus the per-agent cancel registry needed to stop it.
type universeEntry struct {
	mu       sync.Mutex
	universe *models.Universe
	agents   map[string]*agentEntry
}

type agentEntry struct {
	mu     sync.Mutex
	agent  *models.Agent
	cancel context.CancelFunc
}

// Manager owns every universe this worker process is currently running.
type Manager struct {
	workerID      string
	llm           *llmclient.Client
	maxTurns      int
	maxIterations int
	emit          Emit

	mu        sync.RWMutex
	universes map[string]*universeEntry

	wg sync.WaitGroup
}

// New builds a Manager. emit is called from agent goroutines concurrently;
// callers must make it safe for concurrent use (pkg/workerrt/backendclient
// serializes sends over one WS connection behind a channel).
func New(workerID string, llm *llmclient.Client, maxTurns, maxIterations int, emit Emit) *Manager {
	return &Manager{
		workerID:      workerID,
		llm:           llm,
		maxTurns:      maxTurns,
		maxIterations: maxIterations,
		emit:          emit,
		universes:     make(map[string]*universeEntry),
	}
}

// LaunchUniverse creates a universe and spawns every configured agent,
// matching manager.py's launch_universe.
func (m *Manager) LaunchUniverse(ctx context.Context, name, dimensionID, worktreePath string, agentSpecs []models.LaunchAgentSpec) (*models.Universe, error) {
	universe := &models.Universe{
		ID:           uuid.NewString(),
		DimensionID:  dimensionID,
		Name:         name,
		Status:       models.UniverseActive,
		CreatedAt:    time.Now().UTC(),
		WorkerID:     m.workerID,
		WorktreePath: worktreePath,
	}

	entry := &universeEntry{universe: universe, agents: make(map[string]*agentEntry)}
	m.mu.Lock()
	m.universes[universe.ID] = entry
	m.mu.Unlock()

	m.emit(models.Event{
		Type: models.EventUniverseCreated, WorkerID: m.workerID, UniverseID: universe.ID,
		Data: map[string]any{"name": name, "dimension_id": dimensionID},
	})

	for _, spec := range agentSpecs {
		if _, err := m.LaunchAgent(ctx, universe.ID, spec.Name, spec.Role, spec.Model, spec.Task); err != nil {
			slog.Error("launching configured agent failed", "universe_id", universe.ID, "agent_name", spec.Name, "error", err)
		}
	}

	return universe, nil
}

// LaunchAgent adds one agent to an existing universe and starts its
// goroutine, matching manager.py's launch_agent.
func (m *Manager) LaunchAgent(ctx context.Context, universeID, name, role, model, taskPrompt string) (*models.Agent, error) {
	m.mu.RLock()
	entry, ok := m.universes[universeID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("manager: unknown universe %q", universeID)
	}

	if model == "" {
		model = m.llm.DefaultModel()
	}
	agent := &models.Agent{
		ID:         uuid.NewString(),
		Name:       name,
		Role:       role,
		Model:      model,
		Status:     models.AgentRunning,
		TaskPrompt: taskPrompt,
	}

	agentCtx, cancel := context.WithCancel(ctx)
	ae := &agentEntry{agent: agent, cancel: cancel}

	entry.mu.Lock()
	entry.agents[agent.ID] = ae
	entry.universe.Agents = append(entry.universe.Agents, agent)
	entry.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runAgent(agentCtx, entry, ae)
	}()

	return agent, nil
}

func (m *Manager) runAgent(ctx context.Context, entry *universeEntry, ae *agentEntry) {
	entry.mu.Lock()
	universeID := entry.universe.ID
	universeName := entry.universe.Name
	worktreePath := entry.universe.WorktreePath
	apiBase := entry.universe.State.APIBase
	entry.mu.Unlock()

	ae.mu.Lock()
	agentID := ae.agent.ID
	agentName := ae.agent.Name
	agentRole := ae.agent.Role
	model := ae.agent.Model
	taskPrompt := ae.agent.TaskPrompt
	ae.mu.Unlock()

	result := agentloop.Run(ctx, m.llm, m.maxTurns, m.maxIterations, agentloop.Task{
		AgentID:      agentID,
		AgentName:    agentName,
		AgentRole:    agentRole,
		Model:        model,
		TaskPrompt:   taskPrompt,
		UniverseID:   universeID,
		UniverseName: universeName,
		WorktreePath: worktreePath,
		APIBase:      apiBase,
		GetState: func() models.StateBag {
			entry.mu.Lock()
			defer entry.mu.Unlock()
			return entry.universe.State
		},
		BumpStateVersion: func() int {
			entry.mu.Lock()
			defer entry.mu.Unlock()
			entry.universe.StateVersion++
			return entry.universe.StateVersion
		},
		OnTurn: func(turn int) {
			ae.mu.Lock()
			ae.agent.CurrentTurn = turn
			ae.mu.Unlock()
		},
	}, func(evt models.Event) {
		evt.WorkerID = m.workerID
		evt.Timestamp = time.Now().UTC()
		m.emit(evt)
	})

	ae.mu.Lock()
	ae.agent.Status = result.Status
	ae.agent.CurrentTurn = result.FinalTurn
	ae.agent.ErrorMessage = result.ErrorMessage
	ae.mu.Unlock()

	m.checkUniverseCompletion(entry)
}

// checkUniverseCompletion marks the universe terminated once every agent
// has reached a terminal status, matching manager.py's
// _check_universe_completion.
func (m *Manager) checkUniverseCompletion(entry *universeEntry) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	for _, ae := range entry.agents {
		ae.mu.Lock()
		terminal := ae.agent.IsTerminal()
		ae.mu.Unlock()
		if !terminal {
			return
		}
	}

	if entry.universe.Status == models.UniverseTerminated {
		return
	}
	entry.universe.Status = models.UniverseTerminated
	m.emit(models.Event{
		Type: models.EventUniverseStopped, WorkerID: m.workerID, UniverseID: entry.universe.ID,
		Data:      map[string]any{"reason": "all_agents_terminal"},
		Timestamp: time.Now().UTC(),
	})
}

// StopAgent cancels one agent's context, marking it paused.
func (m *Manager) StopAgent(universeID, agentID string) bool {
	m.mu.RLock()
	entry, ok := m.universes[universeID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	ae, ok := entry.agents[agentID]
	entry.mu.Unlock()
	if !ok {
		return false
	}

	ae.cancel()
	return true
}

// StopUniverse cancels every agent in a universe and marks it terminated.
func (m *Manager) StopUniverse(universeID string) bool {
	m.mu.RLock()
	entry, ok := m.universes[universeID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	for _, ae := range entry.agents {
		ae.cancel()
	}
	entry.universe.Status = models.UniverseTerminated
	entry.mu.Unlock()

	m.emit(models.Event{
		Type: models.EventUniverseStopped, WorkerID: m.workerID, UniverseID: universeID,
		Data:      map[string]any{"reason": "stopped"},
		Timestamp: time.Now().UTC(),
	})
	return true
}

// StopAll stops every active universe and waits for their agent goroutines
// to return — called on worker shutdown, matching manager.py's stop_all.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.universes))
	for id := range m.universes {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.StopUniverse(id)
	}
	m.wg.Wait()
}

// Universe returns the live universe by ID, or false if unknown.
func (m *Manager) Universe(universeID string) (*models.Universe, bool) {
	m.mu.RLock()
	entry, ok := m.universes[universeID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	snapshot := *entry.universe
	snapshot.Agents = make([]*models.Agent, 0, len(entry.agents))
	for _, ae := range entry.agents {
		ae.mu.Lock()
		agentCopy := *ae.agent
		ae.mu.Unlock()
		snapshot.Agents = append(snapshot.Agents, &agentCopy)
	}
	return &snapshot, true
}

// Universes returns every universe this worker currently holds, matching
// GET /universes on the worker surface.
func (m *Manager) Universes() []*models.Universe {
	m.mu.RLock()
	ids := make([]string, 0, len(m.universes))
	for id := range m.universes {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]*models.Universe, 0, len(ids))
	for _, id := range ids {
		if u, ok := m.Universe(id); ok {
			out = append(out, u)
		}
	}
	return out
}

// RunningAgentCount reports the number of agents not yet in a terminal
// status, used by the /info surface and the heartbeat loop to report load.
func (m *Manager) RunningAgentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, entry := range m.universes {
		entry.mu.Lock()
		for _, ae := range entry.agents {
			ae.mu.Lock()
			if !ae.agent.IsTerminal() {
				count++
			}
			ae.mu.Unlock()
		}
		entry.mu.Unlock()
	}
	return count
}

// Status is the /info surface's worker-load summary.
type Status struct {
	ActiveUniverses int `json:"active_universes"`
	RunningAgents   int `json:"running_agents"`
}

// GetStatus returns a load summary, matching manager.py's get_status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	active := 0
	for _, entry := range m.universes {
		entry.mu.Lock()
		if entry.universe.Status == models.UniverseActive {
			active++
		}
		entry.mu.Unlock()
	}
	m.mu.RUnlock()

	return Status{ActiveUniverses: active, RunningAgents: m.RunningAgentCount()}
}
