package models

import "time"

// Event type constants. This is the exact, closed set of values spec.md
// §6 allows on a worker's event stream frame.
const (
	EventUniverseCreated = "universe_created"
	EventUniverseStopped = "universe_stopped"
	EventAgentStarted    = "agent_started"
	EventAgentDone       = "agent_done"
	EventAgentError      = "agent_error"
	EventTurnStart       = "turn_start"
	EventTurnEnd         = "turn_end"
	EventLLMResponse     = "llm_response"
	EventToolCall        = "tool_call"
	EventToolResult      = "tool_result"
	EventIterationDetail = "iteration_detail"
)

// Event is one frame on WS /ws/worker/{worker_id}, and the verbatim shape
// relayed to dashboard subscribers on WS /ws/universes.
type Event struct {
	Type        string         `json:"type"`
	WorkerID    string         `json:"worker_id"`
	UniverseID  string         `json:"universe_id"`
	AgentID     string         `json:"agent_id,omitempty"`
	AgentName   string         `json:"agent_name,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// SnapshotEvent is the first frame the control plane sends a new
// WS /ws/universes subscriber.
type SnapshotEvent struct {
	Type      string              `json:"type"`
	Universes []*UniverseCacheRow `json:"universes"`
}

// UniverseCacheRow is one entry of the control plane's in-memory universe
// cache (spec.md §4.5). It is soft state: empty after a control-plane
// restart, rebuilt only as new events arrive.
type UniverseCacheRow struct {
	ID           string               `json:"id"`
	Status       UniverseStatus       `json:"status"`
	StateVersion int                  `json:"state_version"`
	WorkerID     string               `json:"worker_id"`
	Agents       map[string]*AgentCacheRow `json:"agents"`
}

// AgentCacheRow is the cached projection of one agent within a cached universe.
type AgentCacheRow struct {
	ID           string      `json:"id"`
	Status       AgentStatus `json:"status"`
	CurrentTurn  int         `json:"current_turn"`
	ErrorMessage string      `json:"error_message,omitempty"`
}
