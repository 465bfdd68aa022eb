package models

// AgentStatus is the lifecycle state of one agent inside a universe.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentRunning   AgentStatus = "running"
	AgentPaused    AgentStatus = "paused"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// RoleTaskCreator is the only role that gets the task-creation tool instead
// of file/shell tools (spec.md §4.9 tool selection table).
const RoleTaskCreator = "task-creator"

// Agent is one LLM-driven execution inside a universe.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Model       string      `json:"model"`
	Status      AgentStatus `json:"status"`
	CurrentTurn int         `json:"current_turn"`
	TaskPrompt  string      `json:"task_prompt"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// IsTerminal reports whether the agent has reached a final status.
func (a *Agent) IsTerminal() bool {
	switch a.Status {
	case AgentCompleted, AgentError, AgentPaused:
		return true
	default:
		return false
	}
}

// AddAgentRequest is the body of POST /universes/{id}/agents on the worker
// surface.
type AddAgentRequest struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Model string `json:"model,omitempty"`
	Task  string `json:"task"`
}
