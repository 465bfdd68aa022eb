// Package models defines the domain types shared across the control plane
// and the worker runtime: workers, universes, agents, conversations and
// turns. These are plain structs — persistence concerns live in
// pkg/database, pkg/registry and pkg/conversations.
package models

import "time"

// WorkerStatus is the liveness state of a registered worker.
type WorkerStatus string

const (
	WorkerOnline  WorkerStatus = "online"
	WorkerOffline WorkerStatus = "offline"
)

// Worker is the unit of capacity the control plane dispatches universes to.
type Worker struct {
	ID                  string       `json:"id"`
	Hostname            string       `json:"hostname"`
	Name                string       `json:"name"`
	Address             string       `json:"address"`
	MaxConcurrentAgents int          `json:"max_concurrent_agents"`
	CurrentAgents       int          `json:"current_agents"`
	Capabilities        []string     `json:"capabilities"`
	Status              WorkerStatus `json:"status"`
	LastHeartbeatAt      time.Time    `json:"last_heartbeat_at"`
	AuthTokenHash       string       `json:"-"`
	RegisteredAt        time.Time    `json:"registered_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// HasCapacity reports whether the worker can accept one more agent.
func (w *Worker) HasCapacity() bool {
	return w.Status == WorkerOnline && w.CurrentAgents < w.MaxConcurrentAgents
}

// RegisterRequest is the body of POST /api/workers/register.
type RegisterRequest struct {
	WorkerID            string   `json:"worker_id,omitempty"`
	Hostname            string   `json:"hostname"`
	WorkerName          string   `json:"worker_name,omitempty"`
	WorkerAddress       string   `json:"worker_address,omitempty"`
	MaxConcurrentAgents int      `json:"max_concurrent_agents"`
	Capabilities        []string `json:"capabilities"`
}

// RegisterResponse carries the plaintext auth token, returned exactly once.
type RegisterResponse struct {
	Worker
	AuthToken string `json:"auth_token"`
}

// HeartbeatRequest is the body of POST /api/workers/{id}/heartbeat.
type HeartbeatRequest struct {
	CurrentAgents int          `json:"current_agents"`
	Status        WorkerStatus `json:"status"`
}
