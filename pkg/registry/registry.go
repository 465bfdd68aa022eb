// Package registry implements the Worker Registry (spec.md §4.1): the
// persistent catalog of workers keyed by stable worker id, grounded on
// original_source/backend/src/api/workers.py's upsert-by-id SQL.
package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sawuapara/jarvis/pkg/models"
)

// ErrNotFound is returned when a worker id has no matching row.
var ErrNotFound = errors.New("registry: worker not found")

// Registry persists and queries worker rows.
type Registry struct {
	db *sql.DB
}

// New wraps a *sql.DB (from a *database.Client) for registry queries.
func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Register upserts a worker by id (if supplied) and always issues a fresh
// auth token; the store keeps only its hash. The returned token is
// plaintext and is never recoverable again — callers must surface it to
// the caller of this operation immediately.
func (r *Registry) Register(ctx context.Context, req models.RegisterRequest) (models.RegisterResponse, error) {
	rawToken, err := generateToken()
	if err != nil {
		return models.RegisterResponse{}, fmt.Errorf("registry: generating token: %w", err)
	}
	tokenHash := hashToken(rawToken)

	capsJSON, err := json.Marshal(req.Capabilities)
	if err != nil {
		return models.RegisterResponse{}, fmt.Errorf("registry: marshaling capabilities: %w", err)
	}

	id := req.WorkerID
	if id == "" {
		id = uuid.NewString()
	}

	const upsertQuery = `
		INSERT INTO orchestration.workers
			(id, hostname, name, address, max_concurrent_agents, capabilities, status, last_heartbeat_at, auth_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, 'online', NOW(), $7)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			max_concurrent_agents = EXCLUDED.max_concurrent_agents,
			capabilities = EXCLUDED.capabilities,
			status = 'online',
			last_heartbeat_at = NOW(),
			current_agents = 0,
			auth_token_hash = EXCLUDED.auth_token_hash,
			updated_at = NOW()
		RETURNING id, hostname, name, address, max_concurrent_agents, current_agents,
			capabilities, status, last_heartbeat_at, registered_at, updated_at
	`

	row := r.db.QueryRowContext(ctx, upsertQuery,
		id, req.Hostname, req.WorkerName, req.WorkerAddress,
		req.MaxConcurrentAgents, capsJSON, tokenHash,
	)

	w, err := scanWorker(row)
	if err != nil {
		return models.RegisterResponse{}, fmt.Errorf("registry: registering worker: %w", err)
	}

	return models.RegisterResponse{Worker: w, AuthToken: rawToken}, nil
}

// Heartbeat updates load, status, and last_heartbeat_at for a known worker.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, req models.HeartbeatRequest) (models.Worker, error) {
	status := req.Status
	if status != models.WorkerOnline && status != models.WorkerOffline {
		status = models.WorkerOnline
	}

	const query = `
		UPDATE orchestration.workers
		SET last_heartbeat_at = NOW(), current_agents = $2, status = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id, hostname, name, address, max_concurrent_agents, current_agents,
			capabilities, status, last_heartbeat_at, registered_at, updated_at
	`
	row := r.db.QueryRowContext(ctx, query, workerID, req.CurrentAgents, status)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worker{}, ErrNotFound
	}
	if err != nil {
		return models.Worker{}, fmt.Errorf("registry: heartbeat: %w", err)
	}
	return w, nil
}

// Deregister sets a worker offline. Best-effort: deregistering an already
// offline worker is not an error, only an unknown id is.
func (r *Registry) Deregister(ctx context.Context, workerID string) error {
	const query = `UPDATE orchestration.workers SET status = 'offline', updated_at = NOW() WHERE id = $1 RETURNING id`
	var returnedID string
	err := r.db.QueryRowContext(ctx, query, workerID).Scan(&returnedID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// MarkOffline is used by the Liveness Reaper to mark a stale worker offline
// without touching last_heartbeat_at.
func (r *Registry) MarkOffline(ctx context.Context, workerID string) error {
	const query = `UPDATE orchestration.workers SET status = 'offline', updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, workerID)
	return err
}

// RefreshHeartbeat is used by the Liveness Reaper after a successful direct
// health ping, to avoid prematurely marking a live-but-unreachable-over-
// heartbeat worker offline.
func (r *Registry) RefreshHeartbeat(ctx context.Context, workerID string) error {
	const query = `UPDATE orchestration.workers SET last_heartbeat_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, workerID)
	return err
}

// Get returns one worker by id.
func (r *Registry) Get(ctx context.Context, workerID string) (models.Worker, error) {
	const query = `
		SELECT id, hostname, name, address, max_concurrent_agents, current_agents,
			capabilities, status, last_heartbeat_at, registered_at, updated_at
		FROM orchestration.workers WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, workerID)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worker{}, ErrNotFound
	}
	return w, err
}

// List returns all workers, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status string) ([]models.Worker, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, hostname, name, address, max_concurrent_agents, current_agents,
				capabilities, status, last_heartbeat_at, registered_at, updated_at
			FROM orchestration.workers WHERE status = $1 ORDER BY registered_at DESC
		`, status)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT id, hostname, name, address, max_concurrent_agents, current_agents,
				capabilities, status, last_heartbeat_at, registered_at, updated_at
			FROM orchestration.workers ORDER BY registered_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: listing workers: %w", err)
	}
	defer rows.Close()

	var out []models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: scanning worker row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListOnlineWithCapacity returns online workers with current_agents below
// capacity, used by the Dispatcher (spec.md §4.4).
func (r *Registry) ListOnlineWithCapacity(ctx context.Context) ([]models.Worker, error) {
	all, err := r.List(ctx, string(models.WorkerOnline))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, w := range all {
		if w.CurrentAgents < w.MaxConcurrentAgents {
			out = append(out, w)
		}
	}
	return out, nil
}

// AuthenticateByTokenHash looks up the worker owning the given plaintext
// token, used by the Credential Broker (spec.md §4.3). Comparison is by
// hash only; the plaintext token is never stored.
func (r *Registry) AuthenticateByTokenHash(ctx context.Context, plaintextToken string) (models.Worker, error) {
	hash := hashToken(plaintextToken)
	const query = `SELECT id, status FROM orchestration.workers WHERE auth_token_hash = $1`
	var w models.Worker
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&w.ID, &w.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Worker{}, ErrNotFound
	}
	return w, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorker(row scanner) (models.Worker, error) {
	var w models.Worker
	var capsJSON []byte
	err := row.Scan(
		&w.ID, &w.Hostname, &w.Name, &w.Address, &w.MaxConcurrentAgents, &w.CurrentAgents,
		&capsJSON, &w.Status, &w.LastHeartbeatAt, &w.RegisteredAt, &w.UpdatedAt,
	)
	if err != nil {
		return models.Worker{}, err
	}
	if len(capsJSON) > 0 {
		if err := json.Unmarshal(capsJSON, &w.Capabilities); err != nil {
			return models.Worker{}, fmt.Errorf("unmarshaling capabilities: %w", err)
		}
	}
	return w, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
