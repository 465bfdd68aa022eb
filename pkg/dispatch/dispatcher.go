// Package dispatch implements the Dispatcher (spec.md §4.4): selects one
// online worker with free capacity for a universe-launch request and
// forwards the request. The naming of the selection strategy follows
// haasonsaas-nexus's internal/edge/router.go SelectEdge (least-busy
// selection with a deterministic tiebreak), adapted to an HTTP forward
// instead of a gRPC dial.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawuapara/jarvis/pkg/models"
)

// ErrNoWorkerAvailable is returned when no online worker has free capacity.
var ErrNoWorkerAvailable = errors.New("dispatch: no worker available")

// ErrWorkerRejected is returned when the selected worker's /launch returned
// a non-2xx status.
type ErrWorkerRejected struct {
	StatusCode int
	Body       string
}

func (e *ErrWorkerRejected) Error() string {
	return fmt.Sprintf("dispatch: worker rejected launch: %d %s", e.StatusCode, e.Body)
}

const forwardTimeout = 30 * time.Second

// WorkerLister lists online workers with capacity. Implemented by
// *registry.Registry.
type WorkerLister interface {
	ListOnlineWithCapacity(ctx context.Context) ([]models.Worker, error)
}

// Dispatcher is stateless: it selects a worker and forwards the launch
// request, but records nothing. The universe becomes "known" to the
// control plane only once the worker emits universe_created.
type Dispatcher struct {
	lister     WorkerLister
	httpClient *http.Client
}

// New builds a Dispatcher.
func New(lister WorkerLister) *Dispatcher {
	return &Dispatcher{
		lister:     lister,
		httpClient: &http.Client{Timeout: forwardTimeout},
	}
}

// SelectWorker picks the online worker with the lowest current_agents,
// breaking ties by oldest registration — deterministic for test
// reproducibility, per spec.md §4.4.
func SelectWorker(workers []models.Worker) (models.Worker, bool) {
	var best models.Worker
	found := false
	for _, w := range workers {
		if !found {
			best, found = w, true
			continue
		}
		if w.CurrentAgents < best.CurrentAgents {
			best = w
			continue
		}
		if w.CurrentAgents == best.CurrentAgents && w.RegisteredAt.Before(best.RegisteredAt) {
			best = w
		}
	}
	return best, found
}

// Launch selects a worker, augments the prompt with context, forwards the
// launch to the worker's HTTP surface, and returns the dispatch response.
func (d *Dispatcher) Launch(ctx context.Context, req models.LaunchUniverseDispatchRequest) (models.LaunchUniverseDispatchResponse, error) {
	workers, err := d.lister.ListOnlineWithCapacity(ctx)
	if err != nil {
		return models.LaunchUniverseDispatchResponse{}, fmt.Errorf("dispatch: listing workers: %w", err)
	}

	worker, ok := SelectWorker(workers)
	if !ok {
		return models.LaunchUniverseDispatchResponse{}, ErrNoWorkerAvailable
	}

	prompt := augmentPrompt(req.Prompt, req.Context)

	agentName := req.AgentName
	if agentName == "" {
		agentName = "agent"
	}
	agentRole := req.AgentRole
	if agentRole == "" {
		agentRole = "default"
	}

	name := req.Name
	if name == "" {
		name = agentName
	}

	launchBody := models.LaunchUniverseRequest{
		Name: name,
		Agents: []models.LaunchAgentSpec{
			{Name: agentName, Role: agentRole, Model: req.Model, Task: prompt},
		},
	}

	payload, err := json.Marshal(launchBody)
	if err != nil {
		return models.LaunchUniverseDispatchResponse{}, fmt.Errorf("dispatch: marshaling launch body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, worker.Address+"/launch", bytes.NewReader(payload))
	if err != nil {
		return models.LaunchUniverseDispatchResponse{}, fmt.Errorf("dispatch: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return models.LaunchUniverseDispatchResponse{}, fmt.Errorf("dispatch: forwarding launch: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.LaunchUniverseDispatchResponse{}, &ErrWorkerRejected{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var launched struct {
		UniverseID string `json:"universe_id"`
	}
	if err := json.Unmarshal(body, &launched); err != nil {
		return models.LaunchUniverseDispatchResponse{}, fmt.Errorf("dispatch: decoding worker response: %w", err)
	}

	return models.LaunchUniverseDispatchResponse{
		UniverseID:    launched.UniverseID,
		WorkerID:      worker.ID,
		WorkerAddress: worker.Address,
		WorkerName:    worker.Name,
		Name:          name,
	}, nil
}

// augmentPrompt appends context key/value pairs (e.g. project/namespace
// names) to the prompt, matching spec.md §4.4 step 2.
func augmentPrompt(prompt string, context map[string]string) string {
	if len(context) == 0 {
		return prompt
	}
	var b bytes.Buffer
	b.WriteString(prompt)
	for k, v := range context {
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return b.String()
}
