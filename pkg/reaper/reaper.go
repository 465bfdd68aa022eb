// Package reaper implements the Liveness Reaper (spec.md §4.2): a
// periodic sweep that marks stale workers offline after one best-effort
// direct health ping.
package reaper

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sawuapara/jarvis/pkg/models"
)

const (
	// DefaultSweepInterval is how often the reaper scans for stale workers.
	DefaultSweepInterval = 30 * time.Second
	// DefaultStaleThreshold is how long a worker may go without a
	// heartbeat before it is considered for reaping.
	DefaultStaleThreshold = 90 * time.Second
	// pingTimeout bounds the direct /health request the reaper issues
	// before giving up and marking a worker offline.
	pingTimeout = 5 * time.Second
)

// WorkerLister lists currently known workers. Implemented by *registry.Registry.
type WorkerLister interface {
	List(ctx context.Context, status string) ([]models.Worker, error)
}

// WorkerOfflineMarker transitions or refreshes a worker's liveness state.
// Implemented by *registry.Registry.
type WorkerOfflineMarker interface {
	MarkOffline(ctx context.Context, workerID string) error
	RefreshHeartbeat(ctx context.Context, workerID string) error
}

// Reaper owns the periodic sweep.
type Reaper struct {
	lister         WorkerLister
	marker         WorkerOfflineMarker
	httpClient     *http.Client
	sweepInterval  time.Duration
	staleThreshold time.Duration
}

// New builds a Reaper with the given sweep interval and stale threshold;
// zero values fall back to the spec.md §4.2 defaults.
func New(lister WorkerLister, marker WorkerOfflineMarker, sweepInterval, staleThreshold time.Duration) *Reaper {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	return &Reaper{
		lister:         lister,
		marker:         marker,
		httpClient:     &http.Client{Timeout: pingTimeout},
		sweepInterval:  sweepInterval,
		staleThreshold: staleThreshold,
	}
}

// Run blocks, sweeping every sweepInterval, until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep runs one pass. It is an unexported method so the package's own
// tests can call it directly rather than waiting a full interval.
func (r *Reaper) sweep(ctx context.Context) {
	workers, err := r.lister.List(ctx, "")
	if err != nil {
		slog.Error("reaper: listing workers failed", "error", err)
		return
	}

	now := time.Now()
	for _, w := range workers {
		if w.Status == models.WorkerOffline {
			continue
		}
		if now.Sub(w.LastHeartbeatAt) <= r.staleThreshold {
			continue
		}
		r.reap(ctx, w)
	}
}

func (r *Reaper) reap(ctx context.Context, w models.Worker) {
	if w.Address != "" && r.ping(ctx, w.Address) {
		if err := r.marker.RefreshHeartbeat(ctx, w.ID); err != nil {
			slog.Error("reaper: refreshing heartbeat after ping-save failed", "worker_id", w.ID, "error", err)
		} else {
			slog.Info("reaper: ping-save, worker still alive", "worker_id", w.ID)
		}
		return
	}

	if err := r.marker.MarkOffline(ctx, w.ID); err != nil {
		slog.Error("reaper: marking worker offline failed", "worker_id", w.ID, "error", err)
		return
	}
	slog.Warn("reaper: worker marked offline", "worker_id", w.ID, "last_heartbeat_at", w.LastHeartbeatAt)
}

// ping issues a direct GET {address}/health with a short timeout, and
// reports whether it returned 200.
func (r *Reaper) ping(ctx context.Context, address string) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
