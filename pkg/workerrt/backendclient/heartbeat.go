package backendclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/sawuapara/jarvis/pkg/models"
)

// LoadFunc reports the worker's current agent count for the heartbeat body.
type LoadFunc func() int

// HeartbeatLoop sends periodic heartbeats until ctx is cancelled,
// re-registering whenever a heartbeat fails, matching heartbeat.py's
// heartbeat_loop (any failure — not just 404 — triggers re-registration).
func HeartbeatLoop(ctx context.Context, client *Client, interval time.Duration, registerReq models.RegisterRequest, load LoadFunc) {
	consecutiveFailures := 0

	for {
		ok := client.Heartbeat(ctx, load(), models.WorkerOnline)
		if ok {
			if consecutiveFailures > 0 {
				slog.Info("heartbeat recovered", "after_failures", consecutiveFailures)
			}
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
			if consecutiveFailures >= 3 {
				slog.Warn("heartbeat failing repeatedly", "consecutive_failures", consecutiveFailures)
			}
			slog.Info("attempting re-registration with control plane")
			if _, err := client.Register(ctx, registerReq); err != nil {
				slog.Error("re-registration failed", "error", err)
			} else {
				consecutiveFailures = 0
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
