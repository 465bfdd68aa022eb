// Command worker runs one Jarvis worker process: it registers with the
// control plane, heartbeats, serves a local query surface, and runs
// whatever universes/agents the control plane or its own /launch endpoint
// hands it (spec.md §4.7-4.11), grounded on
// original_source/backend/src/worker/__main__.py's startup/shutdown
// sequence.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/sawuapara/jarvis/pkg/version"
	"github.com/sawuapara/jarvis/pkg/workerrt/api"
	"github.com/sawuapara/jarvis/pkg/workerrt/backendclient"
	"github.com/sawuapara/jarvis/pkg/workerrt/config"
	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
	"github.com/sawuapara/jarvis/pkg/workerrt/manager"
)

// defaultCredentialKey is the allow-listed credential name this worker
// resolves through the control plane's Credential Broker when no local
// LLM API key is configured (spec.md §4.3).
const defaultCredentialKey = "ANTHROPIC_API_KEY"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("could not load .env file, continuing with process environment", "error", err)
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("loading worker config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting worker",
		"version", version.Full(),
		"worker_id", cfg.WorkerID,
		"name", cfg.WorkerName,
		"api_url", cfg.APIURL,
		"capacity", cfg.Capacity,
		"port", cfg.Port,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := backendclient.New(cfg.APIURL, cfg.WorkerID)

	registerReq := models.RegisterRequest{
		WorkerID:            cfg.WorkerID,
		Hostname:            cfg.WorkerName,
		WorkerName:          cfg.WorkerName,
		WorkerAddress:       cfg.WorkerAddress,
		MaxConcurrentAgents: cfg.Capacity,
		Capabilities:        cfg.Capabilities,
	}

	regResp, err := client.Register(ctx, registerReq)
	if err != nil {
		slog.Error("registration aborted", "error", err)
		os.Exit(1)
	}

	llmAPIKey := cfg.LLMAPIKey
	var credentialProvider llmclient.CredentialProvider
	if llmAPIKey == "" {
		credentialProvider = func(credCtx context.Context) (string, error) {
			return client.FetchCredential(credCtx, regResp.AuthToken, defaultCredentialKey)
		}
	}

	llm := llmclient.New(cfg.LLMBaseURL, llmAPIKey, cfg.LLMModel, credentialProvider)

	emit := make(chan models.Event, 256)
	mgr := manager.New(cfg.WorkerID, llm, cfg.MaxAgentTurns, cfg.MaxToolIterations, func(evt models.Event) {
		select {
		case emit <- evt:
		default:
			slog.Warn("event stream backlog full, dropping event", "type", evt.Type, "universe_id", evt.UniverseID)
		}
	})

	localServer := api.NewServer(cfg, mgr)

	go backendclient.HeartbeatLoop(ctx, client, time.Duration(cfg.HeartbeatInterval)*time.Second, registerReq, mgr.RunningAgentCount)

	go func() {
		if err := client.StreamEvents(ctx, emit); err != nil && ctx.Err() == nil {
			slog.Error("event stream ended unexpectedly", "error", err)
		}
	}()

	go func() {
		addr := ":" + strconv.Itoa(cfg.Port)
		slog.Info("worker local HTTP server listening", "addr", addr)
		if err := localServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker local HTTP server failed", "error", err)
		}
	}()

	slog.Info("worker is online and ready")
	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := localServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutting down local HTTP server", "error", err)
	}

	mgr.StopAll()
	client.Deregister(context.Background())

	slog.Info("worker stopped")
}
