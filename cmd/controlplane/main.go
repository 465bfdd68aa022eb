// Command controlplane runs the Jarvis control plane: worker registry,
// liveness reaper, credential broker, dispatcher, event fan-out, and
// conversation store, fronted by one HTTP/WebSocket server (spec.md §4),
// grounded on the teacher's cmd/tarsy/main.go startup sequence.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	controlplaneapi "github.com/sawuapara/jarvis/pkg/controlplane/api"
	"github.com/sawuapara/jarvis/pkg/conversations"
	"github.com/sawuapara/jarvis/pkg/credentials"
	"github.com/sawuapara/jarvis/pkg/database"
	"github.com/sawuapara/jarvis/pkg/dispatch"
	"github.com/sawuapara/jarvis/pkg/fanout"
	"github.com/sawuapara/jarvis/pkg/reaper"
	"github.com/sawuapara/jarvis/pkg/registry"
	"github.com/sawuapara/jarvis/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "path to a .env file to load")
	addr := flag.String("addr", getEnv("CONTROLPLANE_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("could not load env file, continuing with process environment", "path", *envFile, "error", err)
	}

	slog.Info("starting control plane", "version", version.Full())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("loading database config", "error", err)
		os.Exit(1)
	}

	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("closing database client", "error", err)
		}
	}()
	slog.Info("connected to database and applied migrations")

	reg := registry.New(dbClient.DB())
	store := conversations.New(dbClient)
	hub := fanout.New(store.PersistEvent)
	dispatcher := dispatch.New(reg)
	secrets := credentials.ChainSecretStore{Stores: []credentials.SecretStore{credentials.EnvSecretStore{}}}

	livenessReaper := reaper.New(reg, reg, reaper.DefaultSweepInterval, reaper.DefaultStaleThreshold)

	server := controlplaneapi.NewServer(dbClient, reg, dispatcher, hub, store, secrets)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return livenessReaper.Run(groupCtx)
	})
	group.Go(func() error {
		slog.Info("control plane HTTP server listening", "addr", *addr)
		if err := server.Start(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	<-groupCtx.Done()
	slog.Info("shutting down control plane")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutting down HTTP server", "error", err)
	}

	if err := group.Wait(); err != nil {
		slog.Error("control plane exited with error", "error", err)
		os.Exit(1)
	}
}
