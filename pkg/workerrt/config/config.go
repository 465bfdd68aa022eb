// Package config loads the worker process's configuration with CLI flag >
// environment variable > default precedence, and persists its stable
// worker id — grounded on
// original_source/backend/src/worker/config.py's WorkerConfig.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Config holds everything a worker process needs to run.
type Config struct {
	WorkerID           string
	APIURL             string
	WorkerName         string
	WorkerAddress      string
	Capacity           int
	Capabilities       []string
	Port               int
	HeartbeatInterval  int // seconds

	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	MaxAgentTurns     int
	MaxToolIterations int
}

const (
	defaultCapacity          = 1024
	defaultPort               = 8100
	defaultHeartbeatInterval  = 30
	defaultMaxAgentTurns      = 10
	defaultMaxToolIterations  = 200
	defaultLLMModel           = "claude-sonnet-4-5-20250929"
	defaultLLMBaseURL         = "https://api.anthropic.com"
)

// Load parses args against CLI flags, falling back to environment
// variables, then hard defaults, and resolves the worker's persistent id.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)

	apiURL := fs.String("api-url", "", "control plane base URL")
	workerName := fs.String("name", "", "worker display name")
	capacity := fs.Int("capacity", 0, "max concurrent agents")
	capabilities := fs.String("capabilities", "", "comma-separated capability list")
	port := fs.Int("port", 0, "local HTTP port")
	heartbeatInterval := fs.Int("heartbeat-interval", 0, "heartbeat interval in seconds")
	llmBaseURL := fs.String("llm-base-url", "", "LLM API base URL")
	llmModel := fs.String("llm-model", "", "LLM model name")
	maxAgentTurns := fs.Int("max-agent-turns", 0, "outer loop turn cap")
	maxToolIterations := fs.Int("max-tool-iterations", 0, "inner loop iteration cap")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		APIURL:            firstNonEmpty(*apiURL, os.Getenv("JARVIS_API_URL"), "http://localhost:8000"),
		WorkerName:        firstNonEmpty(*workerName, os.Getenv("JARVIS_WORKER_NAME"), hostnameOrDefault()),
		Capacity:          firstNonZeroInt(*capacity, envInt("JARVIS_CAPACITY"), defaultCapacity),
		Port:              firstNonZeroInt(*port, envInt("JARVIS_WORKER_PORT"), defaultPort),
		HeartbeatInterval: firstNonZeroInt(*heartbeatInterval, envInt("JARVIS_HEARTBEAT_INTERVAL"), defaultHeartbeatInterval),

		LLMBaseURL: firstNonEmpty(*llmBaseURL, os.Getenv("ANTHROPIC_BASE_URL"), defaultLLMBaseURL),
		LLMAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		LLMModel:   firstNonEmpty(*llmModel, os.Getenv("JARVIS_LLM_MODEL"), defaultLLMModel),

		MaxAgentTurns:     firstNonZeroInt(*maxAgentTurns, envInt("JARVIS_MAX_AGENT_TURNS"), defaultMaxAgentTurns),
		MaxToolIterations: firstNonZeroInt(*maxToolIterations, envInt("JARVIS_MAX_TOOL_ITERATIONS"), defaultMaxToolIterations),
	}

	if *capabilities != "" {
		cfg.Capabilities = strings.Split(*capabilities, ",")
	} else if env := os.Getenv("JARVIS_CAPABILITIES"); env != "" {
		cfg.Capabilities = strings.Split(env, ",")
	} else {
		cfg.Capabilities = []string{"git", "claude-code"}
	}

	cfg.WorkerAddress = firstNonEmpty(os.Getenv("JARVIS_WORKER_ADDRESS"), fmt.Sprintf("http://localhost:%d", cfg.Port))

	id, err := LoadOrCreateWorkerID()
	if err != nil {
		return Config{}, fmt.Errorf("config: resolving worker id: %w", err)
	}
	cfg.WorkerID = id

	return cfg, nil
}

// LoadOrCreateWorkerID reads the worker's stable id from
// ~/.jarvis/worker_id, generating and persisting a fresh UUID on first run.
func LoadOrCreateWorkerID() (string, error) {
	dir, err := jarvisDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("config: creating %s: %w", dir, err)
	}

	idFile := filepath.Join(dir, "worker_id")
	if data, err := os.ReadFile(idFile); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.NewString()
	if err := os.WriteFile(idFile, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("config: writing %s: %w", idFile, err)
	}
	return id, nil
}

func jarvisDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".jarvis"), nil
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker"
	}
	return h
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZeroInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func envInt(name string) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0
	}
	return v
}
