// Package tools implements the Tool Executor (spec.md §4.11): the file,
// shell, and task-creator tools an agent can call mid-turn, grounded on
// original_source/backend/src/worker/tools.py. Tool definitions and
// executors are kept on the standard library (os/exec, path/filepath) —
// DESIGN.md records why no third-party process/sandboxing library from
// the examples fits this concern.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
)

const commandTimeout = 60 * time.Second

// schema is a convenience for building the JSON-schema `input_schema` field
// of a ToolDef without hand-writing json.RawMessage literals inline.
func schema(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// Definitions is the file/shell tool set offered to agents with a
// worktree (spec.md §4.9 tool selection table).
var Definitions = []llmclient.ToolDef{
	{
		Name:        "read_file",
		Description: "Read the contents of a file at the given path.",
		InputSchema: schema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Relative path to the file to read."},
			},
			"required": []string{"path"},
		}),
	},
	{
		Name:        "write_file",
		Description: "Write content to a file at the given path, creating parent directories as needed.",
		InputSchema: schema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Relative path to the file to write."},
				"content": map[string]any{"type": "string", "description": "The content to write to the file."},
			},
			"required": []string{"path", "content"},
		}),
	},
	{
		Name:        "list_files",
		Description: "List files and directories at the given path.",
		InputSchema: schema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Relative path to the directory to list. Defaults to '.' (root).", "default": "."},
			},
		}),
	},
	{
		Name:        "run_command",
		Description: "Run a shell command in the working directory. Returns stdout and stderr.",
		InputSchema: schema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "The shell command to execute."},
			},
			"required": []string{"command"},
		}),
	},
}

// TaskCreatorDefinitions is the single tool offered to task-creator agents.
var TaskCreatorDefinitions = []llmclient.ToolDef{
	{
		Name:        "create_task",
		Description: "Create a new task in Jarvis. Call this when you have gathered enough information from the user to define the task.",
		InputSchema: schema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":           map[string]any{"type": "string", "description": "Clear, concise task title"},
				"description":     map[string]any{"type": "string", "description": "Detailed description of what needs to be done"},
				"priority":        map[string]any{"type": "integer", "description": "Priority 0-100 (50=normal, 75+=high, 25-=low)", "default": 50},
				"tags":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Tags for categorization", "default": []string{}},
				"project":         map[string]any{"type": "string", "description": "Project identifier if mentioned"},
				"estimated_hours": map[string]any{"type": "number", "description": "Estimated hours if discussed"},
			},
			"required": []string{"title", "description"},
		}),
	},
}

// SafeResolve resolves relativePath against worktreePath and rejects any
// result that escapes the worktree root — the path-traversal guard
// original_source calls safe_resolve.
func SafeResolve(worktreePath, relativePath string) (string, error) {
	base, err := filepath.Abs(worktreePath)
	if err != nil {
		return "", err
	}
	target, err := filepath.Abs(filepath.Join(base, relativePath))
	if err != nil {
		return "", err
	}
	if target != base && !strings.HasPrefix(target, base+string(filepath.Separator)) {
		return "", fmt.Errorf("Path traversal blocked: %s", relativePath)
	}
	return target, nil
}

type fileToolInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Command string `json:"command"`
}

// Execute runs one of Definitions against a worktree and returns the
// string result the LLM sees as the tool_result content — errors are
// returned as "Error: ..." strings rather than Go errors, matching
// spec.md §7 item 5.
func Execute(ctx context.Context, name string, input json.RawMessage, worktreePath string) string {
	var in fileToolInput
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Sprintf("Error: invalid tool input: %v", err)
	}

	switch name {
	case "read_file":
		path, err := SafeResolve(worktreePath, in.Path)
		if err != nil {
			return "Error: " + err.Error()
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return "Error: File not found: " + in.Path
		}
		if err != nil {
			return "Error: " + err.Error()
		}
		return string(data)

	case "write_file":
		path, err := SafeResolve(worktreePath, in.Path)
		if err != nil {
			return "Error: " + err.Error()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "Error: " + err.Error()
		}
		if err := os.WriteFile(path, []byte(in.Content), 0o644); err != nil {
			return "Error: " + err.Error()
		}
		return "File written successfully: " + in.Path

	case "list_files":
		rel := in.Path
		if rel == "" {
			rel = "."
		}
		path, err := SafeResolve(worktreePath, rel)
		if err != nil {
			return "Error: " + err.Error()
		}
		entries, err := os.ReadDir(path)
		if os.IsNotExist(err) {
			return "Error: Directory not found: " + rel
		}
		if err != nil {
			return "Error: " + err.Error()
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		if len(names) == 0 {
			return "(empty directory)"
		}
		return strings.Join(names, "\n")

	case "run_command":
		return runCommand(ctx, in.Command, worktreePath)

	default:
		return fmt.Sprintf("Error: Unknown tool '%s'", name)
	}
}

func runCommand(ctx context.Context, command, worktreePath string) string {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = worktreePath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "Error: Command timed out after 60 seconds."
	}

	var result strings.Builder
	result.WriteString(stdout.String())
	if stderr.Len() > 0 {
		result.WriteString("\nSTDERR:\n")
		result.WriteString(stderr.String())
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		fmt.Fprintf(&result, "\n(exit code: %d)", exitErr.ExitCode())
	}

	out := strings.TrimSpace(result.String())
	if out == "" {
		return "(no output)"
	}
	return out
}

type createTaskInput struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       int      `json:"priority"`
	Tags           []string `json:"tags"`
	Project        string   `json:"project,omitempty"`
	EstimatedHours float64  `json:"estimated_hours,omitempty"`
}

type createTaskResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

// ExecuteTaskCreator runs the task-creator tool set, which calls back into
// the backend's `POST /tasks` CRUD surface rather than touching the
// filesystem (spec.md §6, "external collaborators").
func ExecuteTaskCreator(ctx context.Context, name string, input json.RawMessage, apiBase string) string {
	if name != "create_task" {
		return "Unknown tool: " + name
	}

	in := createTaskInput{Priority: 50, Tags: []string{}}
	if err := json.Unmarshal(input, &in); err != nil {
		return fmt.Sprintf("Error creating task: %v", err)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Sprintf("Error creating task: %v", err)
	}

	httpCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(httpCtx, http.MethodPost, apiBase+"/tasks", bytes.NewReader(payload))
	if err != nil {
		return fmt.Sprintf("Error creating task: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error creating task: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("Error creating task: %d", resp.StatusCode)
	}

	var task createTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return fmt.Sprintf("Error creating task: %v", err)
	}

	return fmt.Sprintf("Task created successfully: '%s' (ID: %s, priority: %d)", task.Title, task.ID, task.Priority)
}
