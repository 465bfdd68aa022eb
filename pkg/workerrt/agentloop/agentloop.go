// Package agentloop implements the Agent Loop (spec.md §4.9): an outer
// loop of up to max_turns turns, each running an inner tool-use loop of up
// to max_iterations LLM round-trips, grounded on
// original_source/backend/src/worker/agent_loop.py's run_agent and
// run_tool_use_loop.
//
// Unlike the original's single-threaded asyncio coroutine, one Run call
// here executes on its own goroutine; all universe state it reads is
// handed in through caller-supplied accessors so the caller (the Universe
// Manager) remains the single owner of that state's locking.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawuapara/jarvis/pkg/models"
	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
	"github.com/sawuapara/jarvis/pkg/workerrt/tools"
)

const defaultMaxTokens = 4096

// Emit pushes one event to the worker's event stream.
type Emit func(evt models.Event)

// Task describes one agent's run: its identity, its universe's read-only
// context, and the callbacks the manager uses to keep its own cache (agent
// status/turn, universe state_version) in step with this run's progress.
type Task struct {
	AgentID      string
	AgentName    string
	AgentRole    string
	Model        string
	TaskPrompt   string
	UniverseID   string
	UniverseName string
	WorktreePath string
	APIBase      string

	// GetState returns a read-only snapshot of the universe's shared
	// state bag, consulted at the start of every turn.
	GetState func() models.StateBag
	// BumpStateVersion increments and returns the universe's state
	// version, called once per completed turn.
	BumpStateVersion func() int
	// OnTurn is called with the 1-based turn number as each turn starts,
	// so the manager can update its agent cache's CurrentTurn field.
	OnTurn func(turn int)
}

// Result is what Run returns once the agent reaches a terminal status.
type Result struct {
	Status       models.AgentStatus
	FinalTurn    int
	ErrorMessage string
}

// Run executes the outer/inner loop for one agent until it completes,
// errors, or ctx is cancelled.
func Run(ctx context.Context, llm *llmclient.Client, maxTurns, maxIterations int, task Task, emit Emit) Result {
	emit(models.Event{
		Type: models.EventAgentStarted, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
		Data: map[string]any{"role": task.AgentRole, "model": task.Model},
	})

	var persistentMessages []llmclient.Message
	if task.AgentRole == models.RoleTaskCreator {
		persistentMessages = []llmclient.Message{{Role: "user", Content: task.TaskPrompt}}
	}

	finalTurn := 0
	for turn := 1; turn <= maxTurns; turn++ {
		finalTurn = turn
		if ctx.Err() != nil {
			return Result{Status: models.AgentPaused, FinalTurn: finalTurn}
		}

		if task.OnTurn != nil {
			task.OnTurn(turn)
		}
		emit(models.Event{
			Type: models.EventTurnStart, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
			Data: map[string]any{"turn": turn, "max_turns": maxTurns},
		})

		state := task.GetState()
		system := buildSystemPrompt(task, turn, maxTurns, state)

		var messages []llmclient.Message
		if task.AgentRole == models.RoleTaskCreator {
			messages = persistentMessages
		} else {
			messages = []llmclient.Message{{Role: "user", Content: task.TaskPrompt}}
		}

		finalMessages, loopErr := runToolUseLoop(ctx, llm, maxIterations, task, turn, system, messages, emit)
		if loopErr != nil {
			if llmclient.IsCanceled(loopErr) || ctx.Err() != nil {
				return Result{Status: models.AgentPaused, FinalTurn: finalTurn}
			}
			emit(models.Event{
				Type: models.EventAgentError, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
				Data: map[string]any{"error": loopErr.Error()},
			})
			return Result{Status: models.AgentError, FinalTurn: finalTurn, ErrorMessage: loopErr.Error()}
		}

		if task.AgentRole == models.RoleTaskCreator {
			persistentMessages = finalMessages
		}

		version := 0
		if task.BumpStateVersion != nil {
			version = task.BumpStateVersion()
		}
		emit(models.Event{
			Type: models.EventTurnEnd, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
			Data: map[string]any{"turn": turn, "state_version": version},
		})

		if !lastAssistantRequestedTool(finalMessages) {
			break
		}
	}

	emit(models.Event{
		Type: models.EventAgentDone, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
		Data: map[string]any{"final_turn": finalTurn},
	})
	return Result{Status: models.AgentCompleted, FinalTurn: finalTurn}
}

// buildSystemPrompt mirrors run_agent's per-role prompt templates, folding
// in the state bag's context summary and last five decisions.
func buildSystemPrompt(task Task, turn, maxTurns int, state models.StateBag) string {
	var stateSummary string
	if state.ContextSummary != "" {
		stateSummary += "\n\nCurrent context: " + state.ContextSummary
	}
	if recent := state.RecentDecisions(5); len(recent) > 0 {
		stateSummary += "\n\nRecent decisions:\n"
		for _, d := range recent {
			stateSummary += "- " + d + "\n"
		}
	}

	if task.AgentRole == models.RoleTaskCreator {
		return fmt.Sprintf(
			"You are a task creation assistant for Jarvis, an AI-powered project management system.\n\n"+
				"Help the user define a clear task. Gather: title, description, priority (0-100), "+
				"project, tags, and estimate if mentioned.\n"+
				"When you have enough information, use the create_task tool to create the task.\n"+
				"Be conversational but efficient.\n"+
				"Turn %d of %d.%s", turn, maxTurns, stateSummary)
	}

	return fmt.Sprintf(
		"You are %s, a %s agent working in the '%s' universe.\n"+
			"Turn %d of %d.\n"+
			"You have tools to read/write files, list directories, and run commands.\n"+
			"Complete your task, then stop when done.%s",
		task.AgentName, task.AgentRole, task.UniverseName, turn, maxTurns, stateSummary)
}

// lastAssistantRequestedTool reports whether the final assistant message
// contained a tool_use block — if not, the agent signaled it is done for
// this turn and the outer loop breaks early (spec.md §4.9, Open Question
// #1: "completed" either way).
func lastAssistantRequestedTool(messages []llmclient.Message) bool {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "assistant" {
			continue
		}
		blocks, ok := messages[i].Content.([]llmclient.ContentBlock)
		if !ok {
			return false
		}
		for _, b := range blocks {
			if b.Type == "tool_use" {
				return true
			}
		}
		return false
	}
	return false
}

// runToolUseLoop is the inner loop: call the LLM, execute any requested
// tools, append results, repeat until the LLM stops with any stop reason
// other than tool_use, or the iteration cap is reached.
func runToolUseLoop(ctx context.Context, llm *llmclient.Client, maxIterations int, task Task, turnNumber int, system string, messages []llmclient.Message, emit Emit) ([]llmclient.Message, error) {
	var toolDefs []llmclient.ToolDef
	switch {
	case task.AgentRole == models.RoleTaskCreator:
		toolDefs = tools.TaskCreatorDefinitions
	case task.WorktreePath != "":
		toolDefs = tools.Definitions
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if ctx.Err() != nil {
			return messages, ctx.Err()
		}

		messagesSnapshot := append([]llmclient.Message(nil), messages...)
		iterationStart := time.Now().UTC()

		resp, err := llm.Chat(ctx, llmclient.ChatRequest{
			Model:     task.Model,
			System:    system,
			Messages:  messages,
			Tools:     toolDefs,
			MaxTokens: defaultMaxTokens,
		})
		if err != nil {
			return messages, err
		}

		messages = append(messages, llmclient.Message{Role: "assistant", Content: resp.Content})

		emit(models.Event{
			Type: models.EventLLMResponse, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
			Data: map[string]any{
				"text":        truncate(resp.TextContent(), 500),
				"usage":       resp.Usage,
				"stop_reason": resp.StopReason,
				"iteration":   iteration,
			},
		})

		if resp.StopReason != "tool_use" {
			emitIterationDetail(emit, task, turnNumber, iteration, system, messagesSnapshot, toolDefs, resp, nil, iterationStart)
			break
		}

		toolResults, collected := executeToolCalls(ctx, task, resp.Content, iteration, emit)
		if len(toolResults) > 0 {
			messages = append(messages, llmclient.Message{Role: "user", Content: toolResults})
		}

		emitIterationDetail(emit, task, turnNumber, iteration, system, messagesSnapshot, toolDefs, resp, collected, iterationStart)
	}

	return messages, nil
}

func executeToolCalls(ctx context.Context, task Task, blocks []llmclient.ContentBlock, iteration int, emit Emit) ([]llmclient.ContentBlock, []map[string]any) {
	var results []llmclient.ContentBlock
	var collected []map[string]any

	for _, block := range blocks {
		if block.Type != "tool_use" {
			continue
		}

		emit(models.Event{
			Type: models.EventToolCall, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
			Data: map[string]any{"tool": block.Name, "input": json.RawMessage(block.Input), "iteration": iteration},
		})

		var result string
		switch {
		case task.AgentRole == models.RoleTaskCreator:
			result = tools.ExecuteTaskCreator(ctx, block.Name, block.Input, task.APIBase)
		case task.WorktreePath != "":
			result = tools.Execute(ctx, block.Name, block.Input, task.WorktreePath)
		default:
			result = "Error: No tools configured for this universe."
		}

		emit(models.Event{
			Type: models.EventToolResult, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
			Data: map[string]any{"tool": block.Name, "result": truncate(result, 500), "iteration": iteration},
		})

		results = append(results, llmclient.ContentBlock{Type: "tool_result", ToolUseID: block.ID, Content: result})
		collected = append(collected, map[string]any{"name": block.Name, "input": json.RawMessage(block.Input), "result": truncate(result, 1000)})
	}

	return results, collected
}

func emitIterationDetail(emit Emit, task Task, turnNumber, iteration int, system string, messagesSnapshot []llmclient.Message, toolDefs []llmclient.ToolDef, resp llmclient.ChatResponse, toolCalls []map[string]any, startedAt time.Time) {
	if toolCalls == nil {
		toolCalls = []map[string]any{}
	}
	emit(models.Event{
		Type: models.EventIterationDetail, UniverseID: task.UniverseID, AgentID: task.AgentID, AgentName: task.AgentName,
		Data: map[string]any{
			"turn_number":      turnNumber,
			"iteration":        iteration,
			"system_prompt":    system,
			"messages_sent":    messagesSnapshot,
			"tools_available":  toolDefs,
			"model":            task.Model,
			"max_tokens":       defaultMaxTokens,
			"response_content": resp.Content,
			"stop_reason":      resp.StopReason,
			"usage":            resp.Usage,
			"tool_calls":       toolCalls,
			"started_at":       startedAt.Format(time.RFC3339Nano),
			"duration_ms":      time.Since(startedAt).Milliseconds(),
		},
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
