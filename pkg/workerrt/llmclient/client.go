// Package llmclient is a thin HTTP wrapper over an Anthropic-Messages-
// compatible LLM endpoint (spec.md §4.10), grounded on
// original_source/backend/src/worker/llm_client.py: a cached API key with
// a credential-provider callback, and a one-shot 401 retry.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// IsCanceled reports whether err resulted from context cancellation or a
// deadline during an in-flight Chat call, as opposed to a genuine HTTP or
// LLM-API failure — the agent loop's suspension-point check (spec.md §184,
// §239-240).
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

const (
	defaultMaxTokens = 4096
	requestTimeout   = 120 * time.Second
)

// ContentBlock is one block of an Anthropic-style message: text, tool_use,
// or (on the way back in) tool_result.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

// Message is one turn of the conversation sent to the LLM. Content is
// either a plain string (the initial task prompt) or a []ContentBlock
// (assistant responses and tool-result turns), matching the Anthropic
// wire format's polymorphic content field.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ToolDef is a tool's JSON-schema description, as sent in the request body.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Usage carries token accounting reported by the LLM.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatRequest is the input to Client.Chat.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// ChatResponse is the parsed response of one LLM call.
type ChatResponse struct {
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
	Usage      Usage          `json:"usage"`
}

// TextContent concatenates every text block in the response, matching the
// agent loop's llm_response event summary.
func (r ChatResponse) TextContent() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// CredentialProvider resolves a fresh API key, called on the first chat
// request with an empty cached key and again on a 401 response — the
// worker's counterpart to the control plane's Credential Broker endpoint.
type CredentialProvider func(ctx context.Context) (string, error)

// Client is a chat-completions client for one LLM base URL.
type Client struct {
	baseURL            string
	defaultModel       string
	credentialProvider CredentialProvider
	httpClient         *http.Client

	mu     sync.Mutex
	apiKey string
}

// New builds a Client. apiKey may be empty if a CredentialProvider is set.
func New(baseURL, apiKey, defaultModel string, credentialProvider CredentialProvider) *Client {
	return &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		apiKey:              apiKey,
		defaultModel:       defaultModel,
		credentialProvider: credentialProvider,
		httpClient:         &http.Client{Timeout: requestTimeout},
	}
}

// DefaultModel returns the client's configured default model.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

func (c *Client) apiKeyOrRefresh(ctx context.Context, forceRefresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.apiKey != "" && !forceRefresh {
		return c.apiKey, nil
	}
	if c.credentialProvider == nil {
		return c.apiKey, nil
	}

	key, err := c.credentialProvider(ctx)
	if err != nil {
		return "", fmt.Errorf("llmclient: refreshing credential: %w", err)
	}
	c.apiKey = key
	return c.apiKey, nil
}

// Chat sends one chat-completion request. On a 401 response with a
// credential provider configured, it refreshes the key once and retries;
// a second 401 is returned to the caller as an error (spec.md §7 item 2).
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	body := map[string]any{
		"model":      model,
		"messages":   req.Messages,
		"max_tokens": maxTokens,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("llmclient: marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		apiKey, err := c.apiKeyOrRefresh(ctx, attempt > 0)
		if err != nil {
			return ChatResponse{}, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
		if err != nil {
			return ChatResponse{}, fmt.Errorf("llmclient: building request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("anthropic-version", "2023-06-01")
		if apiKey != "" {
			httpReq.Header.Set("x-api-key", apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ChatResponse{}, fmt.Errorf("llmclient: request canceled: %w", ctxErr)
			}
			return ChatResponse{}, fmt.Errorf("llmclient: request failed: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && c.credentialProvider != nil {
			resp.Body.Close()
			lastErr = fmt.Errorf("llmclient: unauthorized, retrying with refreshed credential")
			continue
		}

		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("llmclient: reading response: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return ChatResponse{}, fmt.Errorf("llmclient: LLM API returned %d: %s", resp.StatusCode, string(respBody))
		}

		var parsed ChatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return ChatResponse{}, fmt.Errorf("llmclient: decoding response: %w", err)
		}
		return parsed, nil
	}

	return ChatResponse{}, fmt.Errorf("llmclient: unauthorized after credential refresh: %w", lastErr)
}
