package llmclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sawuapara/jarvis/pkg/workerrt/llmclient"
	"github.com/stretchr/testify/require"
)

func TestChatSendsHeadersAndParsesResponse(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(llmclient.ChatResponse{
			StopReason: "end_turn",
			Content:    []llmclient.ContentBlock{{Type: "text", Text: "hi there"}},
			Usage:      llmclient.Usage{InputTokens: 5, OutputTokens: 7},
		})
	}))
	defer srv.Close()

	c := llmclient.New(srv.URL, "static-key", "claude-sonnet", nil)
	resp, err := c.Chat(context.Background(), llmclient.ChatRequest{
		Messages: []llmclient.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	require.Equal(t, "static-key", gotKey)
	require.Equal(t, "end_turn", resp.StopReason)
	require.Equal(t, "hi there", resp.TextContent())
	require.Equal(t, 5, resp.Usage.InputTokens)
}

func TestChatRefreshesCredentialOn401(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("x-api-key") == "stale" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(llmclient.ChatResponse{StopReason: "end_turn"})
	}))
	defer srv.Close()

	refreshed := false
	provider := func(context.Context) (string, error) {
		refreshed = true
		return "fresh", nil
	}

	c := llmclient.New(srv.URL, "stale", "claude-sonnet", provider)
	_, err := c.Chat(context.Background(), llmclient.ChatRequest{
		Messages: []llmclient.Message{{Role: "user", Content: "hello"}},
	})
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, 2, calls)
}

func TestChatFailsAfterSecondUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider := func(context.Context) (string, error) { return "still-bad", nil }
	c := llmclient.New(srv.URL, "stale", "claude-sonnet", provider)
	_, err := c.Chat(context.Background(), llmclient.ChatRequest{
		Messages: []llmclient.Message{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
}
