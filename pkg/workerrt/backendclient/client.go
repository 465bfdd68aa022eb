// Package backendclient is the worker's HTTP+WebSocket client for the
// control plane: registration, heartbeat, deregistration, and the event
// stream, grounded on original_source/backend/src/worker/client.py and
// heartbeat.py.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/sawuapara/jarvis/pkg/models"
)

const (
	registerBackoffStart = 1 * time.Second
	registerBackoffMax   = 60 * time.Second
	heartbeatTimeout     = 10 * time.Second
	deregisterTimeout    = 5 * time.Second
	// eventStreamBackoff is the worker's reconnect delay after a dial
	// failure or a broken event-stream connection (spec.md §156).
	eventStreamBackoff = 5 * time.Second
)

// Client talks to the control plane on behalf of one worker process.
type Client struct {
	baseURL    string
	workerID   string
	httpClient *http.Client
}

// New builds a Client for the given control-plane base URL.
func New(baseURL, workerID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		workerID:   workerID,
		httpClient: &http.Client{Timeout: heartbeatTimeout},
	}
}

// Register posts this worker's identity to the control plane, retrying
// with exponential backoff (1s, capped at 60s) until it succeeds or ctx is
// cancelled, matching client.py's register.
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.RegisterResponse, error) {
	delay := registerBackoffStart

	for {
		resp, err := c.tryRegister(ctx, req)
		if err == nil {
			slog.Info("registered with control plane", "worker_id", resp.ID)
			return resp, nil
		}

		slog.Warn("registration failed, retrying", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return models.RegisterResponse{}, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > registerBackoffMax {
			delay = registerBackoffMax
		}
	}
}

func (c *Client) tryRegister(ctx context.Context, req models.RegisterRequest) (models.RegisterResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return models.RegisterResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workers/register", bytes.NewReader(payload))
	if err != nil {
		return models.RegisterResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return models.RegisterResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.RegisterResponse{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return models.RegisterResponse{}, fmt.Errorf("backendclient: register returned %d: %s", resp.StatusCode, string(body))
	}

	var out models.RegisterResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.RegisterResponse{}, err
	}
	return out, nil
}

// Heartbeat reports liveness and current load. It returns false (never an
// error) on any failure, including a 404 meaning the control plane has
// forgotten this worker — the caller re-registers in that case, matching
// heartbeat.py's behavior of treating every heartbeat failure the same way.
func (c *Client) Heartbeat(ctx context.Context, currentAgents int, status models.WorkerStatus) bool {
	payload, err := json.Marshal(models.HeartbeatRequest{CurrentAgents: currentAgents, Status: status})
	if err != nil {
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workers/"+c.workerID+"/heartbeat", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		slog.Warn("heartbeat failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("heartbeat got 404, worker not found on control plane")
		return false
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Deregister is a best-effort notification on shutdown; all errors are
// swallowed, matching client.py's deregister.
func (c *Client) Deregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, deregisterTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/workers/"+c.workerID+"/deregister", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("deregister failed (best-effort)", "error", err)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

// FetchCredential resolves one allow-listed credential name through the
// control plane's Credential Broker, authenticating with this worker's own
// bearer token — the llmclient.CredentialProvider a worker process wires
// into its LLM client.
func (c *Client) FetchCredential(ctx context.Context, authToken, keyName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/workers/credentials/"+keyName, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backendclient: credential lookup for %q returned %d: %s", keyName, resp.StatusCode, string(body))
	}

	var out struct {
		KeyValue string `json:"key_value"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.KeyValue, nil
}

// wsURL turns the control plane's HTTP(S) base URL into its ws(s):// event
// stream endpoint for this worker.
func (c *Client) wsURL() string {
	url := c.baseURL + "/ws/worker/" + c.workerID
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	default:
		return url
	}
}

// StreamEvents dials the control plane's worker event-stream endpoint and
// forwards every event off the channel until ctx is cancelled or the
// channel is closed. On a send failure the event that failed is held in a
// one-event pending slot, the connection is redialed, and that event is
// sent first on the new connection, so events are never silently dropped.
func (c *Client) StreamEvents(ctx context.Context, events <-chan models.Event) error {
	var pending *models.Event

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.Dial(ctx, c.wsURL(), nil)
		if err != nil {
			slog.Warn("event stream dial failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(eventStreamBackoff):
			}
			continue
		}

		if brokenErr := c.drainToConnection(ctx, conn, events, &pending); brokenErr != nil {
			conn.Close(websocket.StatusInternalError, "send failed")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("event stream connection broke, reconnecting", "error", brokenErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(eventStreamBackoff):
			}
			continue
		}

		conn.Close(websocket.StatusNormalClosure, "")
		return nil
	}
}

func (c *Client) drainToConnection(ctx context.Context, conn *websocket.Conn, events <-chan models.Event, pending **models.Event) error {
	for {
		var evt models.Event
		if *pending != nil {
			evt = **pending
			*pending = nil
		} else {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				evt = e
			}
		}

		payload, err := json.Marshal(evt)
		if err != nil {
			slog.Error("dropping unmarshalable event", "error", err, "type", evt.Type)
			continue
		}

		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			*pending = &evt
			return err
		}
	}
}
