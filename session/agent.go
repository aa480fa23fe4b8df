package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/veldt/outpaint"
	"github.com/veldt/outpaint/backoff"
)

// busyMarkers are substrings of the agent's transient "retry shortly"
// replies. The Chinese marker is the upstream agent's literal message
// when a profile's browser is still shutting down.
var busyMarkers = []string{
	"浏览器正在关闭中",
	"busy",
}

// AgentClient is a Provisioner backed by the local browser profile
// agent's HTTP API (/browser/open, /browser/close, /browser/list).
type AgentClient struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger

	// Transient-open retry policy.
	retry   backoff.Strategy
	ceiling time.Duration

	// newSession builds the handle from a debug URL. Overridable in
	// tests to avoid touching a real CDP endpoint.
	newSession func(debugURL string) *Session
}

// AgentOption configures an AgentClient.
type AgentOption func(*AgentClient)

// WithHTTPClient sets the HTTP client used to reach the agent.
func WithHTTPClient(c *http.Client) AgentOption {
	return func(a *AgentClient) { a.httpc = c }
}

// WithRetryBackoff sets the delay strategy between busy-open retries.
func WithRetryBackoff(s backoff.Strategy) AgentOption {
	return func(a *AgentClient) { a.retry = s }
}

// WithRetryCeiling bounds the total time spent retrying a busy open
// before surfacing the failure.
func WithRetryCeiling(d time.Duration) AgentOption {
	return func(a *AgentClient) { a.ceiling = d }
}

// NewAgentClient creates an AgentClient for the agent at baseURL.
func NewAgentClient(baseURL string, logger *slog.Logger, opts ...AgentOption) *AgentClient {
	a := &AgentClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpc:      &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		retry:      backoff.DefaultProvision(),
		ceiling:    5 * time.Minute,
		newSession: NewCDP,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ Provisioner = (*AgentClient)(nil)

// agentResponse is the envelope every agent endpoint replies with.
type agentResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// Open starts the profile's browser and connects a session handle.
// While the agent reports the profile as busy, the call retries on the
// configured backoff until the ceiling elapses.
func (a *AgentClient) Open(ctx context.Context, externalID string) (*Session, error) {
	deadline := time.Now().Add(a.ceiling)

	for attempt := 1; ; attempt++ {
		debugURL, err := a.open(ctx, externalID)
		if err == nil {
			return a.newSession(debugURL), nil
		}

		if !isBusy(err) {
			return nil, fmt.Errorf("session: open profile %s: %w", externalID, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("session: open profile %s: busy past ceiling %s: %w",
				externalID, a.ceiling, err)
		}

		a.logger.Info("profile busy, retrying open",
			slog.String("profile_id", externalID),
			slog.Int("attempt", attempt),
		)
		if sleepErr := backoff.Sleep(ctx, a.retry.Delay(attempt)); sleepErr != nil {
			return nil, fmt.Errorf("session: open profile %s: %w", externalID, sleepErr)
		}
	}
}

// open performs one open attempt and returns the CDP debug URL.
func (a *AgentClient) open(ctx context.Context, externalID string) (string, error) {
	resp, err := a.post(ctx, "/browser/open", map[string]any{
		"id":   externalID,
		"args": []string{"--window-position=1380,400"},
	})
	if err != nil {
		return "", err
	}

	var data struct {
		HTTP string `json:"http"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode open response: %w", err)
	}
	if data.HTTP == "" {
		return "", fmt.Errorf("open response missing debug address")
	}
	return "http://" + data.HTTP, nil
}

// Close stops the profile's browser.
func (a *AgentClient) Close(ctx context.Context, externalID string) error {
	if _, err := a.post(ctx, "/browser/close", map[string]any{"id": externalID}); err != nil {
		return fmt.Errorf("session: close profile %s: %w", externalID, err)
	}
	return nil
}

// List enumerates the profiles the agent knows about.
func (a *AgentClient) List(ctx context.Context) ([]Profile, error) {
	resp, err := a.post(ctx, "/browser/list", map[string]any{
		"page":     0,
		"pageSize": 100,
	})
	if err != nil {
		return nil, fmt.Errorf("session: list profiles: %w", err)
	}

	var data struct {
		List []Profile `json:"list"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("session: decode list response: %w", err)
	}
	return data.List, nil
}

// post sends one JSON request to the agent and decodes the envelope.
// Unsuccessful envelopes with a busy marker map to ErrAgentBusy.
func (a *AgentClient) post(ctx context.Context, path string, payload any) (*agentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent status %d", httpResp.StatusCode)
	}

	var resp agentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}
	if !resp.Success {
		for _, marker := range busyMarkers {
			if strings.Contains(strings.ToLower(resp.Msg), marker) {
				return nil, fmt.Errorf("%w: %s", outpaint.ErrAgentBusy, resp.Msg)
			}
		}
		return nil, fmt.Errorf("agent error: %s", resp.Msg)
	}
	return &resp, nil
}

func isBusy(err error) bool {
	return errors.Is(err, outpaint.ErrAgentBusy)
}
