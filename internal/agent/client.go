// Package agent talks to the external conversational AI provider. The
// provider exposes a single chat endpoint: posting a message starts or
// advances a turn, and posting an empty message polls for the result of a
// turn still in progress.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *logger.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     log,
	}
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Chat posts one call to the provider's chat endpoint. An empty message
// polls the session's in-flight turn instead of starting a new one.
func (c *Client) Chat(ctx context.Context, userID, agentID, sessionID, message string) (*ChatResult, error) {
	body, err := json.Marshal(chatRequest{
		UserID:    userID,
		AgentID:   agentID,
		SessionID: sessionID,
		Message:   message,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.logger.Warn("agent provider server error",
			zap.Int("status", resp.StatusCode),
			zap.String("agent_id", agentID))
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		c.logger.Warn("agent provider rejected request",
			zap.Int("status", resp.StatusCode),
			zap.String("agent_id", agentID),
			zap.String("body", truncate(string(raw), 512)))
		return nil, fmt.Errorf("%w: status %d", ErrRequestInvalid, resp.StatusCode)
	}

	result, err := parseChatResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
