package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/locking"
	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
	"github.com/sureline/whatsapp-orchestrator/pkg/metrics"
)

// sessionRegistry is the slice of the registry the gateway needs.
type sessionRegistry interface {
	Lookup(ctx context.Context, conversationID, agentID string) (string, error)
	Bind(ctx context.Context, b *model.AgentSessionBinding) error
}

// GatewayConfig tunes the call-and-poll loop. MaxAttempts counts every chat
// call for the turn, the initial submit included.
type GatewayConfig struct {
	PollInterval time.Duration
	MaxAttempts  int
	ErrorBudget  int
}

// Request is one user turn addressed to an external agent.
type Request struct {
	ConversationID string
	AgentID        string
	AgentType      model.AgentType
	SessionKey     string
	UserID         string
	IdentityCode   string
	IdentityName   string
	Message        string
}

// Response is the agent's reply for the turn.
type Response struct {
	Text       string
	NewSession bool
}

// Gateway drives turns against the provider: it resolves or acquires the
// external session for the (conversation, agent) pair, submits the message,
// and polls until the provider produces a result. Turns for the same pair
// are serialized so polls never interleave.
type Gateway struct {
	client   *Client
	registry sessionRegistry
	cfg      GatewayConfig
	logger   *logger.Logger

	inflight *locking.KeyedMutex
}

func NewGateway(client *Client, registry sessionRegistry, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 90
	}
	if cfg.ErrorBudget <= 0 {
		cfg.ErrorBudget = 5
	}
	return &Gateway{
		client:   client,
		registry: registry,
		cfg:      cfg,
		logger:   log,
		inflight: locking.NewKeyedMutex(),
	}
}

// Converse runs one full turn and blocks until the agent answers, the
// attempt ceiling is reached, or the context is done.
func (g *Gateway) Converse(ctx context.Context, req Request) (*Response, error) {
	unlock := g.inflight.Lock(req.ConversationID + "\x00" + req.AgentID)
	defer unlock()

	start := time.Now()
	resp, attempts, err := g.converse(ctx, req)
	status := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	case errors.Is(err, ErrRequestInvalid):
		status = "invalid"
	case errors.Is(err, ErrFailed):
		status = "failed"
	case err != nil:
		status = "unavailable"
	}
	metrics.RecordAgentCall(string(req.AgentType), status, time.Since(start).Seconds(), attempts)
	return resp, err
}

func (g *Gateway) converse(ctx context.Context, req Request) (*Response, int, error) {
	log := g.logger.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("agent_id", req.AgentID))

	sessionID, err := g.registry.Lookup(ctx, req.ConversationID, req.AgentID)
	newSession := false
	if errors.Is(err, store.ErrNotFound) {
		// No binding yet: the first chat call both opens the external
		// session and carries the message. The conversation id doubles as
		// the proposed session id; the provider may return its own.
		sessionID = req.ConversationID
		newSession = true
	} else if err != nil {
		return nil, 0, err
	}

	var (
		submitted   bool
		consecutive int
		bound       = !newSession
	)

	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, attempt - 1, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			case <-time.After(g.cfg.PollInterval):
			}
		}

		message := ""
		if !submitted {
			message = req.Message
		}

		result, err := g.client.Chat(ctx, req.UserID, req.AgentID, sessionID, message)
		if err != nil {
			if errors.Is(err, ErrRequestInvalid) || errors.Is(err, ErrFailed) {
				return nil, attempt, err
			}
			consecutive++
			log.Warn("agent call failed",
				zap.Int("attempt", attempt),
				zap.Int("consecutive_errors", consecutive),
				zap.Error(err))
			if consecutive >= g.cfg.ErrorBudget {
				return nil, attempt, fmt.Errorf("%w: %d consecutive errors", ErrUnavailable, consecutive)
			}
			continue
		}
		consecutive = 0
		submitted = true

		if newSession && !bound {
			if result.SessionID != "" {
				sessionID = result.SessionID
			}
			if err := g.registry.Bind(ctx, &model.AgentSessionBinding{
				ConversationID:    req.ConversationID,
				AgentID:           req.AgentID,
				SessionKey:        req.SessionKey,
				ExternalSessionID: sessionID,
				AgentType:         req.AgentType,
				IdentityCode:      req.IdentityCode,
				IdentityName:      req.IdentityName,
			}); err != nil {
				return nil, attempt, err
			}
			bound = true
		}

		if !result.Pending {
			log.Debug("agent turn complete", zap.Int("attempts", attempt))
			return &Response{Text: result.Text, NewSession: newSession}, attempt, nil
		}
	}

	return nil, g.cfg.MaxAttempts, fmt.Errorf("%w: no result after %d attempts", ErrTimeout, g.cfg.MaxAttempts)
}
