package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

// EndedEngagement describes an agent engagement the turn closed, with
// enough context to classify and report it.
type EndedEngagement struct {
	ConversationID string
	AgentType      model.AgentType
	Identity       *model.Identity
}

// InvalidateIntent asks the caller to drop agent session bindings for a
// conversation. An empty AgentType means all agents on the conversation.
type InvalidateIntent struct {
	ConversationID string
	AgentType      model.AgentType
}

// Result is the outcome of one transition. The session passed to Transition
// is mutated in place; Result carries the reply and the side effects the
// caller must run.
type Result struct {
	Response string

	// ActivateAgent means the turn must be forwarded to the external agent;
	// Response is empty in that case and the agent's reply is the answer.
	ActivateAgent bool

	// StartNewAgentSession means a fresh engagement just began and the
	// agent should receive the init message rather than the user's text.
	StartNewAgentSession bool

	AgentSwitched  bool
	SessionStarted bool

	Ended                *EndedEngagement
	Invalidate           *InvalidateIntent
	InvalidateSessionKey bool
}

// Machine is the deterministic flow controller. It holds no per-session
// state; everything it needs arrives with the session record.
type Machine struct {
	directory store.Directory
	prompts   *PromptLoader
	logger    *logger.Logger
}

func NewMachine(directory store.Directory, prompts *PromptLoader, log *logger.Logger) *Machine {
	return &Machine{
		directory: directory,
		prompts:   prompts,
		logger:    log,
	}
}

// Transition advances the session for one inbound message.
func (m *Machine) Transition(ctx context.Context, sess *model.ConversationSession, msg model.InboundMessage) (*Result, error) {
	p := m.prompts.Load(ctx)

	switch sess.State {
	case model.StateGreeting:
		return m.fromGreeting(ctx, sess, msg, p)
	case model.StateCodeEntered:
		return m.fromCodeEntered(sess, msg, p), nil
	case model.StateAgentActive:
		return m.fromAgentActive(sess, msg, p), nil
	case model.StateAwaitingContinuation:
		return m.fromAwaitingContinuation(sess, msg, p), nil
	default:
		// A record written by an older build, or corrupted. Start over.
		m.logger.Warn("unknown session state, resetting",
			zap.String("session_key", sess.SessionKey),
			zap.String("state", string(sess.State)))
		resetSession(sess)
		return &Result{Response: p.Greeting}, nil
	}
}

func (m *Machine) fromGreeting(ctx context.Context, sess *model.ConversationSession, msg model.InboundMessage, p Prompts) (*Result, error) {
	if !isAccessCode(msg.Body) {
		// Greetings get the welcome; anything else that is not code-shaped
		// is a bad code attempt.
		if isGreeting(msg.Body) {
			return &Result{Response: p.Greeting}, nil
		}
		return &Result{Response: p.InvalidCode}, nil
	}

	code := strings.TrimSpace(msg.Body)
	identity, err := m.directory.FindByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{Response: p.InvalidCode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving access code: %w", err)
	}

	// A registered contact number must match the sender. Codes without one
	// are accepted as-is.
	if identity.ContactNumber != "" && msg.From != "" &&
		normalizePhone(identity.ContactNumber) != normalizePhone(msg.From) {
		m.logger.Warn("access code contact mismatch",
			zap.String("session_key", sess.SessionKey),
			zap.String("code", identity.Code))
		return &Result{Response: p.AuthFailed}, nil
	}

	sess.Identity = identity
	sess.State = model.StateCodeEntered
	// Authentication opens the channel session proper: mint its
	// conversation id now and report it started, before any engagement.
	sess.ConversationID = uuid.Must(uuid.NewV7()).String()
	return &Result{
		Response:       menuPrompt(p, identity),
		SessionStarted: true,
	}, nil
}

func (m *Machine) fromCodeEntered(sess *model.ConversationSession, msg model.InboundMessage, p Prompts) *Result {
	if isBackPhrase(msg.Body) {
		return &Result{Response: menuPrompt(p, sess.Identity)}
	}

	agentType, ok := matchOption(msg.Body)
	if !ok {
		return &Result{Response: p.InvalidOption}
	}

	startEngagement(sess, agentType)
	return &Result{
		ActivateAgent:        true,
		StartNewAgentSession: true,
	}
}

func (m *Machine) fromAgentActive(sess *model.ConversationSession, msg model.InboundMessage, p Prompts) *Result {
	if isBackPhrase(msg.Body) {
		ended := endedFrom(sess)
		invalidate := &InvalidateIntent{ConversationID: sess.ConversationID}
		resetSession(sess)
		return &Result{
			Response:   p.Greeting,
			Ended:      ended,
			Invalidate: invalidate,
		}
	}

	if target, ok := matchSwitch(msg.Body); ok && target != sess.AgentType {
		ended := endedFrom(sess)
		invalidate := &InvalidateIntent{ConversationID: sess.ConversationID}
		startEngagement(sess, target)
		return &Result{
			ActivateAgent:        true,
			StartNewAgentSession: true,
			AgentSwitched:        true,
			Ended:                ended,
			Invalidate:           invalidate,
		}
	}

	return &Result{ActivateAgent: true}
}

func (m *Machine) fromAwaitingContinuation(sess *model.ConversationSession, msg model.InboundMessage, p Prompts) *Result {
	switch {
	case isContinuationYes(msg.Body):
		sess.State = model.StateAgentActive
		return &Result{Response: p.ContinuationYes}
	case isContinuationNo(msg.Body):
		ended := endedFrom(sess)
		sess.State = model.StateCodeEntered
		sess.AgentType = ""
		sess.ConversationID = ""
		sess.AwaitingFeedback = false
		return &Result{
			Response:             p.ThankYou,
			Ended:                ended,
			InvalidateSessionKey: true,
		}
	default:
		return &Result{Response: p.ContinuationQuestion}
	}
}

func startEngagement(sess *model.ConversationSession, agentType model.AgentType) {
	sess.AgentType = agentType
	sess.ConversationID = uuid.Must(uuid.NewV7()).String()
	sess.State = model.StateAgentActive
	sess.AwaitingFeedback = false
}

func resetSession(sess *model.ConversationSession) {
	sess.State = model.StateGreeting
	sess.Identity = nil
	sess.AgentType = ""
	sess.ConversationID = ""
	sess.AwaitingFeedback = false
}

func endedFrom(sess *model.ConversationSession) *EndedEngagement {
	if sess.ConversationID == "" {
		return nil
	}
	var identity *model.Identity
	if sess.Identity != nil {
		cp := *sess.Identity
		identity = &cp
	}
	return &EndedEngagement{
		ConversationID: sess.ConversationID,
		AgentType:      sess.AgentType,
		Identity:       identity,
	}
}

func menuPrompt(p Prompts, identity *model.Identity) string {
	name := "there"
	if identity != nil && identity.DisplayName != "" {
		name = identity.DisplayName
	}
	if strings.Contains(p.Menu, "%s") {
		return fmt.Sprintf(p.Menu, name)
	}
	return p.Menu
}
