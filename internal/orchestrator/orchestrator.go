// Package orchestrator coordinates one inbound turn end to end: session
// resolution, the deterministic flow, agent calls, and the async side
// effects (events, transcripts, feedback records).
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/agent"
	"github.com/sureline/whatsapp-orchestrator/internal/bot"
	"github.com/sureline/whatsapp-orchestrator/internal/events"
	"github.com/sureline/whatsapp-orchestrator/internal/locking"
	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
	"github.com/sureline/whatsapp-orchestrator/pkg/metrics"
)

// conversationGateway is the slice of the agent gateway the orchestrator
// needs.
type conversationGateway interface {
	Converse(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// bindingRegistry handles agent session invalidation.
type bindingRegistry interface {
	Invalidate(ctx context.Context, conversationID, agentID string) error
	InvalidateBySessionKey(ctx context.Context, sessionKey string) error
}

// Config carries the agent routing table and the message that opens every
// new engagement.
type Config struct {
	ProductAgentID string
	SalesAgentID   string
	InitMessage    string
}

type Orchestrator struct {
	cfg        Config
	sessions   store.Sessions
	feedback   store.Feedback
	transcript store.Transcript
	registry   bindingRegistry
	gateway    conversationGateway
	machine    *bot.Machine
	prompts    *bot.PromptLoader
	publisher  events.Publisher
	logger     *logger.Logger

	// locks serializes turns per session key so turns for the same user
	// never interleave while turns for different users run in parallel.
	locks *locking.KeyedMutex
	tasks sync.WaitGroup
}

func New(
	cfg Config,
	sessions store.Sessions,
	feedback store.Feedback,
	transcript store.Transcript,
	registry bindingRegistry,
	gateway conversationGateway,
	machine *bot.Machine,
	prompts *bot.PromptLoader,
	publisher events.Publisher,
	log *logger.Logger,
) *Orchestrator {
	if cfg.InitMessage == "" {
		cfg.InitMessage = "HI"
	}
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		feedback:   feedback,
		transcript: transcript,
		registry:   registry,
		gateway:    gateway,
		machine:    machine,
		prompts:    prompts,
		publisher:  publisher,
		logger:     log,
		locks:      locking.NewKeyedMutex(),
	}
}

// Wait blocks until all in-flight async side effects finish. Called on
// shutdown and by tests.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

// Handle processes one inbound message and returns the reply to send back
// on the channel.
func (o *Orchestrator) Handle(ctx context.Context, msg model.InboundMessage) (*model.OutboundResponse, error) {
	start := time.Now()

	key, contact, err := o.resolveSessionKey(ctx, msg)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(key)
	defer unlock()

	sess, err := o.sessions.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		fresh := model.NewSession(key, contact, time.Now().UTC())
		sess = &fresh
	} else if err != nil {
		return nil, err
	}

	log := o.logger.WithSession(sess.SessionKey, sess.ConversationID)
	stateBefore := string(sess.State)

	resp, err := o.handleTurn(ctx, sess, msg, log)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RecordTurn(stateBefore, outcome, time.Since(start).Seconds())
	return resp, err
}

func (o *Orchestrator) resolveSessionKey(ctx context.Context, msg model.InboundMessage) (key, contact string, err error) {
	contact = bot.NormalizeContact(msg.From)
	key, err = o.sessions.GetOrCreateByContact(ctx, contact)
	if err != nil {
		return "", "", err
	}
	return key, contact, nil
}

func (o *Orchestrator) handleTurn(ctx context.Context, sess *model.ConversationSession, msg model.InboundMessage, log *logger.Logger) (*model.OutboundResponse, error) {
	p := o.prompts.Load(ctx)

	// A rating for the live engagement is captured before the flow sees the
	// message, so it never reaches the agent.
	if sess.State == model.StateAgentActive && sess.AgentType != "" && sess.Identity != nil &&
		bot.IsFeedback(msg.Body, sess.AwaitingFeedback) {
		return o.captureFeedback(ctx, sess, msg, p, log)
	}

	res, err := o.machine.Transition(ctx, sess, msg)
	if err != nil {
		return nil, err
	}

	o.applyIntents(ctx, sess, res, log)

	reply := res.Response
	if res.ActivateAgent {
		reply = o.converse(ctx, sess, msg, res, p, log)
	}

	if err := o.sessions.Upsert(ctx, sess); err != nil {
		return nil, err
	}

	o.recordTranscript(sess, msg.Body, reply, res)

	return &model.OutboundResponse{
		Text:          reply,
		NewEngagement: res.StartNewAgentSession,
	}, nil
}

func (o *Orchestrator) captureFeedback(ctx context.Context, sess *model.ConversationSession, msg model.InboundMessage, p bot.Prompts, log *logger.Logger) (*model.OutboundResponse, error) {
	if err := o.feedback.SaveFeedback(ctx, sess.ConversationID, msg.Body); err != nil {
		log.Error("failed to save feedback", zap.Error(err))
	}

	conversationID := sess.ConversationID
	identity := sess.Identity
	agentType := sess.AgentType

	sess.State = model.StateAwaitingContinuation
	sess.AwaitingFeedback = false
	if err := o.sessions.Upsert(ctx, sess); err != nil {
		return nil, err
	}

	o.async(func(ctx context.Context) {
		o.publish(ctx, &model.Event{
			Type:           model.EventFeedbackRecorded,
			SessionKey:     sess.SessionKey,
			ConversationID: conversationID,
			Identity:       identity,
			AgentType:      agentType,
			Feedback:       msg.Body,
		})
	})

	reply := p.FeedbackThanks + " " + p.ContinuationQuestion
	o.saveTranscript(sess.SessionKey, conversationID, model.RoleUser, msg.Body, sess.State, agentType)
	o.saveTranscript(sess.SessionKey, conversationID, model.RoleBot, reply, sess.State, agentType)

	return &model.OutboundResponse{Text: reply}, nil
}

// applyIntents runs the registry and event side effects the transition
// asked for. Invalidation failures are logged, not returned: the durable
// layer stays authoritative and a later lookup self-heals.
func (o *Orchestrator) applyIntents(ctx context.Context, sess *model.ConversationSession, res *bot.Result, log *logger.Logger) {
	if res.Invalidate != nil {
		agentID := ""
		if res.Invalidate.AgentType != "" {
			agentID = o.agentIDFor(res.Invalidate.AgentType)
		}
		if err := o.registry.Invalidate(ctx, res.Invalidate.ConversationID, agentID); err != nil {
			log.Error("failed to invalidate bindings", zap.Error(err))
		}
	}

	if res.InvalidateSessionKey {
		if err := o.registry.InvalidateBySessionKey(ctx, sess.SessionKey); err != nil {
			log.Error("failed to invalidate session bindings", zap.Error(err))
		}
	}

	if res.Ended != nil {
		ended := *res.Ended
		sessionKey := sess.SessionKey
		o.async(func(ctx context.Context) {
			o.reportEnded(ctx, sessionKey, ended)
		})
	}

	if res.StartNewAgentSession {
		if err := o.feedback.EnsurePlaceholder(ctx, &store.FeedbackRecord{
			ConversationID: sess.ConversationID,
			SessionKey:     sess.SessionKey,
			IdentityCode:   identityCode(sess),
			IdentityName:   identityName(sess),
			AgentType:      sess.AgentType,
		}); err != nil {
			log.Error("failed to create feedback placeholder", zap.Error(err))
		}
	}

	if res.SessionStarted {
		sessionKey := sess.SessionKey
		conversationID := sess.ConversationID
		agentType := sess.AgentType
		identity := sess.Identity
		o.async(func(ctx context.Context) {
			o.publish(ctx, &model.Event{
				Type:           model.EventSessionStarted,
				SessionKey:     sessionKey,
				ConversationID: conversationID,
				Identity:       identity,
				AgentType:      agentType,
			})
		})
	}
}

// reportEnded classifies a finished engagement by whether real feedback was
// recorded, then publishes the conversation_ended event.
func (o *Orchestrator) reportEnded(ctx context.Context, sessionKey string, ended bot.EndedEngagement) {
	status := model.StatusIncomplete

	rec, err := o.feedback.GetFeedback(ctx, ended.ConversationID)
	switch {
	case err == nil && rec.HasRealFeedback():
		status = model.StatusComplete
		if err := o.feedback.SetStatus(ctx, ended.ConversationID, store.FeedbackCompleted); err != nil {
			o.logger.Error("failed to mark feedback completed", zap.Error(err))
		}
	case err == nil:
		if err := o.feedback.SetStatus(ctx, ended.ConversationID, store.FeedbackIncomplete); err != nil {
			o.logger.Error("failed to mark feedback incomplete", zap.Error(err))
		}
	case !errors.Is(err, store.ErrNotFound):
		o.logger.Error("failed to load feedback for ended engagement", zap.Error(err))
	}

	feedbackText := ""
	if rec != nil && rec.HasRealFeedback() {
		feedbackText = rec.Feedback
	}

	o.publish(ctx, &model.Event{
		Type:           model.EventConversationEnded,
		SessionKey:     sessionKey,
		ConversationID: ended.ConversationID,
		Identity:       ended.Identity,
		AgentType:      ended.AgentType,
		Status:         status,
		Feedback:       feedbackText,
	})
}

// converse forwards the turn to the external agent. Gateway failures never
// reach the user verbatim; they all collapse into one apologetic reply.
func (o *Orchestrator) converse(ctx context.Context, sess *model.ConversationSession, msg model.InboundMessage, res *bot.Result, p bot.Prompts, log *logger.Logger) string {
	message := msg.Body
	if res.StartNewAgentSession {
		message = o.cfg.InitMessage
	}

	resp, err := o.gateway.Converse(ctx, agent.Request{
		ConversationID: sess.ConversationID,
		AgentID:        o.agentIDFor(sess.AgentType),
		AgentType:      sess.AgentType,
		SessionKey:     sess.SessionKey,
		UserID:         o.userIDFor(sess),
		IdentityCode:   identityCode(sess),
		IdentityName:   identityName(sess),
		Message:        message,
	})
	if err != nil {
		log.Error("agent conversation failed",
			zap.String("agent_type", string(sess.AgentType)),
			zap.Error(err))
		return p.ErrorReply
	}

	if bot.IsFeedbackPrompt(resp.Text) {
		sess.AwaitingFeedback = true
	}
	return resp.Text
}

func (o *Orchestrator) agentIDFor(agentType model.AgentType) string {
	if agentType == model.AgentSalesPitch {
		return o.cfg.SalesAgentID
	}
	return o.cfg.ProductAgentID
}

func (o *Orchestrator) userIDFor(sess *model.ConversationSession) string {
	if sess.Identity != nil && sess.Identity.Code != "" {
		return sess.Identity.Code
	}
	if sess.Contact != "" {
		return sess.Contact
	}
	return sess.SessionKey
}

func identityCode(sess *model.ConversationSession) string {
	if sess.Identity == nil {
		return ""
	}
	return sess.Identity.Code
}

func identityName(sess *model.ConversationSession) string {
	if sess.Identity == nil {
		return ""
	}
	return sess.Identity.DisplayName
}

func (o *Orchestrator) recordTranscript(sess *model.ConversationSession, userBody, reply string, res *bot.Result) {
	role := model.RoleBot
	if res.ActivateAgent {
		role = model.RoleAgent
	}
	o.saveTranscript(sess.SessionKey, sess.ConversationID, model.RoleUser, userBody, sess.State, sess.AgentType)
	if reply != "" {
		o.saveTranscript(sess.SessionKey, sess.ConversationID, role, reply, sess.State, sess.AgentType)
	}
}

func (o *Orchestrator) saveTranscript(sessionKey, conversationID string, role model.Role, body string, state model.State, agentType model.AgentType) {
	o.async(func(ctx context.Context) {
		err := o.transcript.SaveTranscriptMessage(ctx, &model.TranscriptMessage{
			ID:             uuid.Must(uuid.NewV7()).String(),
			SessionKey:     sessionKey,
			ConversationID: conversationID,
			Role:           role,
			Body:           body,
			State:          state,
			AgentType:      agentType,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			o.logger.Error("failed to save transcript message", zap.Error(err))
		}
	})
}

func (o *Orchestrator) publish(ctx context.Context, event *model.Event) {
	if event.ID == "" {
		event.ID = uuid.Must(uuid.NewV7()).String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Error("failed to publish event",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// async runs fn detached from the request. Each task gets its own deadline
// so a slow consumer cannot block shutdown forever.
func (o *Orchestrator) async(fn func(ctx context.Context)) {
	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}
