package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

// Prompts holds every canned reply the flow sends. Operators can override
// individual prompts through the store; anything not overridden falls back
// to these defaults.
type Prompts struct {
	Greeting             string
	Menu                 string
	InvalidCode          string
	AuthFailed           string
	InvalidOption        string
	ContinuationQuestion string
	ContinuationYes      string
	ThankYou             string
	FeedbackThanks       string
	ErrorReply           string
}

func DefaultPrompts() Prompts {
	return Prompts{
		Greeting:    "Hello! Welcome to the sales assistant. Please enter your access code to get started.",
		Menu:        "Welcome %s! What would you like to do?\n1. Product Recommendation\n2. Sales Pitch\n\nReply with 1 or 2.",
		InvalidCode: "That code doesn't look right. Please enter a valid access code (for example AB12).",
		AuthFailed:  "This code is registered to a different phone number. Please use your own access code.",
		InvalidOption: "Sorry, I didn't catch that. Please reply with:\n" +
			"1. Product Recommendation\n2. Sales Pitch\n\nOr say 'menu' to start over.",
		ContinuationQuestion: "Would you like to continue? Reply 'yes' to keep going or 'no' to finish.",
		ContinuationYes:      "Great! Please go ahead with your next question.",
		ThankYou: "Thank you for using the sales assistant! Your session is complete.\n" +
			"Reply with 1 or 2 any time to start again.",
		FeedbackThanks: "Thank you for your feedback!",
		ErrorReply:     "Sorry, I'm having trouble reaching the assistant right now. Please try again in a moment.",
	}
}

type promptName string

const (
	promptGreeting             promptName = "greeting"
	promptMenu                 promptName = "menu"
	promptInvalidCode          promptName = "invalid_code"
	promptAuthFailed           promptName = "auth_failed"
	promptInvalidOption        promptName = "invalid_option"
	promptContinuationQuestion promptName = "continuation_question"
	promptContinuationYes      promptName = "continuation_yes"
	promptThankYou             promptName = "thank_you"
	promptFeedbackThanks       promptName = "feedback_thanks"
	promptErrorReply           promptName = "error_reply"
)

// PromptLoader layers store overrides on top of the defaults, re-reading
// the store at most once per TTL.
type PromptLoader struct {
	store  store.Prompts
	ttl    time.Duration
	logger *logger.Logger

	mu        sync.Mutex
	cached    Prompts
	expiresAt time.Time
}

func NewPromptLoader(s store.Prompts, ttl time.Duration, log *logger.Logger) *PromptLoader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PromptLoader{
		store:  s,
		ttl:    ttl,
		logger: log,
		cached: DefaultPrompts(),
	}
}

// Load returns the effective prompt set. Store failures are logged and the
// last good set keeps serving.
func (l *PromptLoader) Load(ctx context.Context) Prompts {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Before(l.expiresAt) {
		return l.cached
	}

	overrides, err := l.store.PromptOverrides(ctx)
	if err != nil {
		l.logger.Warn("failed to load prompt overrides", zap.Error(err))
		l.expiresAt = now.Add(l.ttl)
		return l.cached
	}

	p := DefaultPrompts()
	apply := func(name promptName, dst *string) {
		if v, ok := overrides[string(name)]; ok && v != "" {
			*dst = v
		}
	}
	apply(promptGreeting, &p.Greeting)
	apply(promptMenu, &p.Menu)
	apply(promptInvalidCode, &p.InvalidCode)
	apply(promptAuthFailed, &p.AuthFailed)
	apply(promptInvalidOption, &p.InvalidOption)
	apply(promptContinuationQuestion, &p.ContinuationQuestion)
	apply(promptContinuationYes, &p.ContinuationYes)
	apply(promptThankYou, &p.ThankYou)
	apply(promptFeedbackThanks, &p.FeedbackThanks)
	apply(promptErrorReply, &p.ErrorReply)

	l.cached = p
	l.expiresAt = now.Add(l.ttl)
	return p
}
