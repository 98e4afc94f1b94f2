// Package store provides durable persistence for conversation sessions,
// agent session bindings, the identity directory, transcripts and feedback.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist or has
// expired past its sliding TTL window.
var ErrNotFound = errors.New("not found")

// ErrUnavailable is returned when the durable layer cannot be reached. The
// orchestrator degrades to in-process-only behavior rather than failing the
// user-facing request.
var ErrUnavailable = errors.New("store unavailable")

// Sessions is the conversation session store. Every read and write extends
// the sliding TTL window.
type Sessions interface {
	// Get returns the session for the key, or ErrNotFound if the key is
	// unknown or the session has expired.
	Get(ctx context.Context, sessionKey string) (*model.ConversationSession, error)

	// Upsert writes the full session record, refreshing updated_at.
	// Concurrent writers resolve by last-write-wins on updated_at.
	Upsert(ctx context.Context, sess *model.ConversationSession) error

	// GetOrCreateByContact maps a stable channel identity (contact number)
	// to a session key, reusing any session touched within the TTL window
	// and minting a new one otherwise. An empty contact always mints a new
	// key.
	GetOrCreateByContact(ctx context.Context, contact string) (string, error)
}

// Bindings is the durable layer of the agent session registry. It is the
// authority used for invalidation; bindings are marked inactive, never
// deleted.
type Bindings interface {
	UpsertBinding(ctx context.Context, b *model.AgentSessionBinding) error
	GetActiveBinding(ctx context.Context, conversationID, agentID string) (*model.AgentSessionBinding, error)

	// DeactivateBindings marks bindings for the conversation inactive. An
	// empty agentID deactivates bindings for all agents.
	DeactivateBindings(ctx context.Context, conversationID, agentID string) error

	// DeactivateBindingsBySessionKey marks every binding recorded under the
	// channel session inactive, across all conversation ids.
	DeactivateBindingsBySessionKey(ctx context.Context, sessionKey string) error

	// ListBindings returns all bindings recorded under the channel session,
	// active or not, most recent first.
	ListBindings(ctx context.Context, sessionKey string) ([]model.AgentSessionBinding, error)
}

// Directory resolves access codes to identities, case-insensitively.
type Directory interface {
	FindByCode(ctx context.Context, code string) (*model.Identity, error)
}

// FeedbackStatus tracks the lifecycle of a feedback record.
type FeedbackStatus string

const (
	FeedbackPending    FeedbackStatus = "pending"
	FeedbackCompleted  FeedbackStatus = "completed"
	FeedbackIncomplete FeedbackStatus = "incomplete"
)

// PlaceholderFeedback is the text stored before the user has rated the
// conversation. A record carrying it counts as "no feedback" when an ending
// conversation is classified.
const PlaceholderFeedback = "Pending"

// FeedbackRecord tracks the rating given for one agent engagement.
type FeedbackRecord struct {
	ConversationID string
	SessionKey     string
	IdentityCode   string
	IdentityName   string
	AgentType      model.AgentType
	Feedback       string
	Status         FeedbackStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasRealFeedback reports whether the record carries an actual user rating
// rather than a placeholder or incomplete marker.
func (r *FeedbackRecord) HasRealFeedback() bool {
	if r == nil {
		return false
	}
	text := r.Feedback
	return text != "" && text != PlaceholderFeedback && text != string(FeedbackIncomplete)
}

// Feedback stores per-engagement rating records.
type Feedback interface {
	// EnsurePlaceholder creates a pending record for the conversation if
	// none exists yet. Existing feedback text is never overwritten.
	EnsurePlaceholder(ctx context.Context, rec *FeedbackRecord) error

	// SaveFeedback records the user's rating text for the conversation.
	SaveFeedback(ctx context.Context, conversationID, text string) error

	GetFeedback(ctx context.Context, conversationID string) (*FeedbackRecord, error)

	// SetStatus records the end-of-conversation classification.
	SetStatus(ctx context.Context, conversationID string, status FeedbackStatus) error
}

// Transcript stores conversation turns for audit and history.
type Transcript interface {
	SaveTranscriptMessage(ctx context.Context, msg *model.TranscriptMessage) error
}

// Prompts returns operator overrides for user-facing prompt texts.
type Prompts interface {
	PromptOverrides(ctx context.Context) (map[string]string, error)
}
