// Package model defines data structures for the conversation orchestrator.
package model

import (
	"time"
)

// State represents the deterministic onboarding state of a conversation.
type State string

const (
	StateGreeting             State = "greeting"
	StateCodeEntered          State = "code_entered"
	StateAgentActive          State = "agent_active"
	StateAwaitingContinuation State = "awaiting_continuation"
)

// Valid reports whether the state is one of the known states. Unknown or
// corrupt states are treated as Greeting by the state machine, never as an
// error.
func (s State) Valid() bool {
	switch s {
	case StateGreeting, StateCodeEntered, StateAgentActive, StateAwaitingContinuation:
		return true
	}
	return false
}

// AgentType identifies which external agent flavor is active.
type AgentType string

const (
	AgentProductRecommendation AgentType = "product_recommendation"
	AgentSalesPitch            AgentType = "sales_pitch"
)

// Other returns the opposite agent flavor.
func (a AgentType) Other() AgentType {
	if a == AgentProductRecommendation {
		return AgentSalesPitch
	}
	return AgentProductRecommendation
}

// Identity is the external-party identity established once a user
// authenticates with an access code.
type Identity struct {
	Code          string `json:"code"`
	DisplayName   string `json:"display_name"`
	ContactNumber string `json:"contact_number,omitempty"`
}

// ConversationSession is the per-user conversation record.
//
// SessionKey is channel-stable (derived from the caller's contact number when
// available). ConversationID is minted when the user authenticates and
// re-minted for each agent engagement; it is the key used for the external
// agent session and downstream correlation.
type ConversationSession struct {
	SessionKey string `json:"session_key"`
	Contact    string `json:"contact,omitempty"`
	State      State  `json:"state"`

	Identity  *Identity `json:"identity,omitempty"`
	AgentType AgentType `json:"agent_type,omitempty"`

	ConversationID   string `json:"conversation_id,omitempty"`
	AwaitingFeedback bool   `json:"awaiting_feedback,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a fresh Greeting session for the given key.
func NewSession(sessionKey, contact string, now time.Time) ConversationSession {
	return ConversationSession{
		SessionKey: sessionKey,
		Contact:    contact,
		State:      StateGreeting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// CheckInvariants reports violations of the session's structural rules:
// an agent type is carried only while an engagement is live (AgentActive, or
// AwaitingContinuation where it is retained for the "yes, continue" path).
func (s ConversationSession) CheckInvariants() bool {
	engaged := s.State == StateAgentActive || s.State == StateAwaitingContinuation
	if s.AgentType != "" && !engaged {
		return false
	}
	if s.State == StateAgentActive && s.AgentType == "" {
		return false
	}
	if s.State == StateAgentActive && s.ConversationID == "" {
		return false
	}
	return true
}

// AgentSessionBinding associates one conversation engagement with the
// external agent platform's own session identifier. Bindings are deactivated
// when an engagement ends, never deleted.
type AgentSessionBinding struct {
	ConversationID    string    `json:"conversation_id"`
	AgentID           string    `json:"agent_id"`
	SessionKey        string    `json:"session_key"`
	ExternalSessionID string    `json:"external_session_id"`
	AgentType         AgentType `json:"agent_type,omitempty"`
	IdentityCode      string    `json:"identity_code,omitempty"`
	IdentityName      string    `json:"identity_name,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
