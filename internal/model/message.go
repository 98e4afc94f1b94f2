package model

import (
	"time"
)

// InboundMessage is one message delivered by the messaging channel.
type InboundMessage struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"body"`
}

// OutboundResponse is the reply returned to the messaging channel. The
// channel collaborator is responsible for chunking text beyond its transport
// limit; this core always returns the full text.
type OutboundResponse struct {
	Text          string `json:"text"`
	NewEngagement bool   `json:"new_engagement,omitempty"`
}

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleBot   Role = "bot"
)

// TranscriptMessage is one stored turn of a conversation, kept for audit and
// history. Storage is best effort and never blocks the user-facing reply.
type TranscriptMessage struct {
	ID             string    `json:"id"`
	SessionKey     string    `json:"session_key"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Role           Role      `json:"role"`
	Body           string    `json:"body"`
	State          State     `json:"state,omitempty"`
	AgentType      AgentType `json:"agent_type,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
