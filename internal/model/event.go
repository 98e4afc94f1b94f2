package model

import (
	"time"
)

// EventType represents the type of side-effect event.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventConversationEnded EventType = "conversation_ended"
	EventFeedbackRecorded  EventType = "feedback_recorded"
)

// ConversationStatus classifies how an agent engagement ended.
type ConversationStatus string

const (
	StatusComplete   ConversationStatus = "complete"
	StatusIncomplete ConversationStatus = "incomplete"
)

// Event is a fire-and-forget side-effect event for analytics/storage
// collaborators. Delivery is best effort; failures are logged, never
// surfaced to the end user.
type Event struct {
	ID             string             `json:"id"`
	Type           EventType          `json:"type"`
	SessionKey     string             `json:"session_key"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Identity       *Identity          `json:"identity,omitempty"`
	AgentType      AgentType          `json:"agent_type,omitempty"`
	Status         ConversationStatus `json:"status,omitempty"`
	Feedback       string             `json:"feedback,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}
