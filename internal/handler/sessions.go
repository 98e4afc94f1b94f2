package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

// SessionsHandler serves the read-only ops endpoints for inspecting
// sessions and their agent bindings.
type SessionsHandler struct {
	sessions store.Sessions
	bindings store.Bindings
	logger   *logger.Logger
}

func NewSessionsHandler(sessions store.Sessions, bindings store.Bindings, log *logger.Logger) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, bindings: bindings, logger: log}
}

type sessionResponse struct {
	Session  *model.ConversationSession  `json:"session"`
	Bindings []model.AgentSessionBinding `json:"bindings,omitempty"`
}

// Get handles GET /api/v1/sessions/{sessionKey}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionKey := chi.URLParam(r, "sessionKey")
	if sessionKey == "" {
		writeError(w, http.StatusBadRequest, "missing session key")
		return
	}

	sess, err := h.sessions.Get(r.Context(), sessionKey)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Session: sess})
}

// Bindings handles GET /api/v1/sessions/{sessionKey}/bindings.
func (h *SessionsHandler) Bindings(w http.ResponseWriter, r *http.Request) {
	sessionKey := chi.URLParam(r, "sessionKey")
	if sessionKey == "" {
		writeError(w, http.StatusBadRequest, "missing session key")
		return
	}

	bindings, err := h.bindings.ListBindings(r.Context(), sessionKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load bindings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_key": sessionKey,
		"bindings":    bindings,
	})
}
