// Package handler implements the HTTP surface: the channel webhook, the
// read-only ops endpoints, and health probes.
package handler

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/orchestrator"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

const maxMessageLength = 4096

// WebhookHandler receives inbound channel messages.
type WebhookHandler struct {
	orch   *orchestrator.Orchestrator
	logger *logger.Logger
}

func NewWebhookHandler(orch *orchestrator.Orchestrator, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{orch: orch, logger: log}
}

// Receive handles POST /webhook/whatsapp. The channel posts form-encoded
// message payloads; the reply goes back as plain text in the response body.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form payload")
		return
	}

	msg := model.InboundMessage{
		MessageID: r.PostFormValue("MessageSid"),
		From:      r.PostFormValue("From"),
		To:        r.PostFormValue("To"),
		Body:      strings.TrimSpace(r.PostFormValue("Body")),
	}

	if msg.Body == "" {
		writeError(w, http.StatusBadRequest, "empty message body")
		return
	}
	msg.Body = truncateBody(msg.Body, maxMessageLength)

	resp, err := h.orch.Handle(r.Context(), msg)
	if err != nil {
		h.logger.Error("failed to handle inbound message",
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp.Text))
}

// truncateBody caps the body at limit bytes without splitting a rune.
func truncateBody(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
