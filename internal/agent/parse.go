package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ChatResult is one provider response, normalized. Pending means the turn is
// still running and the caller should poll again.
type ChatResult struct {
	SessionID string
	Text      string
	Pending   bool
}

// chatPayload covers the response shapes the provider emits. Which content
// field carries the answer varies by agent configuration, so every known
// alias is tried in order.
type chatPayload struct {
	SessionID    string          `json:"session_id"`
	SessionIDAlt string          `json:"sessionId"`
	Response     json.RawMessage `json:"response"`
	Result       json.RawMessage `json:"result"`
	Output       json.RawMessage `json:"output"`
	Message      json.RawMessage `json:"message"`
	Content      json.RawMessage `json:"content"`
	Data         json.RawMessage `json:"data"`
	Status       string          `json:"status"`
	Error        string          `json:"error"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func parseChatResponse(raw []byte) (*ChatResult, error) {
	var payload chatPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("malformed chat response: %w", err)
	}

	if payload.Error != "" || strings.EqualFold(payload.Status, "failed") {
		msg := payload.Error
		if msg == "" {
			msg = "status failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrFailed, msg)
	}

	result := &ChatResult{SessionID: payload.SessionID}
	if result.SessionID == "" {
		result.SessionID = payload.SessionIDAlt
	}

	for _, field := range []json.RawMessage{
		payload.Response, payload.Result, payload.Output,
		payload.Message, payload.Content, payload.Data,
	} {
		text := renderContent(field)
		if text != "" {
			result.Text = text
			return result, nil
		}
	}

	// No content and no failure: the turn is still in flight.
	result.Pending = true
	return result, nil
}

// renderContent turns one content field into user-facing text. Strings pass
// through (after fenced block extraction); structured values render as
// compact JSON.
func renderContent(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return extractFenced(strings.TrimSpace(s))
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return strings.TrimSpace(string(raw))
	}
	rendered, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(rendered)
}

// extractFenced pulls the body out of a markdown code fence when the whole
// reply is one fenced block. Agents sometimes wrap structured answers that
// way; the inner text is what the user should see.
func extractFenced(s string) string {
	m := fencedJSON.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	inner := strings.TrimSpace(m[1])
	if inner == "" {
		return s
	}

	var v any
	if err := json.Unmarshal([]byte(inner), &v); err != nil {
		return inner
	}
	if text := textField(v); text != "" {
		return text
	}
	return inner
}

// textField digs a human-readable answer out of a decoded JSON object.
func textField(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"response", "result", "output", "message", "content", "text", "answer"} {
		if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
