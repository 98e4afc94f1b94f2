package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseField(t *testing.T) {
	result, err := parseChatResponse([]byte(`{"session_id":"ext-1","response":"Here are three options."}`))
	require.NoError(t, err)
	assert.Equal(t, "ext-1", result.SessionID)
	assert.Equal(t, "Here are three options.", result.Text)
	assert.False(t, result.Pending)
}

func TestParseAlternateFields(t *testing.T) {
	cases := map[string]string{
		"result":  `{"result":"from result"}`,
		"output":  `{"output":"from output"}`,
		"message": `{"message":"from message"}`,
		"content": `{"content":"from content"}`,
		"data":    `{"data":"from data"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := parseChatResponse([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, "from "+name, result.Text)
		})
	}
}

func TestParseCamelCaseSessionID(t *testing.T) {
	result, err := parseChatResponse([]byte(`{"sessionId":"ext-2","response":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, "ext-2", result.SessionID)
}

func TestParsePendingWhenNoContent(t *testing.T) {
	for _, body := range []string{
		`{}`,
		`{"session_id":"ext-1"}`,
		`{"session_id":"ext-1","status":"processing"}`,
		`{"response":null}`,
	} {
		result, err := parseChatResponse([]byte(body))
		require.NoError(t, err, body)
		assert.True(t, result.Pending, body)
	}
}

func TestParseFailedStatus(t *testing.T) {
	_, err := parseChatResponse([]byte(`{"status":"failed"}`))
	assert.ErrorIs(t, err, ErrFailed)

	_, err = parseChatResponse([]byte(`{"error":"agent exploded"}`))
	require.ErrorIs(t, err, ErrFailed)
	assert.Contains(t, err.Error(), "agent exploded")
}

func TestParseMalformed(t *testing.T) {
	_, err := parseChatResponse([]byte(`not json at all`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrFailed))
}

func TestParseStructuredContent(t *testing.T) {
	result, err := parseChatResponse([]byte(`{"response":{"items":["a","b"]}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":["a","b"]}`, result.Text)
}

func TestExtractFencedJSON(t *testing.T) {
	body := `{"response":"` + "```json\\n{\\\"response\\\": \\\"The inner answer.\\\"}\\n```" + `"}`
	result, err := parseChatResponse([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "The inner answer.", result.Text)
}

func TestExtractFencedNonJSON(t *testing.T) {
	assert.Equal(t, "plain text", extractFenced("```\nplain text\n```"))
	assert.Equal(t, "no fences here", extractFenced("no fences here"))
}

func TestExtractFencedJSONWithoutTextField(t *testing.T) {
	out := extractFenced("```json\n{\"items\": [1, 2]}\n```")
	assert.JSONEq(t, `{"items":[1,2]}`, out)
}
