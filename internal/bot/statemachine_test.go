package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

type fakeDirectory struct {
	identities map[string]*model.Identity
}

func (f *fakeDirectory) FindByCode(_ context.Context, code string) (*model.Identity, error) {
	for k, id := range f.identities {
		if strings.EqualFold(k, code) {
			return id, nil
		}
	}
	return nil, store.ErrNotFound
}

type staticPrompts struct{}

func (staticPrompts) PromptOverrides(context.Context) (map[string]string, error) {
	return nil, nil
}

func newTestMachine() *Machine {
	dir := &fakeDirectory{identities: map[string]*model.Identity{
		"AB12": {Code: "AB12", DisplayName: "Agent Smith", ContactNumber: "+10000000001"},
		"CD34": {Code: "CD34", DisplayName: "Agent Jones"},
	}}
	loader := NewPromptLoader(staticPrompts{}, time.Minute, logger.NewNop())
	return NewMachine(dir, loader, logger.NewNop())
}

func newGreetingSession() *model.ConversationSession {
	s := model.NewSession("sk-1", "10000000001", time.Now().UTC())
	return &s
}

func msg(body string) model.InboundMessage {
	return model.InboundMessage{From: "whatsapp:+10000000001", Body: body}
}

func TestGreetingRepliesWithGreeting(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	res, err := m.Transition(context.Background(), sess, msg("hi"))
	require.NoError(t, err)
	assert.Contains(t, res.Response, "access code")
	assert.Equal(t, model.StateGreeting, sess.State)
	assert.False(t, res.ActivateAgent)
}

func TestValidCodeEntersMenu(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	res, err := m.Transition(context.Background(), sess, msg("AB12"))
	require.NoError(t, err)
	assert.Equal(t, model.StateCodeEntered, sess.State)
	require.NotNil(t, sess.Identity)
	assert.Equal(t, "AB12", sess.Identity.Code)
	assert.Contains(t, res.Response, "Agent Smith")
	assert.Contains(t, res.Response, "Product Recommendation")
	assert.True(t, res.SessionStarted)
	assert.NotEmpty(t, sess.ConversationID)
}

func TestMalformedCodeRejected(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	res, err := m.Transition(context.Background(), sess, msg("abcd"))
	require.NoError(t, err)
	assert.Equal(t, model.StateGreeting, sess.State)
	assert.Nil(t, sess.Identity)
	assert.Contains(t, res.Response, "valid access code")
}

func TestCaseInsensitiveCode(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	_, err := m.Transition(context.Background(), sess, msg("ab12"))
	require.NoError(t, err)
	assert.Equal(t, model.StateCodeEntered, sess.State)
}

func TestUnknownCodeRejected(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	res, err := m.Transition(context.Background(), sess, msg("ZZ99"))
	require.NoError(t, err)
	assert.Equal(t, model.StateGreeting, sess.State)
	assert.Nil(t, sess.Identity)
	assert.Contains(t, res.Response, "valid access code")
}

func TestContactMismatchRejected(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	res, err := m.Transition(context.Background(), sess, model.InboundMessage{
		From: "whatsapp:+19999999999", Body: "AB12",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateGreeting, sess.State)
	assert.Nil(t, sess.Identity)
	assert.Contains(t, res.Response, "different phone number")
}

func TestCodeWithoutContactAccepted(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()

	_, err := m.Transition(context.Background(), sess, model.InboundMessage{
		From: "whatsapp:+19999999999", Body: "CD34",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateCodeEntered, sess.State)
}

func authenticatedSession(t *testing.T, m *Machine) *model.ConversationSession {
	t.Helper()
	sess := newGreetingSession()
	_, err := m.Transition(context.Background(), sess, msg("AB12"))
	require.NoError(t, err)
	require.Equal(t, model.StateCodeEntered, sess.State)
	return sess
}

func TestMenuChoiceStartsEngagement(t *testing.T) {
	m := newTestMachine()
	sess := authenticatedSession(t, m)
	authConv := sess.ConversationID

	res, err := m.Transition(context.Background(), sess, msg("2"))
	require.NoError(t, err)
	assert.Equal(t, model.StateAgentActive, sess.State)
	assert.Equal(t, model.AgentSalesPitch, sess.AgentType)
	assert.NotEmpty(t, sess.ConversationID)
	assert.NotEqual(t, authConv, sess.ConversationID)
	assert.True(t, res.ActivateAgent)
	assert.True(t, res.StartNewAgentSession)
	// The session itself started at authentication, not here.
	assert.False(t, res.SessionStarted)
	assert.Empty(t, res.Response)
}

func TestMenuInvalidOption(t *testing.T) {
	m := newTestMachine()
	sess := authenticatedSession(t, m)

	res, err := m.Transition(context.Background(), sess, msg("what?"))
	require.NoError(t, err)
	assert.Equal(t, model.StateCodeEntered, sess.State)
	assert.Contains(t, res.Response, "1. Product Recommendation")
	assert.False(t, res.ActivateAgent)
}

func TestMenuBackReshowsMenu(t *testing.T) {
	m := newTestMachine()
	sess := authenticatedSession(t, m)

	res, err := m.Transition(context.Background(), sess, msg("menu"))
	require.NoError(t, err)
	assert.Equal(t, model.StateCodeEntered, sess.State)
	assert.Contains(t, res.Response, "Agent Smith")
}

func engagedSession(t *testing.T, m *Machine) *model.ConversationSession {
	t.Helper()
	sess := authenticatedSession(t, m)
	_, err := m.Transition(context.Background(), sess, msg("1"))
	require.NoError(t, err)
	require.Equal(t, model.StateAgentActive, sess.State)
	return sess
}

func TestAgentActiveForwardsMessage(t *testing.T) {
	m := newTestMachine()
	sess := engagedSession(t, m)

	res, err := m.Transition(context.Background(), sess, msg("what fits a rainy hike?"))
	require.NoError(t, err)
	assert.True(t, res.ActivateAgent)
	assert.False(t, res.StartNewAgentSession)
	assert.Nil(t, res.Ended)
}

func TestAgentActiveMenuResetsEverything(t *testing.T) {
	m := newTestMachine()
	sess := engagedSession(t, m)
	oldConv := sess.ConversationID

	res, err := m.Transition(context.Background(), sess, msg("menu"))
	require.NoError(t, err)

	assert.Equal(t, model.StateGreeting, sess.State)
	assert.Nil(t, sess.Identity)
	assert.Empty(t, sess.AgentType)
	assert.Empty(t, sess.ConversationID)

	require.NotNil(t, res.Ended)
	assert.Equal(t, oldConv, res.Ended.ConversationID)
	assert.Equal(t, model.AgentProductRecommendation, res.Ended.AgentType)
	require.NotNil(t, res.Ended.Identity)
	assert.Equal(t, "AB12", res.Ended.Identity.Code)

	require.NotNil(t, res.Invalidate)
	assert.Equal(t, oldConv, res.Invalidate.ConversationID)
	assert.Empty(t, res.Invalidate.AgentType)
}

func TestAgentSwitchMintsNewConversation(t *testing.T) {
	m := newTestMachine()
	sess := engagedSession(t, m)
	oldConv := sess.ConversationID

	res, err := m.Transition(context.Background(), sess, msg("switch to sales"))
	require.NoError(t, err)

	assert.Equal(t, model.StateAgentActive, sess.State)
	assert.Equal(t, model.AgentSalesPitch, sess.AgentType)
	assert.NotEqual(t, oldConv, sess.ConversationID)

	assert.True(t, res.ActivateAgent)
	assert.True(t, res.StartNewAgentSession)
	assert.True(t, res.AgentSwitched)
	require.NotNil(t, res.Invalidate)
	assert.Equal(t, oldConv, res.Invalidate.ConversationID)
	require.NotNil(t, res.Ended)
	assert.Equal(t, oldConv, res.Ended.ConversationID)

	// Identity survives a switch.
	require.NotNil(t, sess.Identity)
	assert.Equal(t, "AB12", sess.Identity.Code)
}

func TestSwitchToSameAgentForwards(t *testing.T) {
	m := newTestMachine()
	sess := engagedSession(t, m)
	oldConv := sess.ConversationID

	res, err := m.Transition(context.Background(), sess, msg("product recommendation"))
	require.NoError(t, err)
	assert.True(t, res.ActivateAgent)
	assert.False(t, res.AgentSwitched)
	assert.Equal(t, oldConv, sess.ConversationID)
}

func awaitingSession(t *testing.T, m *Machine) *model.ConversationSession {
	t.Helper()
	sess := engagedSession(t, m)
	sess.State = model.StateAwaitingContinuation
	return sess
}

func TestContinuationYesResumes(t *testing.T) {
	m := newTestMachine()
	sess := awaitingSession(t, m)
	conv := sess.ConversationID

	res, err := m.Transition(context.Background(), sess, msg("yes"))
	require.NoError(t, err)
	assert.Equal(t, model.StateAgentActive, sess.State)
	assert.Equal(t, conv, sess.ConversationID)
	assert.Equal(t, model.AgentProductRecommendation, sess.AgentType)
	assert.Contains(t, res.Response, "go ahead")
}

func TestContinuationNoEndsEngagement(t *testing.T) {
	m := newTestMachine()
	sess := awaitingSession(t, m)
	conv := sess.ConversationID

	res, err := m.Transition(context.Background(), sess, msg("no"))
	require.NoError(t, err)

	assert.Equal(t, model.StateCodeEntered, sess.State)
	assert.Empty(t, sess.AgentType)
	assert.Empty(t, sess.ConversationID)

	// Identity is retained so the user can restart without re-entering
	// the code.
	require.NotNil(t, sess.Identity)
	assert.Equal(t, "AB12", sess.Identity.Code)

	require.NotNil(t, res.Ended)
	assert.Equal(t, conv, res.Ended.ConversationID)
	assert.True(t, res.InvalidateSessionKey)
	assert.Contains(t, res.Response, "Thank you")
}

func TestContinuationUnrecognizedReasks(t *testing.T) {
	m := newTestMachine()
	sess := awaitingSession(t, m)

	res, err := m.Transition(context.Background(), sess, msg("hmm maybe"))
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingContinuation, sess.State)
	assert.Contains(t, res.Response, "continue")
}

func TestUnknownStateResets(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()
	sess.State = "mystery"

	res, err := m.Transition(context.Background(), sess, msg("hello"))
	require.NoError(t, err)
	assert.Equal(t, model.StateGreeting, sess.State)
	assert.Contains(t, res.Response, "access code")
}

func TestInvariantsHoldAcrossFlow(t *testing.T) {
	m := newTestMachine()
	sess := newGreetingSession()
	ctx := context.Background()

	for _, body := range []string{"hi", "AB12", "1", "menu"} {
		_, err := m.Transition(ctx, sess, msg(body))
		require.NoError(t, err)
		assert.True(t, sess.CheckInvariants(), "after %q", body)
	}
}
