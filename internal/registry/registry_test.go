package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

// fakeBindings counts durable reads so tests can see when the memory layer
// answered.
type fakeBindings struct {
	rows  map[string]*model.AgentSessionBinding
	reads int
}

func newFakeBindings() *fakeBindings {
	return &fakeBindings{rows: make(map[string]*model.AgentSessionBinding)}
}

func (f *fakeBindings) key(conversationID, agentID string) string {
	return conversationID + "/" + agentID
}

func (f *fakeBindings) UpsertBinding(_ context.Context, b *model.AgentSessionBinding) error {
	cp := *b
	cp.Active = true
	f.rows[f.key(b.ConversationID, b.AgentID)] = &cp
	return nil
}

func (f *fakeBindings) GetActiveBinding(_ context.Context, conversationID, agentID string) (*model.AgentSessionBinding, error) {
	f.reads++
	b, ok := f.rows[f.key(conversationID, agentID)]
	if !ok || !b.Active {
		return nil, store.ErrNotFound
	}
	return b, nil
}

func (f *fakeBindings) DeactivateBindings(_ context.Context, conversationID, agentID string) error {
	for _, b := range f.rows {
		if b.ConversationID == conversationID && (agentID == "" || b.AgentID == agentID) {
			b.Active = false
		}
	}
	return nil
}

func (f *fakeBindings) DeactivateBindingsBySessionKey(_ context.Context, sessionKey string) error {
	for _, b := range f.rows {
		if b.SessionKey == sessionKey {
			b.Active = false
		}
	}
	return nil
}

func (f *fakeBindings) ListBindings(_ context.Context, sessionKey string) ([]model.AgentSessionBinding, error) {
	var out []model.AgentSessionBinding
	for _, b := range f.rows {
		if b.SessionKey == sessionKey {
			out = append(out, *b)
		}
	}
	return out, nil
}

func TestLookupMiss(t *testing.T) {
	r := New(newFakeBindings(), logger.NewNop())

	_, err := r.Lookup(context.Background(), "conv-1", "agent-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBindThenLookupServesFromMemory(t *testing.T) {
	durable := newFakeBindings()
	r := New(durable, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID:    "conv-1",
		AgentID:           "agent-1",
		SessionKey:        "sk-1",
		ExternalSessionID: "ext-1",
	}))

	for i := 0; i < 3; i++ {
		ext, err := r.Lookup(ctx, "conv-1", "agent-1")
		require.NoError(t, err)
		assert.Equal(t, "ext-1", ext)
	}
	assert.Zero(t, durable.reads, "memory layer should answer after Bind")
}

func TestLookupFallsThroughAndRepopulates(t *testing.T) {
	durable := newFakeBindings()
	require.NoError(t, durable.UpsertBinding(context.Background(), &model.AgentSessionBinding{
		ConversationID:    "conv-1",
		AgentID:           "agent-1",
		SessionKey:        "sk-1",
		ExternalSessionID: "ext-1",
	}))

	r := New(durable, logger.NewNop())
	ctx := context.Background()

	ext, err := r.Lookup(ctx, "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", ext)
	assert.Equal(t, 1, durable.reads)

	// Second lookup is served from memory.
	_, err = r.Lookup(ctx, "conv-1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, durable.reads)
}

func TestInvalidateClearsBothLayers(t *testing.T) {
	durable := newFakeBindings()
	r := New(durable, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID: "conv-1", AgentID: "agent-1",
		SessionKey: "sk-1", ExternalSessionID: "ext-1",
	}))
	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID: "conv-1", AgentID: "agent-2",
		SessionKey: "sk-1", ExternalSessionID: "ext-2",
	}))

	require.NoError(t, r.Invalidate(ctx, "conv-1", "agent-1"))

	_, err := r.Lookup(ctx, "conv-1", "agent-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The other agent's binding survives.
	ext, err := r.Lookup(ctx, "conv-1", "agent-2")
	require.NoError(t, err)
	assert.Equal(t, "ext-2", ext)
}

func TestInvalidateAllAgents(t *testing.T) {
	durable := newFakeBindings()
	r := New(durable, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID: "conv-1", AgentID: "agent-1",
		SessionKey: "sk-1", ExternalSessionID: "ext-1",
	}))
	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID: "conv-1", AgentID: "agent-2",
		SessionKey: "sk-1", ExternalSessionID: "ext-2",
	}))

	require.NoError(t, r.Invalidate(ctx, "conv-1", ""))

	_, err := r.Lookup(ctx, "conv-1", "agent-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.Lookup(ctx, "conv-1", "agent-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInvalidateBySessionKey(t *testing.T) {
	durable := newFakeBindings()
	r := New(durable, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID: "conv-1", AgentID: "agent-1",
		SessionKey: "sk-1", ExternalSessionID: "ext-1",
	}))
	require.NoError(t, r.Bind(ctx, &model.AgentSessionBinding{
		ConversationID: "conv-2", AgentID: "agent-2",
		SessionKey: "sk-1", ExternalSessionID: "ext-2",
	}))

	require.NoError(t, r.InvalidateBySessionKey(ctx, "sk-1"))

	_, err := r.Lookup(ctx, "conv-1", "agent-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = r.Lookup(ctx, "conv-2", "agent-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
