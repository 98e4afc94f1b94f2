package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

// flakySessions simulates a durable store that can be switched off.
type flakySessions struct {
	inner *SQLiteStore
	down  bool
}

func (f *flakySessions) Get(ctx context.Context, key string) (*model.ConversationSession, error) {
	if f.down {
		return nil, ErrUnavailable
	}
	return f.inner.Get(ctx, key)
}

func (f *flakySessions) Upsert(ctx context.Context, sess *model.ConversationSession) error {
	if f.down {
		return ErrUnavailable
	}
	return f.inner.Upsert(ctx, sess)
}

func (f *flakySessions) GetOrCreateByContact(ctx context.Context, contact string) (string, error) {
	if f.down {
		return "", ErrUnavailable
	}
	return f.inner.GetOrCreateByContact(ctx, contact)
}

func newFallbackUnderTest(t *testing.T) (*FallbackSessions, *flakySessions) {
	t.Helper()
	flaky := &flakySessions{inner: newTestStore(t, 30*time.Minute)}
	return NewFallbackSessions(flaky, 30*time.Minute, logger.NewNop()), flaky
}

func TestFallbackServesFromMemoryDuringOutage(t *testing.T) {
	fb, flaky := newFallbackUnderTest(t)
	ctx := context.Background()

	sess := model.NewSession("sk-1", "15550001111", time.Now().UTC())
	sess.State = model.StateCodeEntered
	require.NoError(t, fb.Upsert(ctx, &sess))

	flaky.down = true

	got, err := fb.Get(ctx, "sk-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateCodeEntered, got.State)

	key, err := fb.GetOrCreateByContact(ctx, "15550001111")
	require.NoError(t, err)
	assert.Equal(t, "sk-1", key)
}

func TestFallbackWritesMemoryDuringOutage(t *testing.T) {
	fb, flaky := newFallbackUnderTest(t)
	ctx := context.Background()
	flaky.down = true

	sess := model.NewSession("sk-2", "15550002222", time.Now().UTC())
	require.NoError(t, fb.Upsert(ctx, &sess))

	got, err := fb.Get(ctx, "sk-2")
	require.NoError(t, err)
	assert.Equal(t, "15550002222", got.Contact)
}

func TestFallbackPropagatesNotFound(t *testing.T) {
	fb, flaky := newFallbackUnderTest(t)
	ctx := context.Background()

	_, err := fb.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	flaky.down = true
	_, err = fb.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackMintsKeyWhenEverythingDown(t *testing.T) {
	fb, flaky := newFallbackUnderTest(t)
	flaky.down = true

	key, err := fb.GetOrCreateByContact(context.Background(), "15550003333")
	require.NoError(t, err)
	assert.NotEmpty(t, key)

	// The same contact gets the same key while the outage lasts.
	key2, err := fb.GetOrCreateByContact(context.Background(), "15550003333")
	require.NoError(t, err)
	assert.Equal(t, key, key2)
}
