// Package registry maintains the mapping between (conversation id, agent id)
// pairs and the external agent session that serves them. Lookups hit a
// process-local map first and fall through to the durable store; the durable
// layer is the authority for invalidation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/internal/store"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
	"github.com/sureline/whatsapp-orchestrator/pkg/metrics"
)

type Registry struct {
	mu      sync.RWMutex
	mem     map[string]string // "conversationID\x00agentID" -> external session id
	durable store.Bindings
	logger  *logger.Logger
}

func New(durable store.Bindings, log *logger.Logger) *Registry {
	return &Registry{
		mem:     make(map[string]string),
		durable: durable,
		logger:  log,
	}
}

func memKey(conversationID, agentID string) string {
	return conversationID + "\x00" + agentID
}

// Lookup returns the external session id bound to the pair, or
// store.ErrNotFound when no active binding exists. Durable hits repopulate
// the memory layer so repeated lookups stay in-process.
func (r *Registry) Lookup(ctx context.Context, conversationID, agentID string) (string, error) {
	key := memKey(conversationID, agentID)

	r.mu.RLock()
	if ext, ok := r.mem[key]; ok {
		r.mu.RUnlock()
		return ext, nil
	}
	r.mu.RUnlock()

	b, err := r.durable.GetActiveBinding(ctx, conversationID, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", store.ErrNotFound
		}
		return "", fmt.Errorf("looking up binding: %w", err)
	}

	r.setMem(key, b.ExternalSessionID)
	return b.ExternalSessionID, nil
}

// Bind records a new binding durably and then in memory. The durable write
// happens first so a crash between the two never leaves memory ahead of the
// store.
func (r *Registry) Bind(ctx context.Context, b *model.AgentSessionBinding) error {
	if err := r.durable.UpsertBinding(ctx, b); err != nil {
		return fmt.Errorf("binding agent session: %w", err)
	}

	r.setMem(memKey(b.ConversationID, b.AgentID), b.ExternalSessionID)

	r.logger.Debug("agent session bound",
		zap.String("conversation_id", b.ConversationID),
		zap.String("agent_id", b.AgentID))
	return nil
}

// Invalidate removes bindings for the conversation. An empty agentID
// invalidates bindings for every agent on the conversation. Memory is
// evicted first so a stale in-process entry is never reachable while the
// durable update runs.
func (r *Registry) Invalidate(ctx context.Context, conversationID, agentID string) error {
	r.evict(func(key string) bool {
		if agentID != "" {
			return key == memKey(conversationID, agentID)
		}
		return strings.HasPrefix(key, conversationID+"\x00")
	})

	if err := r.durable.DeactivateBindings(ctx, conversationID, agentID); err != nil {
		return fmt.Errorf("invalidating bindings: %w", err)
	}
	return nil
}

// InvalidateBySessionKey removes every binding recorded under the channel
// session, across all conversation ids.
func (r *Registry) InvalidateBySessionKey(ctx context.Context, sessionKey string) error {
	bindings, err := r.durable.ListBindings(ctx, sessionKey)
	if err != nil {
		return fmt.Errorf("listing bindings for invalidation: %w", err)
	}

	keys := make(map[string]struct{}, len(bindings))
	for _, b := range bindings {
		keys[memKey(b.ConversationID, b.AgentID)] = struct{}{}
	}
	r.evict(func(key string) bool {
		_, ok := keys[key]
		return ok
	})

	if err := r.durable.DeactivateBindingsBySessionKey(ctx, sessionKey); err != nil {
		return fmt.Errorf("invalidating bindings by session key: %w", err)
	}
	return nil
}

// setMem inserts into the memory layer. The gauge tracks memory layer size.
func (r *Registry) setMem(key, externalSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mem[key]; !ok {
		metrics.SessionBindingsActive.Inc()
	}
	r.mem[key] = externalSessionID
}

func (r *Registry) evict(match func(key string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.mem {
		if match(key) {
			delete(r.mem, key)
			metrics.SessionBindingsActive.Dec()
		}
	}
}
