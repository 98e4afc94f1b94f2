package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sureline/whatsapp-orchestrator/internal/model"
	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
	"github.com/sureline/whatsapp-orchestrator/pkg/metrics"
)

// FallbackSessions wraps a durable Sessions store with an in-process map.
// Reads and writes go to the durable layer first; when it reports
// ErrUnavailable the wrapper serves from memory so conversations keep
// working during a storage outage. Memory entries honor the same TTL.
type FallbackSessions struct {
	durable    Sessions
	sessionTTL time.Duration
	logger     *logger.Logger

	mu        sync.RWMutex
	sessions  map[string]*model.ConversationSession
	byContact map[string]string
}

func NewFallbackSessions(durable Sessions, sessionTTL time.Duration, log *logger.Logger) *FallbackSessions {
	return &FallbackSessions{
		durable:    durable,
		sessionTTL: sessionTTL,
		logger:     log,
		sessions:   make(map[string]*model.ConversationSession),
		byContact:  make(map[string]string),
	}
}

func (f *FallbackSessions) Get(ctx context.Context, sessionKey string) (*model.ConversationSession, error) {
	sess, err := f.durable.Get(ctx, sessionKey)
	if err == nil {
		f.cache(sess)
		return sess, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}

	metrics.StoreFallbacksTotal.WithLabelValues("get").Inc()
	f.logger.Warn("session store unavailable, serving from memory", zap.Error(err))

	f.mu.RLock()
	cached, ok := f.sessions[sessionKey]
	f.mu.RUnlock()
	if !ok || time.Since(cached.UpdatedAt) > f.sessionTTL {
		return nil, ErrNotFound
	}
	cp := *cached
	return &cp, nil
}

func (f *FallbackSessions) Upsert(ctx context.Context, sess *model.ConversationSession) error {
	err := f.durable.Upsert(ctx, sess)
	if err == nil {
		f.cache(sess)
		return nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return err
	}

	metrics.StoreFallbacksTotal.WithLabelValues("upsert").Inc()
	f.logger.Warn("session store unavailable, writing to memory only", zap.Error(err))
	sess.UpdatedAt = time.Now().UTC()
	f.cache(sess)
	return nil
}

func (f *FallbackSessions) GetOrCreateByContact(ctx context.Context, contact string) (string, error) {
	key, err := f.durable.GetOrCreateByContact(ctx, contact)
	if err == nil {
		if contact != "" {
			f.mu.Lock()
			f.byContact[contact] = key
			f.mu.Unlock()
		}
		return key, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return "", err
	}

	metrics.StoreFallbacksTotal.WithLabelValues("get_or_create").Inc()

	if contact != "" {
		f.mu.RLock()
		key, ok := f.byContact[contact]
		var cached *model.ConversationSession
		if ok {
			cached = f.sessions[key]
		}
		f.mu.RUnlock()
		if ok && cached != nil && time.Since(cached.UpdatedAt) <= f.sessionTTL {
			return key, nil
		}
	}

	sess := model.NewSession(newSessionKey(), contact, time.Now().UTC())
	f.cache(&sess)
	return sess.SessionKey, nil
}

func newSessionKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (f *FallbackSessions) cache(sess *model.ConversationSession) {
	cp := *sess
	f.mu.Lock()
	f.sessions[cp.SessionKey] = &cp
	if cp.Contact != "" {
		f.byContact[cp.Contact] = cp.SessionKey
	}
	f.mu.Unlock()
}
