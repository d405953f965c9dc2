// Package history records conversations and serializes work per session so
// that a user turn and its reply always occupy adjacent positions.
package history

import (
	"context"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"

	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

const appendTimeout = 5 * time.Second

type Service struct {
	store Store
	locks cmap.ConcurrentMap[string, *sessionLock]
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

func NewService(store Store) *Service {
	return &Service{store: store, locks: cmap.New[*sessionLock]()}
}

// Lock blocks until the caller holds sessionID exclusively or ctx is done.
// The returned function releases it; the entry is dropped once nobody holds
// or waits.
func (s *Service) Lock(ctx context.Context, sessionID string) (func(), error) {
	l := s.locks.Upsert(sessionID, nil, func(exist bool, cur, _ *sessionLock) *sessionLock {
		if !exist || cur == nil {
			cur = &sessionLock{sem: make(chan struct{}, 1)}
		}
		cur.refs++
		return cur
	})
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(sessionID)
		return nil, apperr.Trace("history.Lock", ctx.Err())
	}
	return func() {
		<-l.sem
		s.release(sessionID)
	}, nil
}

func (s *Service) release(sessionID string) {
	s.locks.RemoveCb(sessionID, func(_ string, v *sessionLock, exists bool) bool {
		if !exists {
			return false
		}
		v.refs--
		return v.refs <= 0
	})
}

// LoadHistory returns up to limit most recent turns in order. A storage
// failure is logged and yields an empty history.
func (s *Service) LoadHistory(ctx context.Context, sessionID string, limit int) []types.Turn {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	turns, err := s.store.Load(ctx, sessionID, limit)
	if err != nil {
		logging.ErrorLogger.Error("history load failed", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return turns
}

// FullHistory is LoadHistory without a window, reporting storage failures.
func (s *Service) FullHistory(ctx context.Context, sessionID string) ([]types.Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperr.Validation("history.FullHistory", "A session identifier is required.")
	}
	turns, err := s.store.Load(ctx, sessionID, 0)
	if err != nil {
		return nil, apperr.PersistenceUnavailable("history.FullHistory", err)
	}
	if turns == nil {
		turns = []types.Turn{}
	}
	return turns, nil
}

// AppendTurns writes turns atomically. It outlives cancellation of ctx once
// started, bounded by its own timeout.
func (s *Service) AppendTurns(ctx context.Context, meta Meta, turns ...types.Turn) ([]types.Turn, error) {
	if meta.SessionID == "" || len(turns) == 0 {
		return nil, nil
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	saved, err := s.store.Append(wctx, meta, turns)
	if err != nil {
		logging.ErrorLogger.Error("history append failed",
			zap.String("session_id", meta.SessionID), zap.Int("turns", len(turns)), zap.Error(err))
		return nil, apperr.PersistenceUnavailable("history.AppendTurns", err)
	}
	return saved, nil
}

// StoredMode returns the mode last used in sessionID, if any.
func (s *Service) StoredMode(ctx context.Context, sessionID string) (types.Mode, bool) {
	if sessionID == "" {
		return "", false
	}
	mode, ok, err := s.store.Mode(ctx, sessionID)
	if err != nil {
		logging.ErrorLogger.Error("history mode lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		return "", false
	}
	return mode, ok
}

func (s *Service) SetMode(ctx context.Context, sessionID string, mode types.Mode) error {
	if err := s.store.SetMode(ctx, sessionID, mode); err != nil {
		return apperr.PersistenceUnavailable("history.SetMode", err)
	}
	return nil
}

func (s *Service) Conversations(ctx context.Context, userID, modelID string, mode types.Mode) ([]types.ConversationSummary, error) {
	out, err := s.store.List(ctx, userID, modelID, mode)
	if err != nil {
		return nil, apperr.PersistenceUnavailable("history.Conversations", err)
	}
	if out == nil {
		out = []types.ConversationSummary{}
	}
	return out, nil
}
