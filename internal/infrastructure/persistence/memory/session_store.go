// Package memory provides an in-process session store. It is the default
// backend and the one used in tests.
package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/botcore/internal/domain/session"
)

// SessionStore keeps sessions in a map guarded by a RWMutex.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[int64]*session.Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[int64]*session.Session)}
}

// Get implements session.Store. The returned session is a copy.
func (s *SessionStore) Get(ctx context.Context, chatID int64) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess.Clone(), nil
}

// Set implements session.Store.
func (s *SessionStore) Set(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ChatID == 0 {
		return session.ErrInvalidChatID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ChatID] = sess.Clone()
	return nil
}

// Remove implements session.Store.
func (s *SessionStore) Remove(ctx context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, chatID)
	return nil
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
