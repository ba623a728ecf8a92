package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/alem-hub/botcore/internal/domain/session"
)

// TTLSessionData is the default lifetime of an idle session.
const TTLSessionData = 24 * time.Hour

// PrefixSession is the key prefix for sessions.
const PrefixSession = "session:"

// SessionStore implements session.Store on top of Cache. Every write
// refreshes the TTL.
type SessionStore struct {
	cache *Cache
	ttl   time.Duration
}

// NewSessionStore creates a store. A non-positive ttl selects TTLSessionData.
func NewSessionStore(cache *Cache, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = TTLSessionData
	}
	return &SessionStore{cache: cache, ttl: ttl}
}

// SessionKey returns the cache key for chatID.
func SessionKey(chatID int64) string {
	return PrefixSession + strconv.FormatInt(chatID, 10)
}

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, chatID int64) (*session.Session, error) {
	var sess session.Session
	if err := s.cache.Get(ctx, SessionKey(chatID), &sess); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	if sess.Values == nil {
		sess.Values = make(map[string]string)
	}
	return &sess, nil
}

// Set implements session.Store.
func (s *SessionStore) Set(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ChatID == 0 {
		return session.ErrInvalidChatID
	}
	return s.cache.Set(ctx, SessionKey(sess.ChatID), sess, s.ttl)
}

// Remove implements session.Store.
func (s *SessionStore) Remove(ctx context.Context, chatID int64) error {
	return s.cache.Delete(ctx, SessionKey(chatID))
}
