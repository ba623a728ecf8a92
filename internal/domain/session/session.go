// Package session defines per-chat conversation state that handlers may read
// and write. Implementations live in infrastructure/persistence.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for a chat.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidChatID is returned for a zero chat id.
	ErrInvalidChatID = errors.New("session: invalid chat id")
)

// Session is the state stored for one chat.
type Session struct {
	ChatID    int64             `json:"chat_id"`
	Values    map[string]string `json:"values"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// New creates an empty session for chatID.
func New(chatID int64) *Session {
	now := time.Now().UTC()
	return &Session{
		ChatID:    chatID,
		Values:    make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Get returns the value stored under key.
func (s *Session) Get(key string) (string, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Put stores value under key and bumps UpdatedAt.
func (s *Session) Put(key, value string) {
	if s.Values == nil {
		s.Values = make(map[string]string)
	}
	s.Values[key] = value
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.Values = make(map[string]string, len(s.Values))
	for k, v := range s.Values {
		c.Values[k] = v
	}
	return &c
}

// Store persists sessions keyed by chat id. Writes are last-write-wins.
type Store interface {
	// Get returns the session for chatID or ErrNotFound.
	Get(ctx context.Context, chatID int64) (*Session, error)

	// Set stores s, replacing any previous session for s.ChatID.
	Set(ctx context.Context, s *Session) error

	// Remove deletes the session for chatID. Removing a missing session is
	// not an error.
	Remove(ctx context.Context, chatID int64) error
}

// Load returns the session for chatID, or a fresh one if none exists.
func Load(ctx context.Context, store Store, chatID int64) (*Session, error) {
	s, err := store.Get(ctx, chatID)
	if errors.Is(err, ErrNotFound) {
		return New(chatID), nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
