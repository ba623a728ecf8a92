package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alem-hub/botcore/internal/domain/session"
)

// SessionStore implements session.Store on the chat_sessions table.
type SessionStore struct {
	db Querier
}

// NewSessionStore creates a store. db may be a *Connection, a pool or a
// transaction.
func NewSessionStore(db Querier) *SessionStore {
	return &SessionStore{db: db}
}

const (
	selectSessionSQL = `
		SELECT chat_id, data, created_at, updated_at
		FROM chat_sessions
		WHERE chat_id = $1`

	upsertSessionSQL = `
		INSERT INTO chat_sessions (chat_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chat_id) DO UPDATE
		SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	deleteSessionSQL = `DELETE FROM chat_sessions WHERE chat_id = $1`
)

// Get implements session.Store.
func (s *SessionStore) Get(ctx context.Context, chatID int64) (*session.Session, error) {
	var (
		sess session.Session
		raw  []byte
	)

	err := s.db.QueryRow(ctx, selectSessionSQL, chatID).
		Scan(&sess.ChatID, &raw, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get session %d: %w", chatID, err)
	}

	sess.Values = make(map[string]string)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &sess.Values); err != nil {
			return nil, fmt.Errorf("postgres: decode session %d: %w", chatID, err)
		}
	}
	return &sess, nil
}

// Set implements session.Store with an upsert. created_at is kept from the
// first write.
func (s *SessionStore) Set(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ChatID == 0 {
		return session.ErrInvalidChatID
	}

	values := sess.Values
	if values == nil {
		values = map[string]string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("postgres: encode session %d: %w", sess.ChatID, err)
	}

	if _, err := s.db.Exec(ctx, upsertSessionSQL, sess.ChatID, raw, sess.CreatedAt, sess.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: set session %d: %w", sess.ChatID, err)
	}
	return nil
}

// Remove implements session.Store.
func (s *SessionStore) Remove(ctx context.Context, chatID int64) error {
	if _, err := s.db.Exec(ctx, deleteSessionSQL, chatID); err != nil {
		return fmt.Errorf("postgres: remove session %d: %w", chatID, err)
	}
	return nil
}
