package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ClaimNonce atomically claims a nonce with insert-or-fail semantics.
// Returns ErrConflict when the nonce was already claimed. This is the
// durable correctness path; in-memory layers are accelerators only.
func (s *Store) ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO nonces (nonce, expires_at) VALUES ($1, $2)
		ON CONFLICT (nonce) DO NOTHING`, nonce, expiresAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ReapNonces deletes expired nonce rows.
func (s *Store) ReapNonces(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateSession stores a cookie-bound session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity, expires_at) VALUES ($1, $2, $3)`,
		sess.ID, sess.Identity, sess.ExpiresAt)
	return err
}

// GetSession loads a live session; expired sessions read as missing.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identity, expires_at, created_at FROM sessions
		WHERE id = $1 AND expires_at > now()`, id).
		Scan(&sess.ID, &sess.Identity, &sess.ExpiresAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// DeleteSession logs a session out.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// ReapSessions deletes expired sessions and chat tokens.
func (s *Store) ReapSessions(ctx context.Context, now time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, now); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_tokens WHERE expires_at < $1`, now)
	return err
}

// CreateChatToken mints a one-shot websocket bearer.
func (s *Store) CreateChatToken(ctx context.Context, t *ChatToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_tokens (id, identity, expires_at) VALUES ($1, $2, $3)`,
		t.ID, t.Identity, t.ExpiresAt)
	return err
}

// ConsumeChatToken atomically marks a token used and returns the bound
// identity. A second consume of the same token fails with ErrNotFound.
func (s *Store) ConsumeChatToken(ctx context.Context, id string) (string, error) {
	var identity string
	err := s.db.QueryRowContext(ctx, `
		UPDATE chat_tokens SET used = true
		WHERE id = $1 AND NOT used AND expires_at > now()
		RETURNING identity`, id).Scan(&identity)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return identity, err
}

// ChatTokenValid reports whether the token row still exists and is
// within its expiry. Used by the 60s session revalidation loop; the
// used bit is expected to be set (the token was consumed at handshake)
// so validity here means not expired and not deleted.
func (s *Store) ChatTokenValid(ctx context.Context, id, identity string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_tokens
			WHERE id = $1 AND identity = $2 AND expires_at > now()
		)`, id, identity).Scan(&ok)
	return ok, err
}

// SessionValid reports whether the exact (session, identity) binding is
// still live.
func (s *Store) SessionValid(ctx context.Context, id, identity string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions
			WHERE id = $1 AND identity = $2 AND expires_at > now()
		)`, id, identity).Scan(&ok)
	return ok, err
}
