package postgres

import (
	"context"
	"time"

	"github.com/hongminglow/qrpay/internal/models"
	"github.com/hongminglow/qrpay/internal/storage"
)

// CreateSession inserts an access-token session.
func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.db(ctx).Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt,
	)
	return classify("create session", err)
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (models.Session, error) {
	var sess models.Session
	err := s.db(ctx).QueryRow(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt)
	return sess, classify("get session", err)
}

// DeleteSession removes a session.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return classify("delete session", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredSessions removes sessions past their deadline.
func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db(ctx).Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, classify("delete expired sessions", err)
	}
	return tag.RowsAffected(), nil
}
