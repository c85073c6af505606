package pg

import (
	"context"
	"database/sql"
	"errors"

	"churchmap.org/internal/auth"
)

// SessionStore reads browser sessions written by the surrounding web
// application. The gateway never creates or deletes sessions.
type SessionStore struct {
	db *sql.DB
}

var _ auth.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, expires_at from sessions where id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = sess.ExpiresAt.UTC()
	return &sess, nil
}

// UserDirectory resolves user roles from the shared users table.
type UserDirectory struct {
	db *sql.DB
}

var _ auth.UserDirectory = (*UserDirectory)(nil)

func (s *UserDirectory) RoleOf(ctx context.Context, userID string) (auth.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		select coalesce(role, 'none') from users where id = $1
	`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RoleNone, auth.ErrNotFound
	}
	if err != nil {
		return auth.RoleNone, err
	}
	switch auth.Role(role) {
	case auth.RoleAdmin, auth.RoleContributor:
		return auth.Role(role), nil
	}
	return auth.RoleNone, nil
}
