package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"churchmap.org/internal/auth"
)

// APITokenStore persists long-lived API tokens.
type APITokenStore struct {
	db *sql.DB
}

var _ auth.APITokenStore = (*APITokenStore)(nil)

const apiTokenColumns = `id, owner_id, display_name, secret_hash, coalesce(scope,''), created_at, last_used_at, revoked_at`

func scanAPIToken(row interface{ Scan(...any) error }) (*auth.APIToken, error) {
	var tok auth.APIToken
	var lastUsed, revoked sql.NullTime
	if err := row.Scan(&tok.ID, &tok.OwnerID, &tok.DisplayName, &tok.SecretHash,
		&tok.Scope, &tok.CreatedAt, &lastUsed, &revoked); err != nil {
		return nil, err
	}
	tok.CreatedAt = tok.CreatedAt.UTC()
	tok.LastUsedAt = nullTime(lastUsed)
	tok.RevokedAt = nullTime(revoked)
	return &tok, nil
}

func (s *APITokenStore) Create(ctx context.Context, tok *auth.APIToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_tokens (id, owner_id, display_name, secret_hash, scope, created_at)
		values ($1, $2, $3, $4, nullif($5,''), $6)
	`, tok.ID, tok.OwnerID, tok.DisplayName, tok.SecretHash, tok.Scope, tok.CreatedAt)
	return err
}

func (s *APITokenStore) Find(ctx context.Context, id string) (*auth.APIToken, error) {
	tok, err := scanAPIToken(s.db.QueryRowContext(ctx,
		`select `+apiTokenColumns+` from api_tokens where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func (s *APITokenStore) ListByOwner(ctx context.Context, ownerID string) ([]*auth.APIToken, error) {
	return s.list(ctx, `select `+apiTokenColumns+` from api_tokens where owner_id = $1 order by created_at asc`, ownerID)
}

func (s *APITokenStore) ListAll(ctx context.Context) ([]*auth.APIToken, error) {
	return s.list(ctx, `select `+apiTokenColumns+` from api_tokens order by created_at asc`)
}

func (s *APITokenStore) list(ctx context.Context, q string, args ...any) ([]*auth.APIToken, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.APIToken
	for rows.Next() {
		tok, err := scanAPIToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, rows.Err()
}

func (s *APITokenStore) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	// revoked_at is write-once: repeat revocations keep the original stamp.
	_, err := s.db.ExecContext(ctx, `
		update api_tokens set revoked_at = $2
		where id = $1 and revoked_at is null
	`, id, at)
	return err
}

func (s *APITokenStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update api_tokens set last_used_at = $2 where id = $1
	`, id, at)
	return err
}
