package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"churchmap.org/internal/oauth"
)

// OAuthStore persists registered clients, authorization codes and access
// tokens. Redirect URIs live in a child table so the schema stays plain SQL.
type OAuthStore struct {
	db *sql.DB
}

var _ oauth.Store = (*OAuthStore)(nil)

func (s *OAuthStore) FindClient(ctx context.Context, id string) (*oauth.Client, error) {
	var client oauth.Client
	err := s.db.QueryRowContext(ctx, `
		select id, name, created_at from oauth_clients where id = $1
	`, id).Scan(&client.ID, &client.Name, &client.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	client.CreatedAt = client.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		select uri from oauth_client_redirects where client_id = $1 order by uri asc
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, err
		}
		client.RedirectURIs = append(client.RedirectURIs, uri)
	}
	return &client, rows.Err()
}

func (s *OAuthStore) CreateCode(ctx context.Context, code *oauth.Code) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_codes
			(code, client_id, user_id, redirect_uri, scope, code_challenge, method, expires_at)
		values ($1, $2, $3, $4, nullif($5,''), $6, $7, $8)
	`, code.Code, code.ClientID, code.UserID, code.RedirectURI,
		code.Scope, code.CodeChallenge, code.Method, code.ExpiresAt)
	return err
}

func (s *OAuthStore) FindCode(ctx context.Context, value string) (*oauth.Code, error) {
	var code oauth.Code
	var used sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select code, client_id, user_id, redirect_uri, coalesce(scope,''),
			code_challenge, method, expires_at, used_at
		from oauth_codes where code = $1
	`, value).Scan(&code.Code, &code.ClientID, &code.UserID, &code.RedirectURI,
		&code.Scope, &code.CodeChallenge, &code.Method, &code.ExpiresAt, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	code.ExpiresAt = code.ExpiresAt.UTC()
	code.UsedAt = nullTime(used)
	return &code, nil
}

func (s *OAuthStore) MarkCodeUsed(ctx context.Context, value string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update oauth_codes set used_at = $2 where code = $1 and used_at is null
	`, value, at)
	return err
}

func (s *OAuthStore) CreateToken(ctx context.Context, tok *oauth.AccessToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_tokens
			(id, token_hash, client_id, user_id, scope, expires_at, created_at)
		values ($1, $2, $3, $4, nullif($5,''), $6, $7)
	`, tok.ID, tok.TokenHash, tok.ClientID, tok.UserID, tok.Scope, tok.ExpiresAt, tok.CreatedAt)
	return err
}

func (s *OAuthStore) FindTokenByHash(ctx context.Context, hash string) (*oauth.AccessToken, error) {
	var tok oauth.AccessToken
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select id, token_hash, client_id, user_id, coalesce(scope,''),
			expires_at, revoked_at, created_at
		from oauth_tokens where token_hash = $1
	`, hash).Scan(&tok.ID, &tok.TokenHash, &tok.ClientID, &tok.UserID,
		&tok.Scope, &tok.ExpiresAt, &revoked, &tok.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrTokenInvalid
	}
	if err != nil {
		return nil, err
	}
	tok.ExpiresAt = tok.ExpiresAt.UTC()
	tok.CreatedAt = tok.CreatedAt.UTC()
	tok.RevokedAt = nullTime(revoked)
	return &tok, nil
}

func (s *OAuthStore) RevokeToken(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update oauth_tokens set revoked_at = $2 where id = $1 and revoked_at is null
	`, id, at)
	return err
}
