// Package oauth implements the gateway's OAuth 2.1 authorization-code flow
// with PKCE: short-lived single-use codes bound to a client-held verifier,
// exchanged for opaque one-hour bearer access tokens.
package oauth

import (
	"context"
	"errors"
	"time"
)

const (
	// CodeTTL is the authorization-code lifetime.
	CodeTTL = 10 * time.Minute
	// AccessTokenTTL is the bearer access-token lifetime.
	AccessTokenTTL = time.Hour
)

var (
	ErrClientNotFound   = errors.New("oauth: client not found")
	ErrRedirectMismatch = errors.New("oauth: redirect uri not registered")
	ErrBadChallenge     = errors.New("oauth: malformed code challenge")
	ErrCodeNotFound     = errors.New("oauth: code not found")
	ErrCodeUsed         = errors.New("oauth: code already used")
	ErrCodeExpired      = errors.New("oauth: code expired")
	ErrPKCEMismatch     = errors.New("oauth: pkce verification failed")
	ErrTokenInvalid     = errors.New("oauth: invalid access token")
)

// Client is a registered third-party application.
type Client struct {
	ID           string
	Name         string
	RedirectURIs []string
	CreatedAt    time.Time
}

// Code is a single-use authorization code bound to a PKCE challenge.
type Code struct {
	Code          string
	ClientID      string
	UserID        string
	RedirectURI   string
	Scope         string
	CodeChallenge string
	Method        string // "S256" or "plain"
	ExpiresAt     time.Time
	UsedAt        *time.Time
}

// AccessToken is a bearer token row. The token value itself is opaque and
// stored only as a sha256 hash; ID identifies the credential on audit
// entries.
type AccessToken struct {
	ID        string
	TokenHash string
	ClientID  string
	UserID    string
	Scope     string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Store persists clients, codes and access tokens.
type Store interface {
	FindClient(ctx context.Context, id string) (*Client, error)
	CreateCode(ctx context.Context, code *Code) error
	FindCode(ctx context.Context, code string) (*Code, error)
	// MarkCodeUsed records consumption. Codes are consumed only on
	// successful exchange, never on a failed attempt.
	MarkCodeUsed(ctx context.Context, code string, at time.Time) error
	CreateToken(ctx context.Context, tok *AccessToken) error
	FindTokenByHash(ctx context.Context, hash string) (*AccessToken, error)
	RevokeToken(ctx context.Context, id string, at time.Time) error
}
