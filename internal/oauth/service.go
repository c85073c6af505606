package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"churchmap.org/internal/ids"
)

// Service issues authorization codes and access tokens.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// AuthorizeRequest carries a validated sign-in decision: userID is the
// already-authenticated human approving the client.
type AuthorizeRequest struct {
	ClientID      string
	UserID        string
	RedirectURI   string
	Scope         string
	CodeChallenge string
	Method        string
}

// Authorize validates the request against the client's registration and
// issues a ten-minute single-use code.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*Code, error) {
	client, err := s.store.FindClient(ctx, req.ClientID)
	if err != nil {
		return nil, ErrClientNotFound
	}
	if !registeredRedirect(client, req.RedirectURI) {
		return nil, ErrRedirectMismatch
	}
	method := req.Method
	if method == "" {
		method = MethodS256
	}
	if method != MethodS256 && method != MethodPlain {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrBadChallenge, req.Method)
	}
	if method == MethodS256 && !validChallenge(req.CodeChallenge) {
		return nil, ErrBadChallenge
	}
	if req.CodeChallenge == "" {
		return nil, ErrBadChallenge
	}
	secret, err := ids.NewSecret(32)
	if err != nil {
		return nil, err
	}
	code := &Code{
		Code:          secret,
		ClientID:      client.ID,
		UserID:        req.UserID,
		RedirectURI:   req.RedirectURI,
		Scope:         req.Scope,
		CodeChallenge: req.CodeChallenge,
		Method:        method,
		ExpiresAt:     s.now().UTC().Add(CodeTTL),
	}
	if err := s.store.CreateCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// ExchangeRequest is the token-endpoint request for the authorization_code
// grant.
type ExchangeRequest struct {
	Code         string
	ClientID     string
	RedirectURI  string
	CodeVerifier string
}

// Exchange validates the code and PKCE verifier and issues a one-hour bearer
// access token, returning the plaintext token exactly once. Each rejection
// reason is a distinct error so logs can tell them apart; the HTTP layer
// collapses them into a generic invalid_grant for the caller. The code is
// marked used only on success, so a failed PKCE attempt does not burn it.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (string, *AccessToken, error) {
	code, err := s.store.FindCode(ctx, req.Code)
	if err != nil {
		return "", nil, ErrCodeNotFound
	}
	if code.ClientID != req.ClientID {
		return "", nil, ErrClientNotFound
	}
	if code.UsedAt != nil {
		return "", nil, ErrCodeUsed
	}
	now := s.now().UTC()
	if now.After(code.ExpiresAt) {
		return "", nil, ErrCodeExpired
	}
	if code.RedirectURI != req.RedirectURI {
		return "", nil, ErrRedirectMismatch
	}
	if !verifyPKCE(code.CodeChallenge, code.Method, req.CodeVerifier) {
		return "", nil, ErrPKCEMismatch
	}

	plaintext, err := ids.NewSecret(32)
	if err != nil {
		return "", nil, err
	}
	tok := &AccessToken{
		ID:        ids.New(),
		TokenHash: hashToken(plaintext),
		ClientID:  code.ClientID,
		UserID:    code.UserID,
		Scope:     code.Scope,
		ExpiresAt: now.Add(AccessTokenTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateToken(ctx, tok); err != nil {
		return "", nil, err
	}
	if err := s.store.MarkCodeUsed(ctx, code.Code, now); err != nil {
		return "", nil, err
	}
	return plaintext, tok, nil
}

// ValidateAccess resolves a presented bearer token to its stored row,
// rejecting expired and revoked tokens.
func (s *Service) ValidateAccess(ctx context.Context, presented string) (*AccessToken, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrTokenInvalid
	}
	tok, err := s.store.FindTokenByHash(ctx, hashToken(presented))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if tok.RevokedAt != nil {
		return nil, ErrTokenInvalid
	}
	if s.now().UTC().After(tok.ExpiresAt) {
		return nil, ErrTokenInvalid
	}
	return tok, nil
}

// Revoke marks an access token revoked by its presented value. Idempotent.
func (s *Service) Revoke(ctx context.Context, presented string) error {
	tok, err := s.store.FindTokenByHash(ctx, hashToken(presented))
	if err != nil {
		return nil // unknown token: nothing to revoke
	}
	if tok.RevokedAt != nil {
		return nil
	}
	return s.store.RevokeToken(ctx, tok.ID, s.now().UTC())
}

func registeredRedirect(client *Client, uri string) bool {
	for _, registered := range client.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
