package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"churchmap.org/internal/ids"
	"churchmap.org/internal/obs"
)

// tokenPrefix makes long-lived tokens recognisable in configuration files and
// leaked-secret scanners.
const tokenPrefix = "chd_"

// APIToken is a long-lived opaque credential for recurring machine clients.
// Only a bcrypt hash of the secret half is stored; the plaintext is returned
// exactly once at creation.
type APIToken struct {
	ID          string
	OwnerID     string
	DisplayName string
	SecretHash  string
	Scope       string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	RevokedAt   *time.Time
}

// Project renders the token metadata as a JSON-ready map. The hash is never
// included.
func (t *APIToken) Project() map[string]any {
	out := map[string]any{
		"id":          t.ID,
		"ownerId":     t.OwnerID,
		"displayName": t.DisplayName,
		"scope":       t.Scope,
		"createdAt":   t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.LastUsedAt != nil {
		out["lastUsedAt"] = t.LastUsedAt.UTC().Format(time.RFC3339)
	}
	if t.RevokedAt != nil {
		out["revokedAt"] = t.RevokedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// APITokenStore persists long-lived tokens.
type APITokenStore interface {
	Create(ctx context.Context, tok *APIToken) error
	Find(ctx context.Context, id string) (*APIToken, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*APIToken, error)
	ListAll(ctx context.Context) ([]*APIToken, error)
	// MarkRevoked is a terminal, idempotent transition.
	MarkRevoked(ctx context.Context, id string, at time.Time) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// TokenService creates, verifies and revokes long-lived API tokens.
type TokenService struct {
	store APITokenStore
	now   func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(store APITokenStore) *TokenService {
	return &TokenService{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *TokenService) WithClock(fn func() time.Time) *TokenService {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Create mints a new token for ownerID and returns the plaintext form
// ("chd_<id>.<secret>") alongside the stored metadata. The plaintext is not
// retrievable afterwards.
func (s *TokenService) Create(ctx context.Context, ownerID, displayName, scope string) (string, *APIToken, error) {
	ownerID = strings.TrimSpace(ownerID)
	displayName = strings.TrimSpace(displayName)
	if ownerID == "" {
		return "", nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if displayName == "" {
		return "", nil, fmt.Errorf("%w: display name is required", ErrInvalidInput)
	}
	secret, err := ids.NewSecret(32)
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}
	tok := &APIToken{
		ID:          ids.New(),
		OwnerID:     ownerID,
		DisplayName: displayName,
		SecretHash:  string(hash),
		Scope:       scope,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, tok); err != nil {
		return "", nil, err
	}
	return tokenPrefix + tok.ID + "." + secret, tok, nil
}

// Verify checks a presented plaintext token and returns its metadata.
// Successful use updates lastUsedAt best-effort without blocking the caller.
func (s *TokenService) Verify(ctx context.Context, presented string) (*APIToken, error) {
	id, secret, err := splitToken(presented)
	if err != nil {
		return nil, ErrInvalidToken
	}
	tok, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if tok.RevokedAt != nil {
		return nil, ErrRevoked
	}
	if bcrypt.CompareHashAndPassword([]byte(tok.SecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidToken
	}
	go func(id string, at time.Time) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.TouchLastUsed(touchCtx, id, at); err != nil {
			obs.LogRequest(map[string]any{
				"level": "warn", "msg": "token last_used update failed",
				"token_id": id, "error": err.Error(),
			})
		}
	}(tok.ID, s.now().UTC())
	return tok, nil
}

// Revoke marks a token revoked. Revoking an already-revoked token succeeds.
func (s *TokenService) Revoke(ctx context.Context, id string) error {
	if _, err := s.store.Find(ctx, id); err != nil {
		return err
	}
	return s.store.MarkRevoked(ctx, id, s.now().UTC())
}

// List returns the tokens visible to the given owner; pass empty ownerID for
// an unrestricted (admin) listing.
func (s *TokenService) List(ctx context.Context, ownerID string) ([]*APIToken, error) {
	if ownerID == "" {
		return s.store.ListAll(ctx)
	}
	return s.store.ListByOwner(ctx, ownerID)
}

// Find loads token metadata by id.
func (s *TokenService) Find(ctx context.Context, id string) (*APIToken, error) {
	return s.store.Find(ctx, id)
}

func splitToken(raw string) (id, secret string, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, tokenPrefix) {
		return "", "", fmt.Errorf("missing %q prefix", tokenPrefix)
	}
	rest := raw[len(tokenPrefix):]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return "", "", fmt.Errorf("malformed token")
	}
	return rest[:dot], rest[dot+1:], nil
}
