package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"churchmap.org/internal/oauth"
)

// OAuthValidator is the slice of the OAuth service the resolver needs.
type OAuthValidator interface {
	ValidateAccess(ctx context.Context, presented string) (*oauth.AccessToken, error)
}

// Resolver normalises the three credential forms — OAuth bearer access token,
// long-lived API token, browser session cookie — into one Identity. Absent or
// invalid credentials yield nil, never an error; callers distinguish 401 from
// 403 by the identity's presence and role.
type Resolver struct {
	oauth    OAuthValidator
	tokens   *TokenService
	sessions SessionStore
	users    UserDirectory
	codec    *SessionCodec
	now      func() time.Time
}

// NewResolver constructs a Resolver. Any credential source may be nil, in
// which case that mechanism is skipped.
func NewResolver(ov OAuthValidator, tokens *TokenService, sessions SessionStore, users UserDirectory, codec *SessionCodec) *Resolver {
	return &Resolver{oauth: ov, tokens: tokens, sessions: sessions, users: users, codec: codec, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (r *Resolver) WithClock(fn func() time.Time) *Resolver {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Resolve inspects the request's credentials in fixed order — OAuth access
// token, API token, session cookie — and returns the first identity that
// verifies, or nil for an anonymous caller.
func (r *Resolver) Resolve(req *http.Request) *Identity {
	ctx := req.Context()

	if bearer := bearerToken(req.Header.Get("Authorization")); bearer != "" {
		if r.oauth != nil {
			if tok, err := r.oauth.ValidateAccess(ctx, bearer); err == nil {
				if ident := r.identityFor(ctx, tok.UserID, tok.Scope, CredentialOAuthToken, tok.ID, ""); ident != nil {
					return ident
				}
			}
		}
		if r.tokens != nil {
			if tok, err := r.tokens.Verify(ctx, bearer); err == nil {
				if ident := r.identityFor(ctx, tok.OwnerID, tok.Scope, CredentialAPIToken, tok.ID, ""); ident != nil {
					return ident
				}
			}
		}
	}

	if r.sessions != nil && r.codec != nil {
		if cookie, err := req.Cookie(SessionCookieName); err == nil {
			if sid, err := r.codec.Decode(cookie.Value); err == nil {
				if sess, err := r.sessions.Find(ctx, sid); err == nil && r.now().Before(sess.ExpiresAt) {
					if ident := r.identityFor(ctx, sess.UserID, "", CredentialSession, "", sess.ID); ident != nil {
						return ident
					}
				}
			}
		}
	}

	return nil
}

// identityFor finishes an identity by resolving the subject's role. A
// subject the directory no longer knows invalidates the credential.
func (r *Resolver) identityFor(ctx context.Context, userID, scope string, kind CredentialKind, tokenID, sessionID string) *Identity {
	role := RoleNone
	if r.users != nil {
		resolved, err := r.users.RoleOf(ctx, userID)
		if err != nil {
			return nil
		}
		role = resolved
	}
	return &Identity{
		SubjectID: userID,
		Role:      role,
		Scope:     scope,
		Kind:      kind,
		TokenID:   tokenID,
		SessionID: sessionID,
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
