package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"churchmap.org/internal/oauth"
)

type fakeOAuth struct {
	tokens map[string]*oauth.AccessToken
}

func (f *fakeOAuth) ValidateAccess(_ context.Context, presented string) (*oauth.AccessToken, error) {
	tok, ok := f.tokens[presented]
	if !ok {
		return nil, oauth.ErrTokenInvalid
	}
	return tok, nil
}

type fakeSessions struct {
	sessions map[string]*Session
}

func (f *fakeSessions) Find(_ context.Context, id string) (*Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

type fakeUsers struct {
	roles map[string]Role
}

func (f *fakeUsers) RoleOf(_ context.Context, userID string) (Role, error) {
	role, ok := f.roles[userID]
	if !ok {
		return RoleNone, ErrNotFound
	}
	return role, nil
}

func newResolverFixture(t *testing.T) (*Resolver, *fakeOAuth, *TokenService, *fakeSessions, *SessionCodec) {
	t.Helper()
	ov := &fakeOAuth{tokens: make(map[string]*oauth.AccessToken)}
	tokens := NewTokenService(newFakeTokenStore())
	sessions := &fakeSessions{sessions: make(map[string]*Session)}
	users := &fakeUsers{roles: map[string]Role{
		"u-admin":   RoleAdmin,
		"u-contrib": RoleContributor,
	}}
	codec := NewSessionCodec("test-secret")
	return NewResolver(ov, tokens, sessions, users, codec), ov, tokens, sessions, codec
}

func TestResolveAnonymous(t *testing.T) {
	resolver, _, _, _, _ := newResolverFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if ident := resolver.Resolve(req); ident != nil {
		t.Fatalf("bare request resolved to %+v", ident)
	}

	req.Header.Set("Authorization", "Bearer not-a-real-token")
	if ident := resolver.Resolve(req); ident != nil {
		t.Fatalf("junk bearer resolved to %+v", ident)
	}
}

func TestResolveOAuthBearer(t *testing.T) {
	resolver, ov, _, _, _ := newResolverFixture(t)
	ov.tokens["access-1"] = &oauth.AccessToken{
		ID: "tok-1", UserID: "u-admin", Scope: "directory:write",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer access-1")
	ident := resolver.Resolve(req)
	if ident == nil {
		t.Fatal("bearer did not resolve")
	}
	if ident.Kind != CredentialOAuthToken || ident.Role != RoleAdmin || ident.TokenID != "tok-1" {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestResolveAPITokenFallback(t *testing.T) {
	resolver, _, tokens, _, _ := newResolverFixture(t)
	plaintext, tok, err := tokens.Create(context.Background(), "u-contrib", "ci", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not an OAuth access token, so the resolver falls through to API tokens.
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	ident := resolver.Resolve(req)
	if ident == nil {
		t.Fatal("api token did not resolve")
	}
	if ident.Kind != CredentialAPIToken || ident.Role != RoleContributor || ident.TokenID != tok.ID {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestResolveSessionCookie(t *testing.T) {
	resolver, _, _, sessions, codec := newResolverFixture(t)
	expires := time.Now().Add(time.Hour)
	sessions.sessions["sess-1"] = &Session{ID: "sess-1", UserID: "u-contrib", ExpiresAt: expires}

	value, err := codec.Encode("sess-1", expires)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})

	ident := resolver.Resolve(req)
	if ident == nil {
		t.Fatal("session cookie did not resolve")
	}
	if ident.Kind != CredentialSession || ident.SessionID != "sess-1" || ident.Role != RoleContributor {
		t.Fatalf("identity = %+v", ident)
	}
}

func TestResolveExpiredSession(t *testing.T) {
	resolver, _, _, sessions, codec := newResolverFixture(t)
	expires := time.Now().Add(-time.Minute)
	sessions.sessions["sess-old"] = &Session{ID: "sess-old", UserID: "u-contrib", ExpiresAt: expires}

	value, err := codec.Encode("sess-old", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})

	if ident := resolver.Resolve(req); ident != nil {
		t.Fatalf("expired session resolved to %+v", ident)
	}
}

func TestResolveTamperedCookie(t *testing.T) {
	resolver, _, _, sessions, _ := newResolverFixture(t)
	sessions.sessions["sess-1"] = &Session{ID: "sess-1", UserID: "u-contrib", ExpiresAt: time.Now().Add(time.Hour)}

	// Signed with a different secret.
	other := NewSessionCodec("other-secret")
	value, err := other.Encode("sess-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: value})

	if ident := resolver.Resolve(req); ident != nil {
		t.Fatalf("tampered cookie resolved to %+v", ident)
	}
}

func TestResolveUnknownSubjectInvalidatesCredential(t *testing.T) {
	resolver, ov, _, _, _ := newResolverFixture(t)
	ov.tokens["orphan"] = &oauth.AccessToken{
		ID: "tok-x", UserID: "u-gone", ExpiresAt: time.Now().Add(time.Hour),
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer orphan")
	if ident := resolver.Resolve(req); ident != nil {
		t.Fatalf("orphaned credential resolved to %+v", ident)
	}
}

func TestBearerTokenParsing(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"BEARER  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := bearerToken(tc.in); got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
