package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"churchmap.org/internal/audit"
	"churchmap.org/internal/auth"
	"churchmap.org/internal/directory"
	"churchmap.org/internal/oauth"
	"churchmap.org/internal/rpc"
)

const (
	testSecret      = "test-session-secret"
	testResourceURL = "https://gateway.example"
	testSignInURL   = "https://churchmap.example/signin"
	testRedirectURI = "https://app.example/callback"
	testVerifier    = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type nullAudit struct{}

func (nullAudit) Append(context.Context, *audit.Entry) error { return nil }

type fakeSessions struct {
	sessions map[string]*auth.Session
}

func (f *fakeSessions) Find(_ context.Context, id string) (*auth.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return sess, nil
}

type fakeUsers struct {
	roles map[string]auth.Role
}

func (f *fakeUsers) RoleOf(_ context.Context, id string) (auth.Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return auth.RoleNone, auth.ErrNotFound
	}
	return role, nil
}

type memOAuthStore struct {
	clients map[string]*oauth.Client
	codes   map[string]*oauth.Code
	tokens  map[string]*oauth.AccessToken
}

func newMemOAuthStore() *memOAuthStore {
	return &memOAuthStore{
		clients: make(map[string]*oauth.Client),
		codes:   make(map[string]*oauth.Code),
		tokens:  make(map[string]*oauth.AccessToken),
	}
}

func (m *memOAuthStore) FindClient(_ context.Context, id string) (*oauth.Client, error) {
	c, ok := m.clients[id]
	if !ok {
		return nil, oauth.ErrClientNotFound
	}
	return c, nil
}

func (m *memOAuthStore) CreateCode(_ context.Context, code *oauth.Code) error {
	cp := *code
	m.codes[code.Code] = &cp
	return nil
}

func (m *memOAuthStore) FindCode(_ context.Context, code string) (*oauth.Code, error) {
	c, ok := m.codes[code]
	if !ok {
		return nil, oauth.ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memOAuthStore) MarkCodeUsed(_ context.Context, code string, at time.Time) error {
	if c, ok := m.codes[code]; ok && c.UsedAt == nil {
		c.UsedAt = &at
	}
	return nil
}

func (m *memOAuthStore) CreateToken(_ context.Context, tok *oauth.AccessToken) error {
	cp := *tok
	m.tokens[tok.TokenHash] = &cp
	return nil
}

func (m *memOAuthStore) FindTokenByHash(_ context.Context, hash string) (*oauth.AccessToken, error) {
	tok, ok := m.tokens[hash]
	if !ok {
		return nil, oauth.ErrTokenInvalid
	}
	cp := *tok
	return &cp, nil
}

func (m *memOAuthStore) RevokeToken(_ context.Context, id string, at time.Time) error {
	for _, tok := range m.tokens {
		if tok.ID == id && tok.RevokedAt == nil {
			tok.RevokedAt = &at
		}
	}
	return nil
}

type fixture struct {
	handler  http.Handler
	codec    *auth.SessionCodec
	sessions *fakeSessions
	oauthSvc *oauth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := directory.NewInMemory()
	writes := directory.NewWriteService(store, audit.NewWriter(nullAudit{}))
	reads := directory.NewReadService(store)

	oauthStore := newMemOAuthStore()
	oauthStore.clients["client-1"] = &oauth.Client{
		ID: "client-1", Name: "Example App", RedirectURIs: []string{testRedirectURI},
	}
	oauthSvc := oauth.NewService(oauthStore)

	sessions := &fakeSessions{sessions: make(map[string]*auth.Session)}
	users := &fakeUsers{roles: map[string]auth.Role{"u-contrib": auth.RoleContributor}}
	codec := auth.NewSessionCodec(testSecret)
	resolver := auth.NewResolver(oauthSvc, nil, sessions, users, codec)

	dispatcher := rpc.NewDispatcher(reads, writes, nil, testSignInURL, "churchmap-gateway", "test", nil)

	api := New(Config{
		Dispatcher:  dispatcher,
		Resolver:    resolver,
		OAuth:       oauthSvc,
		Ready:       ReadyProbe{},
		AuthURL:     testSignInURL,
		ResourceURL: testResourceURL,
		Version:     "test",
	})
	return &fixture{handler: api.Handler(), codec: codec, sessions: sessions, oauthSvc: oauthSvc}
}

// sessionCookie registers a live session and returns its signed cookie.
func (f *fixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	expires := time.Now().Add(time.Hour)
	f.sessions.sessions["sess-1"] = &auth.Session{ID: "sess-1", UserID: "u-contrib", ExpiresAt: expires}
	value, err := f.codec.Encode("sess-1", expires)
	if err != nil {
		t.Fatalf("encode cookie: %v", err)
	}
	return &http.Cookie{Name: auth.SessionCookieName, Value: value}
}

func TestProbeAnonymous(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["authenticated"] != false {
		t.Fatalf("body = %v", body)
	}
	if body["authUrl"] != testSignInURL {
		t.Fatalf("authUrl = %v", body["authUrl"])
	}
}

func TestProbeWithSession(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.AddCookie(f.sessionCookie(t))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["authenticated"] != true || body["role"] != "contributor" {
		t.Fatalf("body = %v", body)
	}
}

func TestRPCUnauthorizedSetsWWWAuthenticate(t *testing.T) {
	f := newFixture(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"churches_create","arguments":{"name":"X"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	if !strings.Contains(challenge, "Bearer") || !strings.Contains(challenge, "/.well-known/oauth-protected-resource") {
		t.Fatalf("WWW-Authenticate = %q", challenge)
	}
}

func TestRPCAnonymousDiscovery(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := resp.Result["tools"]; !ok {
		t.Fatalf("result = %v", resp.Result)
	}
}

func TestRPCNotificationGets202(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("notification got a body: %s", rec.Body.String())
	}
}

func TestWellKnownResourceMetadata(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["resource"] != testResourceURL+"/mcp" {
		t.Fatalf("resource = %v", body["resource"])
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func authorizeQuery(state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", "client-1")
	q.Set("redirect_uri", testRedirectURI)
	q.Set("state", state)
	q.Set("code_challenge", s256(testVerifier))
	q.Set("code_challenge_method", "S256")
	return q.Encode()
}

func TestAuthorizeRedirectsAnonymousToSignIn(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authorizeQuery("st"), nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, testSignInURL) {
		t.Fatalf("Location = %q", loc)
	}
}

func TestAuthorizeIssuesCodeForSession(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?"+authorizeQuery("xyzzy"), nil)
	req.AddCookie(f.sessionCookie(t))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302: %s", rec.Code, rec.Body.String())
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), testRedirectURI) {
		t.Fatalf("Location = %q", loc)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect: %q", loc)
	}
	if loc.Query().Get("state") != "xyzzy" {
		t.Fatalf("state not echoed: %q", loc)
	}

	// Exchange the code at the token endpoint.
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", "client-1")
	form.Set("redirect_uri", testRedirectURI)
	form.Set("code_verifier", testVerifier)
	tokenReq := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	tokenReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, tokenReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("token status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["token_type"] != "Bearer" || body["access_token"] == "" {
		t.Fatalf("token response = %v", body)
	}
}

func TestTokenEndpointCollapsesErrors(t *testing.T) {
	f := newFixture(t)
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", "never-issued")
	form.Set("client_id", "client-1")
	form.Set("redirect_uri", testRedirectURI)
	form.Set("code_verifier", testVerifier)
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// The external error never reveals why the grant failed.
	if body["error"] != "invalid_grant" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestTokenEndpointRejectsOtherGrants(t *testing.T) {
	f := newFixture(t)
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "unsupported_grant_type" {
		t.Fatalf("error = %v", body["error"])
	}
}

func TestUnknownPathIs404(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
