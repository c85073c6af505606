// Package httpapi exposes the gateway over a single HTTP endpoint: GET for a
// capability/status probe, POST for JSON-RPC 2.0 requests and batches. The
// OAuth authorize/token endpoints and the usual health/metrics plumbing live
// alongside it.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"churchmap.org/internal/auth"
	"churchmap.org/internal/oauth"
	"churchmap.org/internal/obs"
	"churchmap.org/internal/rpc"
)

// ReadyProbe checks readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries the wiring of the HTTP layer.
type Config struct {
	Dispatcher *rpc.Dispatcher
	Resolver   *auth.Resolver
	OAuth      *oauth.Service
	Ready      ReadyProbe
	// AuthURL is the human sign-in flow advertised to unauthenticated
	// callers; ResourceURL is this gateway's external base URL, used in the
	// WWW-Authenticate discovery hint.
	AuthURL     string
	ResourceURL string
	Version     string
}

// API is the HTTP layer.
type API struct {
	mux *http.ServeMux
	cfg Config
}

// New wires the routes.
func New(cfg Config) *API {
	a := &API{mux: http.NewServeMux(), cfg: cfg}

	a.mux.HandleFunc("/mcp", a.handleGateway)

	a.mux.HandleFunc("/oauth/authorize", a.handleAuthorize)
	a.mux.HandleFunc("/oauth/token", a.handleToken)
	a.mux.HandleFunc("/oauth/revoke", a.handleRevoke)
	a.mux.HandleFunc("/.well-known/oauth-protected-resource", a.handleResourceMetadata)

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware-wrapped handler.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = RateLimit(h, 40, 20)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// handleGateway serves the protocol endpoint.
func (a *API) handleGateway(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.handleProbe(w, r)
	case http.MethodPost:
		a.handleRPC(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// handleProbe echoes whether the caller is authenticated and their role.
func (a *API) handleProbe(w http.ResponseWriter, r *http.Request) {
	ident := a.cfg.Resolver.Resolve(r)
	payload := map[string]any{
		"service":       "churchmap-gateway",
		"version":       a.cfg.Version,
		"protocol":      rpc.ProtocolVersion,
		"authenticated": ident != nil,
	}
	if ident != nil {
		payload["role"] = string(ident.Role)
		payload["credential"] = string(ident.Kind)
	} else {
		payload["authUrl"] = a.cfg.AuthURL
	}
	writeJSON(w, http.StatusOK, payload)
}

func (a *API) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable request body")
		return
	}
	ident := a.cfg.Resolver.Resolve(r)
	ctx := auth.ContextWithIdentity(r.Context(), ident)

	respBody, status := a.cfg.Dispatcher.Handle(ctx, ident, body)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", a.wwwAuthenticate())
	}
	if len(respBody) == 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(respBody)
}

func (a *API) wwwAuthenticate() string {
	return fmt.Sprintf(`Bearer realm="mcp", resource_metadata=%q`,
		a.cfg.ResourceURL+"/.well-known/oauth-protected-resource")
}

// handleResourceMetadata serves the OAuth protected-resource discovery
// document referenced from WWW-Authenticate.
func (a *API) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":              a.cfg.ResourceURL + "/mcp",
		"authorization_servers": []string{a.cfg.ResourceURL},
		"bearer_methods_supported": []string{
			"header",
		},
	})
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "churchmap-gateway",
		"version": a.cfg.Version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", joinAllowed(allowed))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func joinAllowed(allowed []string) string {
	out := ""
	for i, m := range allowed {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}
