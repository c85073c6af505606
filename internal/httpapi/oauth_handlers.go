package httpapi

import (
	"errors"
	"net/http"
	"net/url"

	"churchmap.org/internal/auth"
	"churchmap.org/internal/oauth"
	"churchmap.org/internal/obs"
)

// handleAuthorize serves GET /oauth/authorize. The caller must already hold a
// browser session; anonymous callers are redirected to the sign-in flow with a
// next parameter pointing back here.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	q := r.URL.Query()

	if rt := q.Get("response_type"); rt != "code" {
		writeError(w, r, http.StatusBadRequest, "unsupported response_type")
		return
	}

	ident := a.cfg.Resolver.Resolve(r)
	if ident == nil || ident.Kind != auth.CredentialSession {
		next := url.QueryEscape(r.URL.String())
		http.Redirect(w, r, a.cfg.AuthURL+"?next="+next, http.StatusFound)
		return
	}

	code, err := a.cfg.OAuth.Authorize(r.Context(), oauth.AuthorizeRequest{
		ClientID:      q.Get("client_id"),
		UserID:        ident.SubjectID,
		RedirectURI:   q.Get("redirect_uri"),
		Scope:         q.Get("scope"),
		CodeChallenge: q.Get("code_challenge"),
		Method:        q.Get("code_challenge_method"),
	})
	if err != nil {
		// Never redirect to an unvalidated URI. Challenge problems happen
		// after the redirect URI is validated, so those may bounce back.
		switch {
		case errors.Is(err, oauth.ErrClientNotFound), errors.Is(err, oauth.ErrRedirectMismatch):
			writeError(w, r, http.StatusBadRequest, "unknown client or redirect URI")
		case errors.Is(err, oauth.ErrBadChallenge):
			redirectWithError(w, r, q.Get("redirect_uri"), q.Get("state"), "invalid_request")
		default:
			obs.LogRequest(map[string]any{
				"level":      "error",
				"msg":        "authorize_failed",
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err.Error(),
			})
			redirectWithError(w, r, q.Get("redirect_uri"), q.Get("state"), "server_error")
		}
		return
	}

	dest, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed redirect URI")
		return
	}
	v := dest.Query()
	v.Set("code", code.Code)
	if state := q.Get("state"); state != "" {
		v.Set("state", state)
	}
	dest.RawQuery = v.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// handleToken serves POST /oauth/token for the authorization_code grant.
// Every rejection reason collapses to invalid_grant on the wire; the precise
// cause goes to the log only.
func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if gt := r.PostFormValue("grant_type"); gt != "authorization_code" {
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	plaintext, tok, err := a.cfg.OAuth.Exchange(r.Context(), oauth.ExchangeRequest{
		Code:         r.PostFormValue("code"),
		ClientID:     r.PostFormValue("client_id"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
	})
	if err != nil {
		obs.LogRequest(map[string]any{
			"level":      "warn",
			"msg":        "token_exchange_rejected",
			"request_id": RequestIDFromContext(r.Context()),
			"client_id":  r.PostFormValue("client_id"),
			"reason":     err.Error(),
		})
		oauthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": plaintext,
		"token_type":   "Bearer",
		"expires_in":   int(oauth.AccessTokenTTL.Seconds()),
		"scope":        tok.Scope,
	})
}

// handleRevoke serves POST /oauth/revoke. Per RFC 7009 the endpoint answers
// 200 whether or not the token existed.
func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := a.cfg.OAuth.Revoke(r.Context(), r.PostFormValue("token")); err != nil {
		obs.LogRequest(map[string]any{
			"level":      "error",
			"msg":        "token_revoke_failed",
			"request_id": RequestIDFromContext(r.Context()),
			"error":      err.Error(),
		})
		oauthError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func oauthError(w http.ResponseWriter, code int, name string) {
	writeJSON(w, code, map[string]any{"error": name})
}

func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, state, name string) {
	dest, err := url.Parse(redirectURI)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed redirect URI")
		return
	}
	v := dest.Query()
	v.Set("error", name)
	if state != "" {
		v.Set("state", state)
	}
	dest.RawQuery = v.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}
