package auth

import "context"

// Role is the coarse capability level of an authenticated caller.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
	RoleNone        Role = "none"
)

// CredentialKind records which credential produced an identity.
type CredentialKind string

const (
	CredentialOAuthToken CredentialKind = "oauth_token"
	CredentialAPIToken   CredentialKind = "api_token"
	CredentialSession    CredentialKind = "session"
)

// Identity is the single normalised form of an authenticated caller,
// whichever of the three credential mechanisms produced it. Lifetime is one
// request. A nil *Identity means the caller is anonymous; an Identity with
// RoleNone means authenticated but not privileged — callers must treat the
// two differently (401 vs 403).
type Identity struct {
	SubjectID string
	Role      Role
	Scope     string
	Kind      CredentialKind

	// Exactly one of TokenID / SessionID is set, matching Kind. It becomes
	// the credentialId on audit entries.
	TokenID   string
	SessionID string
}

// CanWrite reports whether the identity may invoke mutation tools.
func (i *Identity) CanWrite() bool {
	if i == nil {
		return false
	}
	return i.Role == RoleAdmin || i.Role == RoleContributor
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

type identityContextKey struct{}

// ContextWithIdentity attaches the resolved identity to the request context.
func ContextWithIdentity(ctx context.Context, ident *Identity) context.Context {
	if ident == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, ident)
}

// IdentityFromContext extracts the resolved identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
