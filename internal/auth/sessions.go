package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the browser cookie carrying the signed session token.
const SessionCookieName = "churchmap_session"

// Session is a browser session row written by the surrounding web
// application; the gateway only reads them.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// SessionStore reads sessions from the shared store.
type SessionStore interface {
	Find(ctx context.Context, id string) (*Session, error)
}

// UserDirectory maps a user id to its role. The user table itself belongs to
// the surrounding application.
type UserDirectory interface {
	RoleOf(ctx context.Context, userID string) (Role, error)
}

// SessionCodec signs and verifies the session cookie value: an HS256 JWT
// whose subject is the session id. The web application holds the same secret.
type SessionCodec struct {
	secret []byte
}

// NewSessionCodec constructs a codec from the shared signing secret.
func NewSessionCodec(secret string) *SessionCodec {
	return &SessionCodec{secret: []byte(secret)}
}

// Encode signs a cookie value for the session. The gateway itself never sets
// cookies; this exists for the web application and for tests.
func (c *SessionCodec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies the cookie signature and returns the embedded session id.
func (c *SessionCodec) Decode(value string) (string, error) {
	token, err := jwt.ParseWithClaims(value, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
