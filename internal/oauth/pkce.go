package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// Challenge methods defined by RFC 7636.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// validChallenge checks the RFC 7636 format: 43–128 characters from the
// unreserved set.
func validChallenge(challenge string) bool {
	if len(challenge) < 43 || len(challenge) > 128 {
		return false
	}
	for i := 0; i < len(challenge); i++ {
		c := challenge[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '_' || c == '~':
		default:
			return false
		}
	}
	return true
}

// verifyPKCE recomputes the challenge from the presented verifier and
// compares in constant time.
func verifyPKCE(challenge, method, verifier string) bool {
	var computed string
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case MethodPlain:
		computed = verifier
	default:
		return false
	}
	if len(computed) != len(challenge) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
