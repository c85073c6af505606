package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrRevoked      = errors.New("auth: token revoked")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidInput = errors.New("auth: invalid input")
)
