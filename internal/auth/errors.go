package auth

import "errors"

// Sentinel failures from request authentication. The middleware maps
// ErrUnauthorized and ErrInvalidToken onto 401 and ErrForbidden onto 403.
var (
	ErrUnauthorized = errors.New("auth: missing bearer token")
	ErrForbidden    = errors.New("auth: insufficient role")
	ErrInvalidToken = errors.New("auth: token rejected")
)
