package auth

import "errors"

// Sentinel errors for the auth package. These map to spec error kind
// Unauthenticated: the gate never issues credentials, it only verifies them.
var (
	ErrUnauthenticated = errors.New("no verifiable credential presented")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrInvalidEmail    = errors.New("invalid email address")
)
