package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is the tolerance applied to exp/nbf validation, per spec.md §4.1.
const clockSkew = 60 * time.Second

// idClaims mirrors the subset of claims the core reads out of an IdP-issued
// access token. The token itself is opaque beyond these fields.
type idClaims struct {
	jwt.RegisteredClaims
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// Verifier validates bearer tokens against the identity provider's published
// signing keys (JWKS) and produces a Principal. It is safe for concurrent use.
type Verifier struct {
	keyfunc jwt.Keyfunc
}

// NewVerifier builds a Verifier backed by the JWKS endpoint at jwksURL. The
// keyset is fetched once and refreshed automatically by keyfunc's background
// refresh loop; ctx governs the lifetime of that refresh goroutine.
func NewVerifier(ctx context.Context, jwksURL string) (*Verifier, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("JWT_JWKS_URL must not be empty")
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}

	return &Verifier{keyfunc: kf.Keyfunc}, nil
}

// Authenticate parses and validates a bearer token string and returns the
// Principal it asserts. Claims used are sub (userId), email, and
// preferred_username/name for display name, per spec.md §4.1.
func (v *Verifier) Authenticate(tokenStr string) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, ErrUnauthenticated
	}

	claims := &idClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyfunc,
		jwt.WithLeeway(clockSkew),
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, ErrTokenInvalid
	}

	displayName := claims.PreferredUsername
	if displayName == "" {
		displayName = claims.Name
	}

	return Principal{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: displayName,
	}, nil
}
