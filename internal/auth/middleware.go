package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/codecollab/hub/internal/apierr"
	"github.com/codecollab/hub/internal/httputil"
)

const principalLocalsKey = "principal"

// RequireAuth returns Fiber middleware that authenticates the bearer token
// carried in the Authorization header or the rt session cookie, storing the
// resulting Principal in Locals. Every REST and WebSocket upgrade route uses
// it except GET /health, per spec.md §6.1.
func RequireAuth(verifier *Verifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		tokenStr, err := bearerToken(c)
		if err != nil {
			return httputil.Fail(c, apierr.Unauthenticated, err.Error())
		}

		principal, err := verifier.Authenticate(tokenStr)
		if err != nil {
			code := apierr.Unauthenticated
			message := "invalid token"
			if errors.Is(err, ErrTokenExpired) {
				message = "token expired"
			}
			return httputil.Fail(c, code, message)
		}

		c.Locals(principalLocalsKey, principal)
		return c.Next()
	}
}

// Authenticated retrieves the Principal a prior RequireAuth call stored for
// this request. It panics if called on a route not guarded by RequireAuth,
// mirroring the teacher's treatment of c.Locals("userID") as a programmer
// invariant rather than a runtime condition to handle gracefully.
func Authenticated(c fiber.Ctx) Principal {
	p, ok := c.Locals(principalLocalsKey).(Principal)
	if !ok {
		panic("auth: RequireAuth middleware was not run for this route")
	}
	return p
}

// bearerToken extracts the access token from the Authorization header,
// falling back to the rt_session HTTP-only cookie used by the WebSocket
// upgrade path (browsers cannot set custom headers on the handshake).
func bearerToken(c fiber.Ctx) (string, error) {
	header := c.Get("Authorization")
	if header != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return "", errors.New("invalid authorization format")
		}
		return strings.TrimPrefix(header, prefix), nil
	}

	if cookie := c.Cookies("rt_session"); cookie != "" {
		return cookie, nil
	}

	return "", errors.New("missing authorization")
}
