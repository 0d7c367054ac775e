package api

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/directory"
)

// Handlers bundles every REST/WebSocket handler registered by RegisterRoutes.
type Handlers struct {
	Health   *HealthHandler
	Sessions *SessionHandler
	Files    *FileHandler
	Gateway  *GatewayHandler
}

// RegisterRoutes wires every endpoint in spec.md §6.1/§6.2 onto app. verifier
// authenticates every route except GET /health; dir mirrors each
// authenticated principal so InviteParticipant can resolve emails later.
func RegisterRoutes(app *fiber.App, h Handlers, verifier *auth.Verifier, dir *directory.PGDirectory, logger zerolog.Logger) {
	app.Get("/health", h.Health.Health)

	requireAuth := auth.RequireAuth(verifier)
	observe := observePrincipal(dir, logger)

	sessions := app.Group("/api/sessions", requireAuth, observe)
	sessions.Get("/", h.Sessions.List)
	sessions.Post("/", h.Sessions.Create)
	sessions.Get("/:sessionId", h.Sessions.Get)
	sessions.Patch("/:sessionId", h.Sessions.Update)
	sessions.Delete("/:sessionId", h.Sessions.Delete)
	sessions.Get("/:sessionId/participants", h.Sessions.Participants)
	sessions.Post("/:sessionId/participants", h.Sessions.Invite)
	sessions.Put("/:sessionId/join", h.Sessions.Join)
	sessions.Delete("/:sessionId/leave", h.Sessions.Leave)
	sessions.Put("/:sessionId/transfer-ownership", h.Sessions.TransferOwnership)
	sessions.Patch("/:sessionId/participants/:userId", h.Sessions.UpdateParticipantRole)
	sessions.Delete("/:sessionId/participants/:userId", h.Sessions.RemoveParticipant)

	files := app.Group("/api/files", requireAuth, observe)
	files.Get("/session/:sessionId", h.Files.List)
	files.Get("/hierarchy/:sessionId", h.Files.Hierarchy)
	files.Get("/content", h.Files.Content)
	files.Post("/upload", h.Files.Upload)
	files.Delete("/:sessionId/*", h.Files.Delete)
	files.Get("/stats/:sessionId", h.Files.Stats)

	app.Get("/rt/:sessionId/:filePath", requireAuth, h.Gateway.Upgrade)
}

// observePrincipal mirrors the authenticated principal into the directory in
// the background so the request is never slowed down by it.
func observePrincipal(dir *directory.PGDirectory, logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		p := auth.Authenticated(c)
		go dir.Observe(context.Background(), p)
		return c.Next()
	}
}
