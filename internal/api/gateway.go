package api

import (
	"context"
	"net/url"

	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/apierr"
	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/gateway"
	"github.com/codecollab/hub/internal/httputil"
)

// GatewayHandler serves the real-time WebSocket upgrade endpoint,
// spec.md §6.2.
type GatewayHandler struct {
	hub         *gateway.Hub
	subprotocol string
	log         zerolog.Logger
}

func NewGatewayHandler(hub *gateway.Hub, subprotocol string, logger zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{hub: hub, subprotocol: subprotocol, log: logger}
}

// Upgrade handles GET /rt/{sessionId}/{filePathEncoded}. The Auth Gate
// (RequireAuth middleware) has already run by the time this handler is
// reached, so principal is already in Locals; it is read here, before the
// upgrade, and captured by the per-connection callback since conn itself
// carries no Fiber context.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	filePath, err := url.PathUnescape(c.Params("filePath"))
	if err != nil {
		return httputil.Fail(c, apierr.ValidationError, "invalid file path encoding")
	}
	sessionID := c.Params("sessionId")
	principal := auth.Authenticated(c)

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(context.Background(), conn.Conn, principal, sessionID, filePath)
	}, websocket.Config{Subprotocols: []string{h.subprotocol}})(c)
}
