package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/auth"
	"github.com/codecollab/hub/internal/room"
	"github.com/codecollab/hub/internal/session"
)

// clientKey identifies one live connection for the Hub's shutdown/
// invalidation bookkeeping: a room key plus the clientId assigned within
// that room.
type clientKey struct {
	room.Key
	id room.ClientID
}

// roomAcquirer is the subset of *room.Registry the Hub depends on, kept as
// an interface so the connection lifecycle is testable without a real
// File Store.
type roomAcquirer interface {
	Acquire(ctx context.Context, key room.Key) (*room.Room, error)
	Release(key room.Key)
}

// sessionAuthorizer is the subset of *session.Service the Hub depends on.
type sessionAuthorizer interface {
	Authorize(ctx context.Context, p auth.Principal, sessionID string, required session.Role) (session.Decision, error)
}

// Hub is the Transport (spec.md §4.7): it runs the connection lifecycle for
// every `/rt/{sessionId}/{filePath}` upgrade, owns no document state itself
// (that lives in the Room), and reacts to Session Service invalidation
// events by force-closing connections whose role has dropped. Grounded on
// the teacher's internal/gateway Hub (a mutex-protected connection
// registry plus a pub/sub-driven dispatch loop), generalized from a single
// global client registry to one scoped per room.
type Hub struct {
	mu      sync.RWMutex
	clients map[clientKey]*Client

	registry roomAcquirer
	sessions sessionAuthorizer
	log      zerolog.Logger

	maxConnections int
}

func NewHub(registry *room.Registry, sessions *session.Service, maxConnections int, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:        make(map[clientKey]*Client),
		registry:       registry,
		sessions:       sessions,
		maxConnections: maxConnections,
		log:            logger.With().Str("component", "gateway").Logger(),
	}
}

// Run subscribes to Session Service invalidation events and force-closes
// any live connection whose effective role has dropped below viewer
// (spec.md §5 "affected live subscribers are force-closed with 4403").
func (h *Hub) Run(ctx context.Context, rdb *redis.Client) error {
	return session.SubscribeInvalidations(ctx, rdb, func(inv session.Invalidation) {
		h.handleInvalidation(ctx, inv)
	})
}

func (h *Hub) handleInvalidation(ctx context.Context, inv session.Invalidation) {
	h.mu.RLock()
	var affected []*Client
	var keys []clientKey
	for key, c := range h.clients {
		if key.SessionID == inv.SessionID && c.UserID() == inv.UserID {
			affected = append(affected, c)
			keys = append(keys, key)
		}
	}
	h.mu.RUnlock()

	for i, c := range affected {
		p := auth.Principal{UserID: inv.UserID}
		decision, err := h.sessions.Authorize(ctx, p, keys[i].SessionID, session.RoleViewer)
		if err != nil || !decision.Allow {
			c.Close(CloseForbidden)
		}
	}
}

// ServeWebSocket runs the full connection lifecycle for one upgraded
// socket, per spec.md §4.7. The Auth Gate (step 2) has already run as HTTP
// middleware before the upgrade; principal is that authenticated identity.
func (h *Hub) ServeWebSocket(ctx context.Context, conn *websocket.Conn, principal auth.Principal, sessionID, filePath string) {
	decision, err := h.sessions.Authorize(ctx, principal, sessionID, session.RoleViewer)
	if err != nil {
		h.log.Warn().Err(err).Msg("authorize failed during websocket upgrade")
		closeImmediately(conn, CloseForbidden)
		return
	}
	if !decision.Allow {
		closeImmediately(conn, CloseForbidden)
		return
	}

	h.mu.RLock()
	tooMany := h.maxConnections > 0 && len(h.clients) >= h.maxConnections
	h.mu.RUnlock()
	if tooMany {
		closeImmediately(conn, ClosePolicyViolation)
		return
	}

	key := room.Key{SessionID: sessionID, FilePath: filePath}
	rm, err := h.registry.Acquire(ctx, key)
	if err != nil {
		h.log.Warn().Err(err).Str("sessionId", sessionID).Str("filePath", filePath).Msg("room acquire failed")
		closeImmediately(conn, CloseNotFound)
		return
	}

	clientID := rm.NextClientID()
	client := newClient(clientID, principal.UserID, conn, h.log)

	h.register(key, client)
	rm.Attach(client)

	defer func() {
		empty := rm.Detach(client)
		h.unregister(key, client)
		h.registry.Release(key)
		if empty {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rm.Flush(ctx); err != nil {
					h.log.Warn().Err(err).Msg("flush after last subscriber left failed")
				}
			}()
		}
	}()

	go client.writeLoop()
	client.readLoop(rm)
}

func (h *Hub) register(key room.Key, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[clientKey{Key: key, id: c.ID()}] = c
}

func (h *Hub) unregister(key room.Key, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, clientKey{Key: key, id: c.ID()})
}

// Shutdown closes every live connection with code 1001 (server shutting
// down), per spec.md §6.3.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, c := range h.clients {
		c.Close(CloseGoingAway)
		delete(h.clients, key)
	}
	h.log.Info().Msg("gateway hub shut down")
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func closeImmediately(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
