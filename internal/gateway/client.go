package gateway

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/room"
)

const (
	// maxSendQueue is the bounded per-subscriber frame queue, spec.md §4.7.
	maxSendQueue = 256

	// writeWait is the time allowed to write a single frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may go without a Pong before it is
	// considered dead, spec.md §4.7 ("idle connection timeout = 60s without
	// pong -> close 1006").
	pongWait = 60 * time.Second

	// pingInterval sends a liveness Ping well inside pongWait so a missed
	// single round-trip does not immediately kill the connection.
	pingInterval = 20 * time.Second
)

// Client is one live WebSocket connection attached to exactly one Room. It
// implements room.Subscriber, applying the bounded-queue backpressure
// policy of spec.md §4.7 on the boundary between the Room's broadcast and
// the socket's write loop. Grounded on the teacher's Client readPump/
// writePump split (internal/gateway/client.go), generalized from the
// Discord-style opcode protocol to binary room frames.
type Client struct {
	id     room.ClientID
	userID string

	conn *websocket.Conn
	log  zerolog.Logger

	docSend   chan []byte
	awareSend chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu           sync.Mutex
	closeCode    uint16
	pendingClose bool
	abrupt       bool
}

func newClient(id room.ClientID, userID string, conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{
		id:        id,
		userID:    userID,
		conn:      conn,
		log:       logger,
		docSend:   make(chan []byte, maxSendQueue),
		awareSend: make(chan []byte, maxSendQueue),
		done:      make(chan struct{}),
	}
}

func (c *Client) ID() room.ClientID { return c.id }
func (c *Client) UserID() string    { return c.userID }

// EnqueueDocUpdate never drops a document frame: if the queue is full the
// connection itself is closed, since losing part of the causal history
// would desync the client's CRDT replica (spec.md §4.7).
func (c *Client) EnqueueDocUpdate(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.docSend <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Uint32("clientId", uint32(c.id)).Msg("doc update queue full, closing connection")
		c.Close(ClosePolicyViolation)
		return false
	}
}

// EnqueueAwareness drops the frame rather than blocking or closing the
// connection: awareness is ephemeral, so the next update supersedes a
// dropped one (spec.md §4.7 "drops only awareness frames first").
func (c *Client) EnqueueAwareness(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.awareSend <- frame:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// Close requests the connection be torn down with the given WebSocket close
// code. Safe to call multiple times and from multiple goroutines.
func (c *Client) Close(code uint16) {
	c.mu.Lock()
	if !c.pendingClose {
		c.pendingClose = true
		c.closeCode = code
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// closeAbrupt tears the connection down without sending a close frame, so
// the peer observes an abnormal closure rather than a negotiated one.
func (c *Client) closeAbrupt() {
	c.mu.Lock()
	c.abrupt = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// readLoop reads frames off the WebSocket and dispatches them to the room
// until the connection closes or fails. It does not own the Attach/Detach
// lifecycle; the caller (Hub.ServeWebSocket) does.
func (c *Client) readLoop(rm *room.Room) {
	c.conn.SetReadLimit(MaxFrameSize + 64)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			// An idle timeout (no frame, including Pong, within pongWait)
			// leaves the connection to drop without a close frame, so the
			// client observes the standard abnormal-closure code (spec.md
			// §4.7: "idle connection timeout = 60s without pong -> close
			// 1006"). Any other read error (client-initiated close,
			// network failure) is treated the same way since by this point
			// there is nothing meaningful left to negotiate.
			c.closeAbrupt()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		frame, err := parseFrame(raw)
		if err != nil {
			c.log.Debug().Err(err).Msg("malformed frame")
			code := ClosePolicyViolation
			if err == ErrFrameTooLarge {
				code = CloseFrameTooLarge
			}
			c.Close(uint16(code))
			return
		}

		switch frame.Kind {
		case room.KindSyncStep1:
			if err := rm.HandleSyncStep1(c, frame.Payload); err != nil {
				c.log.Debug().Err(err).Msg("sync step1 failed")
				c.Close(ClosePolicyViolation)
				return
			}
		case room.KindDocUpdate:
			if err := rm.HandleDocUpdate(c, frame.Payload); err != nil {
				c.log.Debug().Err(err).Msg("doc update rejected")
				c.Close(ClosePolicyViolation)
				return
			}
		case room.KindAwarenessUpdate:
			if err := rm.HandleAwarenessUpdate(c, frame.Payload); err != nil {
				c.log.Debug().Err(err).Msg("awareness update rejected")
				c.Close(ClosePolicyViolation)
				return
			}
		case room.KindPing:
			c.EnqueueAwareness(pongFrame())
		case room.KindPong:
			// Read deadline already refreshed above; nothing else to do.
		default:
			c.Close(ClosePolicyViolation)
			return
		}

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// writeLoop drains both send queues to the socket, preferring document
// frames so awareness churn cannot starve document convergence, and sends
// periodic Pings. It exits (and closes the connection) once done fires.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.shutdownConn()

	for {
		select {
		case frame := <-c.docSend:
			if !c.write(frame) {
				return
			}
		case frame := <-c.awareSend:
			if !c.write(frame) {
				return
			}
		case <-ticker.C:
			if !c.write(pingFrame()) {
				return
			}
		case <-c.done:
			c.drain()
			return
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case frame := <-c.docSend:
			c.write(frame)
		case frame := <-c.awareSend:
			c.write(frame)
		default:
			return
		}
	}
}

func (c *Client) write(frame []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.log.Debug().Err(err).Msg("write error")
		return false
	}
	return true
}

func (c *Client) shutdownConn() {
	c.mu.Lock()
	code := c.closeCode
	abrupt := c.abrupt
	c.mu.Unlock()

	if !abrupt {
		if code == 0 {
			code = CloseNormal
		}
		msg := websocket.FormatCloseMessage(int(code), "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	}
	_ = c.conn.Close()
}
