package room

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/crdt"
)

// Frame kind tags, spec.md §6.5.
const (
	KindSyncStep1         byte = 0x00
	KindSyncStep2         byte = 0x01
	KindDocUpdate         byte = 0x02
	KindAwarenessSnapshot byte = 0x03
	KindAwarenessUpdate   byte = 0x04
	KindPing              byte = 0x10
	KindPong              byte = 0x11
)

// Subscriber is the Transport-side handle a Room uses to deliver frames to
// one connected client, and to force-disconnect it. Implemented by the
// gateway package's client type; kept as an interface here so Room has no
// dependency on the websocket transport.
type Subscriber interface {
	ID() ClientID
	UserID() string
	// EnqueueDocUpdate and EnqueueAwareness enqueue a pre-tagged wire frame
	// for delivery, applying this subscriber's backpressure policy
	// (spec.md §4.7); ok is false if the subscriber was disconnected as a
	// result (queue full on a non-awareness frame).
	EnqueueDocUpdate(frame []byte) (ok bool)
	EnqueueAwareness(frame []byte) (ok bool)
	Close(code uint16)
}

// PersistFunc writes a room's current text back to the File Store; bound by
// the caller to a specific (sessionId, filePath).
type PersistFunc func(ctx context.Context, text string) error

// Room is one live (session, file) editing surface: a CRDT document, an
// awareness registry, and the set of currently-attached subscribers. All
// mutation happens while holding mu, realizing the "single logical
// execution lane per room" rule in spec.md §5.
type Room struct {
	Key Key

	mu          sync.Mutex
	doc         *crdt.Doc
	awareness   *Awareness
	subscribers map[ClientID]Subscriber
	nextClient  uint32

	dirty             bool
	lastPersistedHash string
	lastActivityAt    time.Time

	persistence *persistenceWorker
}

// New constructs a Room with initialText seeded deterministically (spec.md
// §4.5) and wires a Persistence Worker that calls persist on the debounce
// schedule, logging to logger on exhausted retries (spec.md §4.8, §7).
func New(key Key, initialText string, persist PersistFunc, logger zerolog.Logger) *Room {
	doc := crdt.New()
	doc.Seed(initialText)

	r := &Room{
		Key:            key,
		doc:            doc,
		awareness:      NewAwareness(),
		subscribers:    make(map[ClientID]Subscriber),
		lastActivityAt: time.Now(),
	}
	log := logger.With().Str("sessionId", key.SessionID).Str("filePath", key.FilePath).Logger()
	r.persistence = newPersistenceWorker(persist, r.snapshot, log)
	return r
}

// snapshot returns the room's current text and its content hash; the
// persistence worker compares the hash with the last persisted one to skip
// no-op writes.
func (r *Room) snapshot() (text string, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text = r.doc.ToText()
	return text, contentHash(text)
}

// Text returns the room's current document text.
func (r *Room) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.ToText()
}

// Attach registers a new subscriber, whose ClientID the caller allocated
// with NextClientID, and refreshes the room's activity time. It returns
// nothing; the initial sync handshake is answered by HandleSyncStep1
// (spec.md §4.7 step 4).
func (r *Room) Attach(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[sub.ID()] = sub
	r.lastActivityAt = time.Now()
}

// Detach removes a subscriber, broadcasts its awareness removal, and
// reports whether the room is now empty (a hint for the Registry's idle
// bookkeeping, not itself a destroy decision).
func (r *Room) Detach(sub Subscriber) (empty bool) {
	r.mu.Lock()
	id := sub.ID()
	delete(r.subscribers, id)
	r.awareness.Remove(id)
	remaining := make([]Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		remaining = append(remaining, s)
	}
	r.lastActivityAt = time.Now()
	empty = len(r.subscribers) == 0
	r.mu.Unlock()

	if frame, err := r.awareness.EncodeUpdate([]ClientID{id}, map[ClientID]bool{id: true}); err == nil {
		broadcastAwareness(remaining, frame)
	}
	return empty
}

// HandleSyncStep1 answers a client's state vector with the minimal
// SyncStep2 diff plus a full AwarenessSnapshot, per spec.md §4.7.
func (r *Room) HandleSyncStep1(sub Subscriber, theirStateVector []byte) error {
	r.mu.Lock()
	diff, err := r.doc.EncodeDiff(theirStateVector)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	sub.EnqueueDocUpdate(tagFrame(KindSyncStep2, diff))

	snapshot, err := r.awareness.EncodeSnapshot()
	if err != nil {
		return err
	}
	sub.EnqueueAwareness(tagFrame(KindAwarenessSnapshot, snapshot))
	return nil
}

// HandleDocUpdate applies a client's update, broadcasts it to every other
// subscriber, and marks the room dirty for the Persistence Worker.
func (r *Room) HandleDocUpdate(sub Subscriber, rawUpdate []byte) error {
	update, err := crdt.DecodeUpdate(rawUpdate)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.doc.Apply(update)
	r.dirty = true
	r.lastActivityAt = time.Now()
	others := r.otherSubscribersLocked(sub.ID())
	r.mu.Unlock()

	frame := tagFrame(KindDocUpdate, rawUpdate)
	for _, other := range others {
		other.EnqueueDocUpdate(frame)
	}

	r.persistence.notifyDirty(sub.UserID())
	return nil
}

// HandleAwarenessUpdate applies and broadcasts a client's awareness change.
func (r *Room) HandleAwarenessUpdate(sub Subscriber, rawUpdate []byte) error {
	parsed, err := DecodeUpdate(rawUpdate)
	if err != nil {
		return err
	}

	var changed []ClientID
	removed := make(map[ClientID]bool)
	for id, state := range parsed {
		if state == nil {
			r.awareness.Remove(id)
			removed[id] = true
		} else {
			r.awareness.Set(id, *state)
		}
		changed = append(changed, id)
	}

	r.mu.Lock()
	r.lastActivityAt = time.Now()
	others := r.otherSubscribersLocked(sub.ID())
	r.mu.Unlock()

	frame, err := r.awareness.EncodeUpdate(changed, removed)
	if err != nil {
		return err
	}
	broadcastAwareness(others, tagFrame(KindAwarenessUpdate, frame))
	return nil
}

func (r *Room) otherSubscribersLocked(except ClientID) []Subscriber {
	out := make([]Subscriber, 0, len(r.subscribers))
	for id, sub := range r.subscribers {
		if id != except {
			out = append(out, sub)
		}
	}
	return out
}

func broadcastAwareness(subs []Subscriber, frame []byte) {
	for _, s := range subs {
		s.EnqueueAwareness(frame)
	}
}

// SubscriberCount returns the number of currently attached subscribers.
func (r *Room) SubscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscribers)
}

// IdleSince reports how long the room has had no activity.
func (r *Room) IdleSince() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastActivityAt)
}

// Flush synchronously persists pending state, used by the Registry before
// destroying a room (spec.md §4.4 invariant: "a pending flush MUST be
// awaited").
func (r *Room) Flush(ctx context.Context) error {
	return r.persistence.flush(ctx)
}

// Shutdown stops the room's persistence worker goroutine without flushing;
// callers that need a final write should call Flush first.
func (r *Room) Shutdown() {
	r.persistence.stop()
}

// NextClientID allocates a fresh per-room client identifier for a new
// subscriber, starting at 1 so it never collides with crdt.SeedClient.
func (r *Room) NextClientID() ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextClient++
	return ClientID(r.nextClient)
}

// tagFrame builds a wire frame: a one-byte kind tag followed by a varuint
// length prefix and the payload, per spec.md §6.5.
func tagFrame(kind byte, payload []byte) []byte {
	lenBuf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(lenBuf, uint64(len(payload)))

	out := make([]byte, 0, 1+n+len(payload))
	out = append(out, kind)
	out = append(out, lenBuf[:n]...)
	out = append(out, payload...)
	return out
}
