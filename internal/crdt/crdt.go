// Package crdt implements the shared text buffer behind each Room: a
// Replicated Growable Array (RGA) with per-site causal identifiers, suitable
// for conflict-free concurrent edits across WebSocket subscribers. It is
// grounded on the RGA sketch in the pack's toy collab-backend
// (RGANodeID{Seq,NodeID}, tombstoned RGANode, per-site sequence counter) but
// completed into a real state-vector CRDT with stable gob encoding so the
// wire format round-trips across process restarts.
package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
)

// SeedClient is the reserved site identifier used exclusively for the
// deterministic seed insert that installs a FileRecord's initial content into
// an empty document, per spec.md §4.5/§6.5. No live subscriber is ever
// assigned this id.
const SeedClient uint32 = 0xFFFFFFFF

// ID identifies an operation (insert or delete) by the site that produced it
// and that site's local clock at the time. IDs are totally ordered by
// (Clock, Client) for RGA tie-breaking: higher Clock wins, then higher
// Client.
type ID struct {
	Client uint32
	Clock  uint64
}

func (a ID) less(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	return a.Client < b.Client
}

var zeroID = ID{}

// Op is a single causal operation: either an insert (carrying a character and
// the ID it was inserted after) or a tombstone delete (carrying the ID of the
// node it removes). Every Op, insert or delete, consumes one clock tick from
// its author's site so it can be tracked in the state vector.
type Op struct {
	ID        ID
	Char      rune
	OriginID  ID
	HasOrigin bool
	Delete    bool
	Target    ID
}

// Update is a batch of causally-ordered operations, the CRDT's wire
// representation for both SyncStep2 diffs and steady-state DocUpdate frames.
type Update []Op

// Event reports the effect of integrating a single operation, reported to
// observers after every successful (non-duplicate) Apply. Position is a
// rune offset into the visible text as it stood immediately before this
// event took effect.
type Event struct {
	Position      int
	InsertedText  string
	DeletedLength int
}

type node struct {
	id       ID
	originID ID
	hasOrigin bool
	ch       rune
	deleted  bool
}

// Doc is a single room's CRDT text document. The zero value is not usable;
// construct with New. Safe for concurrent use.
type Doc struct {
	mu    sync.Mutex
	nodes []node
	index map[ID]int
	sv    map[uint32]uint64
	log   []Op
	// pending buffers ops that arrived before the node they reference;
	// keyed by the missing ID, flushed as soon as it is integrated. This
	// can only happen if a caller feeds an Update out of causal order,
	// which Apply still handles gracefully rather than failing the room.
	pending map[ID][]Op

	observers []func(Event)
}

// New returns an empty document.
func New() *Doc {
	return &Doc{
		index:   make(map[ID]int),
		sv:      make(map[uint32]uint64),
		pending: make(map[ID][]Op),
	}
}

// Observe registers a callback invoked after every operation this document
// integrates (local or remote) that changes visible state.
func (d *Doc) Observe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, fn)
}

// nextClock returns a clock one past the highest clock this document has
// seen from any site and records it as client's latest, so a local insert
// orders ahead of the siblings already at its position.
func (d *Doc) nextClock(client uint32) uint64 {
	var next uint64
	for _, c := range d.sv {
		if c > next {
			next = c
		}
	}
	next++
	d.sv[client] = next
	return next
}

// Insert inserts text at the given rune offset in the visible document,
// authored by client, and returns the Update to broadcast to other
// subscribers. The document is mutated in place as part of this call.
func (d *Doc) Insert(client uint32, pos int, text string) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	var update Update
	origin, hasOrigin := d.visibleOriginLocked(pos)

	for _, ch := range text {
		op := Op{
			ID:        ID{Client: client, Clock: d.nextClock(client)},
			Char:      ch,
			OriginID:  origin,
			HasOrigin: hasOrigin,
		}
		d.integrateLocked(op)
		update = append(update, op)
		origin, hasOrigin = op.ID, true
	}
	return update
}

// Delete removes length runes of visible text starting at pos, authored by
// client, and returns the Update to broadcast.
func (d *Doc) Delete(client uint32, pos, length int) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	targets := d.visibleRangeLocked(pos, length)
	update := make(Update, 0, len(targets))
	for _, target := range targets {
		op := Op{
			ID:     ID{Client: client, Clock: d.nextClock(client)},
			Delete: true,
			Target: target,
		}
		d.integrateLocked(op)
		update = append(update, op)
	}
	return update
}

// Apply integrates a peer's update. Operations already known (by ID) are
// skipped, making Apply idempotent, and operations referencing a not-yet-seen
// origin are buffered until that origin arrives. Apply never fails on
// malformed references; a reference to an ID the replica will never receive
// simply stays buffered, matching the "CRDT apply failures do not disturb the
// room" rule in spec.md §7.
func (d *Doc) Apply(u Update) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range u {
		d.integrateLocked(op)
	}
}

// ToText returns the current visible document content.
func (d *Doc) ToText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Doc) textLocked() string {
	var b []rune
	for _, n := range d.nodes {
		if !n.deleted {
			b = append(b, n.ch)
		}
	}
	return string(b)
}

// integrateLocked applies a single op, buffering it if its dependency is
// unknown, and recursively flushing any ops that were waiting on it.
func (d *Doc) integrateLocked(op Op) {
	if op.Delete {
		d.integrateDeleteLocked(op)
	} else {
		d.integrateInsertLocked(op)
	}
}

func (d *Doc) integrateInsertLocked(op Op) {
	if _, known := d.index[op.ID]; known {
		return
	}

	originPos := -1
	if op.HasOrigin {
		pos, ok := d.index[op.OriginID]
		if !ok {
			d.pending[op.OriginID] = append(d.pending[op.OriginID], op)
			return
		}
		originPos = pos
	}

	at := d.findInsertPositionLocked(originPos, op.ID)
	d.insertNodeAtLocked(at, node{id: op.ID, originID: op.OriginID, hasOrigin: op.HasOrigin, ch: op.Char})

	d.recordLocked(op)
	d.emit(Event{Position: d.visibleOffsetLocked(at), InsertedText: string(op.Char)})
	d.flushPendingLocked(op.ID)
}

// findInsertPositionLocked implements the standard RGA integrate scan: walk
// right from just after the origin while the following nodes were also
// inserted directly after that same origin and sort ahead of op.ID under the
// (Clock desc, Client desc) tie-break, so concurrent inserts at one position
// converge on the same order everywhere.
func (d *Doc) findInsertPositionLocked(originPos int, id ID) int {
	i := originPos + 1
	for i < len(d.nodes) {
		right := d.nodes[i]

		rightOriginPos := -1
		if right.hasOrigin {
			rightOriginPos = d.index[right.originID]
		}

		if rightOriginPos < originPos {
			break
		}
		if rightOriginPos == originPos {
			if id.less(right.id) {
				i++
				continue
			}
			break
		}
		i++
	}
	return i
}

func (d *Doc) integrateDeleteLocked(op Op) {
	pos, ok := d.index[op.Target]
	if !ok {
		d.pending[op.Target] = append(d.pending[op.Target], op)
		return
	}

	if !d.nodes[pos].deleted {
		d.nodes[pos].deleted = true
		d.emit(Event{Position: d.visibleOffsetLocked(pos), DeletedLength: 1})
	}

	d.recordLocked(op)
	d.flushPendingLocked(op.Target)
}

func (d *Doc) recordLocked(op Op) {
	d.log = append(d.log, op)
	if op.ID.Clock > d.sv[op.ID.Client] {
		d.sv[op.ID.Client] = op.ID.Clock
	}
}

func (d *Doc) flushPendingLocked(resolved ID) {
	waiting := d.pending[resolved]
	if len(waiting) == 0 {
		return
	}
	delete(d.pending, resolved)
	for _, op := range waiting {
		d.integrateLocked(op)
	}
}

// insertNodeAtLocked inserts n at slice position at and reindexes. Document
// sizes in this system (editor files, not whole-repo blobs) keep this
// O(n) reindex well within budget; a skip-list index would only pay off at
// sizes this design does not target.
func (d *Doc) insertNodeAtLocked(at int, n node) {
	d.nodes = append(d.nodes, node{})
	copy(d.nodes[at+1:], d.nodes[at:])
	d.nodes[at] = n
	d.reindexLocked()
}

func (d *Doc) reindexLocked() {
	for i, n := range d.nodes {
		d.index[n.id] = i
	}
}

func (d *Doc) visibleOffsetLocked(nodePos int) int {
	offset := 0
	for i := 0; i < nodePos && i < len(d.nodes); i++ {
		if !d.nodes[i].deleted {
			offset++
		}
	}
	return offset
}

// visibleOriginLocked finds the node ID that a new insert at visible offset
// pos should attach after, and whether such a node exists (false means
// "insert at the very start of the document").
func (d *Doc) visibleOriginLocked(pos int) (ID, bool) {
	seen := 0
	for i, n := range d.nodes {
		if n.deleted {
			continue
		}
		seen++
		if seen == pos {
			return n.id, true
		}
		if seen > pos {
			// We passed the target offset while scanning; the previous
			// visible node (if any) is the correct origin.
			for j := i - 1; j >= 0; j-- {
				if !d.nodes[j].deleted {
					return d.nodes[j].id, true
				}
			}
			return zeroID, false
		}
	}
	if seen == 0 {
		return zeroID, false
	}
	// pos == total visible length: attach after the last visible node.
	for j := len(d.nodes) - 1; j >= 0; j-- {
		if !d.nodes[j].deleted {
			return d.nodes[j].id, true
		}
	}
	return zeroID, false
}

// visibleRangeLocked returns the node IDs of the length visible runes
// starting at offset pos, in document order.
func (d *Doc) visibleRangeLocked(pos, length int) []ID {
	var ids []ID
	seen := 0
	for _, n := range d.nodes {
		if n.deleted {
			continue
		}
		if seen >= pos && seen < pos+length {
			ids = append(ids, n.id)
		}
		seen++
		if seen >= pos+length {
			break
		}
	}
	return ids
}

func (d *Doc) emit(ev Event) {
	for _, fn := range d.observers {
		fn(ev)
	}
}

// --- Encoding ---

// stateVectorWire and updateWire are the gob-serializable shapes of a state
// vector and an Update. gob's field-order encoding is stable across
// processes for a fixed struct definition, which is all the "interoperate"
// requirement in spec.md §4.5 needs: server and every connected client are
// the same binary.
type stateVectorWire struct {
	Entries map[uint32]uint64
}

type updateWire struct {
	Ops []Op
}

// StateVector returns the gob-encoded causal summary of this document.
func (d *Doc) StateVector() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make(map[uint32]uint64, len(d.sv))
	for k, v := range d.sv {
		entries[k] = v
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(stateVectorWire{Entries: entries}); err != nil {
		// Encoding a map[uint32]uint64 and a slice of plain structs cannot
		// fail; a panic here would indicate a corrupted build.
		panic(fmt.Sprintf("crdt: encode state vector: %v", err))
	}
	return buf.Bytes()
}

// DecodeStateVector parses bytes produced by StateVector. An empty input
// decodes to an empty state vector, describing a peer that has seen nothing.
func DecodeStateVector(b []byte) (map[uint32]uint64, error) {
	if len(b) == 0 {
		return map[uint32]uint64{}, nil
	}
	var wire stateVectorWire
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode state vector: %w", err)
	}
	return wire.Entries, nil
}

// EncodeDiff produces the minimum Update, gob-encoded, that brings a peer at
// theirStateVector to this document's current state.
func (d *Doc) EncodeDiff(theirStateVector []byte) ([]byte, error) {
	theirSV, err := DecodeStateVector(theirStateVector)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	var missing Update
	for _, op := range d.log {
		if op.ID.Clock > theirSV[op.ID.Client] {
			missing = append(missing, op)
		}
	}
	d.mu.Unlock()

	return EncodeUpdate(missing)
}

// EncodeUpdate gob-encodes an Update for transport.
func EncodeUpdate(u Update) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(updateWire{Ops: u}); err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeUpdate parses bytes produced by EncodeUpdate.
func DecodeUpdate(b []byte) (Update, error) {
	var wire updateWire
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return wire.Ops, nil
}

// Seed installs initial content loaded from a FileRecord into an empty
// document using the reserved SeedClient identifier, so that every replica
// which performs the seed converges on the same state vector, per spec.md
// §4.5. Seed is a no-op if the document is not empty.
func (d *Doc) Seed(text string) {
	d.mu.Lock()
	empty := len(d.nodes) == 0
	d.mu.Unlock()
	if !empty || text == "" {
		return
	}
	d.Insert(SeedClient, 0, text)
}
