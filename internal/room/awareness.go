package room

import (
	"encoding/json"
	"strconv"
	"sync"
)

// Awareness is the per-room presence registry (spec.md §4.6). Safe for
// concurrent use, though in practice all mutation happens on the owning
// Room's single logical execution lane.
type Awareness struct {
	mu    sync.RWMutex
	state map[ClientID]AwarenessState
}

func NewAwareness() *Awareness {
	return &Awareness{state: make(map[ClientID]AwarenessState)}
}

func (a *Awareness) Set(id ClientID, state AwarenessState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[id] = state
}

func (a *Awareness) Remove(id ClientID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.state, id)
}

func (a *Awareness) All() map[ClientID]AwarenessState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[ClientID]AwarenessState, len(a.state))
	for k, v := range a.state {
		out[k] = v
	}
	return out
}

// awarenessWire is the JSON-over-the-wire shape for awareness frames. JSON
// is used here rather than the CRDT's gob encoding because awareness state
// is a simple ephemeral map with no causal history to reconcile (spec.md
// §4.6 "never persisted"), so there is no state-vector diffing concern
// the way there is for the CRDT document.
type awarenessWire struct {
	// Entries maps clientId (as a string key, since JSON object keys must
	// be strings) to state. A nil value (JSON null) signals removal, used
	// only in incremental updates, never in a full snapshot.
	Entries map[string]*AwarenessState `json:"entries"`
}

// EncodeSnapshot encodes the full current awareness set for a joining
// subscriber.
func (a *Awareness) EncodeSnapshot() ([]byte, error) {
	all := a.All()
	entries := make(map[string]*AwarenessState, len(all))
	for id, state := range all {
		s := state
		entries[clientIDKey(id)] = &s
	}
	return json.Marshal(awarenessWire{Entries: entries})
}

// EncodeUpdate encodes an incremental change affecting only the given
// client IDs. removed marks IDs whose entries should be cleared on
// receivers rather than looked up from current state (e.g. on disconnect).
func (a *Awareness) EncodeUpdate(changed []ClientID, removed map[ClientID]bool) ([]byte, error) {
	all := a.All()
	entries := make(map[string]*AwarenessState, len(changed))
	for _, id := range changed {
		if removed[id] {
			entries[clientIDKey(id)] = nil
			continue
		}
		if state, ok := all[id]; ok {
			s := state
			entries[clientIDKey(id)] = &s
		}
	}
	return json.Marshal(awarenessWire{Entries: entries})
}

// DecodeUpdate parses an awareness frame into per-client states; a nil
// pointer value means that client's entry was removed.
func DecodeUpdate(raw []byte) (map[ClientID]*AwarenessState, error) {
	var wire awarenessWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	out := make(map[ClientID]*AwarenessState, len(wire.Entries))
	for key, state := range wire.Entries {
		id, err := parseClientIDKey(key)
		if err != nil {
			continue
		}
		out[id] = state
	}
	return out, nil
}

func clientIDKey(id ClientID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseClientIDKey(key string) (ClientID, error) {
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil {
		return 0, err
	}
	return ClientID(n), nil
}
