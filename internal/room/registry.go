package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codecollab/hub/internal/filestore"
)

// DefaultIdleTTL is how long a room may sit with zero subscribers before a
// sweep destroys it, spec.md §4.4.
const DefaultIdleTTL = 2 * time.Hour

// systemUploaderID attributes Persistence Worker write-backs in the files
// table's uploaded_by_user_id column; the worker itself has no notion of
// "who typed this", only that the room is dirty.
const systemUploaderID = "system:persistence-worker"

// entry is a registry slot: either a live room, or, while one is being
// constructed, a wait channel other Acquire calls for the same key block on
// (spec.md §4.4 "lazy creation... concurrent first access must not race").
type entry struct {
	room  *Room
	ready chan struct{}
	err   error
	refs  int
}

// Registry is the process-local Room Registry (spec.md §4.4): it owns the
// lifecycle of every live Room, keyed by (sessionId, filePath), including
// lazy creation seeded from the File Store and idle eviction.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry

	files   *filestore.Store
	log     zerolog.Logger
	idleTTL time.Duration
}

func NewRegistry(files *filestore.Store, logger zerolog.Logger, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Registry{
		entries: make(map[Key]*entry),
		files:   files,
		log:     logger,
		idleTTL: idleTTL,
	}
}

// Acquire returns the live Room for key, creating and seeding it from the
// File Store on first access. Concurrent Acquire calls for the same key
// that race the creation all block on the same in-flight construction and
// see the same *Room (spec.md §4.4). Callers must pair every successful
// Acquire with a Release.
func (reg *Registry) Acquire(ctx context.Context, key Key) (*Room, error) {
	for {
		reg.mu.Lock()
		e, ok := reg.entries[key]
		if ok {
			if e.room != nil {
				e.refs++
				reg.mu.Unlock()
				return e.room, nil
			}
			// Creation by another goroutine is in flight; wait for it.
			waitCh := e.ready
			reg.mu.Unlock()
			<-waitCh
			continue
		}

		e = &entry{ready: make(chan struct{})}
		reg.entries[key] = e
		reg.mu.Unlock()

		room, err := reg.create(ctx, key)

		reg.mu.Lock()
		if err != nil {
			delete(reg.entries, key)
			e.err = err
			close(e.ready)
			reg.mu.Unlock()
			return nil, err
		}
		e.room = room
		e.refs = 1
		close(e.ready)
		reg.mu.Unlock()
		return room, nil
	}
}

func (reg *Registry) create(ctx context.Context, key Key) (*Room, error) {
	text, err := reg.files.GetText(ctx, key.SessionID, key.FilePath)
	if err != nil && !errors.Is(err, filestore.ErrNotFound) {
		return nil, fmt.Errorf("seed room %s/%s: %w", key.SessionID, key.FilePath, err)
	}

	persist := func(ctx context.Context, text string) error {
		_, err := reg.files.PutFile(ctx, key.SessionID, key.FilePath, []byte(text), "", systemUploaderID, filestore.PutOptions{})
		return err
	}

	return New(key, text, persist, reg.log), nil
}

// Release drops one reference to the room at key. It does not destroy the
// room itself; idle rooms are reclaimed only by SweepIdle, so a brief gap
// between the last subscriber leaving and the idle TTL elapsing does not
// lose in-flight awareness or an about-to-arrive reconnect.
func (reg *Registry) Release(key Key) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if e, ok := reg.entries[key]; ok && e.room != nil {
		if e.refs > 0 {
			e.refs--
		}
	}
}

// SweepIdle destroys every room with no outstanding Acquire reference and
// zero subscribers whose idle duration exceeds the registry's idle TTL,
// flushing each before releasing it (spec.md §4.4).
func (reg *Registry) SweepIdle(ctx context.Context) {
	reg.mu.Lock()
	var candidates []Key
	for key, e := range reg.entries {
		if e.room == nil {
			continue
		}
		if e.refs > 0 {
			continue
		}
		if e.room.SubscriberCount() > 0 {
			continue
		}
		if e.room.IdleSince() < reg.idleTTL {
			continue
		}
		candidates = append(candidates, key)
	}
	reg.mu.Unlock()

	for _, key := range candidates {
		reg.destroy(ctx, key)
	}
}

// Purge synchronously flushes and destroys the room at key, if one is
// live, regardless of idle time. Used when a file or session is deleted
// out from under a live room (spec.md §4.4).
func (reg *Registry) Purge(ctx context.Context, key Key) {
	reg.destroy(ctx, key)
}

func (reg *Registry) destroy(ctx context.Context, key Key) {
	reg.mu.Lock()
	e, ok := reg.entries[key]
	if !ok || e.room == nil {
		reg.mu.Unlock()
		return
	}
	delete(reg.entries, key)
	reg.mu.Unlock()

	if err := e.room.Flush(ctx); err != nil {
		reg.log.Warn().Err(err).Str("sessionId", key.SessionID).Str("filePath", key.FilePath).Msg("room flush before destroy failed")
	}
	e.room.Shutdown()
}

// Count reports how many rooms are currently live, for diagnostics.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}
