package room

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Debounce windows and retry backoff, spec.md §4.8.
const (
	debounceQuiet   = 2 * time.Second
	debounceMaxWait = 10 * time.Second
)

var retryBackoff = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second, 10 * time.Second}

// persistenceWorker debounces room mutations and writes the room's current
// text back to the File Store, retrying on failure with exponential
// backoff. One worker goroutine per room, so a hot room cannot starve
// others (spec.md §4.8).
type persistenceWorker struct {
	persist  PersistFunc
	snapshot func() (text, hash string)
	log      zerolog.Logger

	mu                sync.Mutex
	lastPersistedHash string
	dirty             bool

	notify   chan struct{}
	flushReq chan flushRequest
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type flushRequest struct {
	done chan error
}

func newPersistenceWorker(persist PersistFunc, snapshot func() (string, string), logger zerolog.Logger) *persistenceWorker {
	w := &persistenceWorker{
		persist:  persist,
		snapshot: snapshot,
		log:      logger,
		notify:   make(chan struct{}, 1),
		flushReq: make(chan flushRequest),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.run()
	return w
}

// notifyDirty marks the room dirty and wakes the debounce loop. uploaderUserID
// is accepted for symmetry with the Room/Transport call site (spec.md §4.8
// attributes a write-back to the update that triggered it) but the worker
// itself persists the room's current text regardless of who last touched it.
func (w *persistenceWorker) notifyDirty(uploaderUserID string) {
	w.mu.Lock()
	w.dirty = true
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *persistenceWorker) run() {
	defer close(w.doneCh)

	var quiet, maxWait <-chan time.Time
	pending := false

	for {
		select {
		case <-w.stopCh:
			return

		case <-w.notify:
			if !pending {
				pending = true
				maxWait = time.After(debounceMaxWait)
			}
			quiet = time.After(debounceQuiet)

		case <-quiet:
			pending = false
			quiet, maxWait = nil, nil
			if err := w.persistWithRetry(context.Background()); err != nil {
				w.log.Warn().Err(err).Msg("room persistence failed after exhausting retries, leaving dirty for next window")
			}

		case <-maxWait:
			pending = false
			quiet, maxWait = nil, nil
			if err := w.persistWithRetry(context.Background()); err != nil {
				w.log.Warn().Err(err).Msg("room persistence failed after exhausting retries, leaving dirty for next window")
			}

		case req := <-w.flushReq:
			pending = false
			quiet, maxWait = nil, nil
			req.done <- w.persistWithRetry(context.Background())
		}
	}
}

// persistWithRetry writes the room's current text if it differs from the
// last persisted hash, retrying on failure per the backoff schedule in
// spec.md §4.8. It returns the last error on exhausted retries, leaving
// dirty set so the next debounce cycle retries; the debounce loop logs the
// failure, a synchronous flush() call reports it to its caller instead.
func (w *persistenceWorker) persistWithRetry(ctx context.Context) error {
	text, hash := w.snapshot()

	w.mu.Lock()
	unchanged := hash == w.lastPersistedHash
	w.mu.Unlock()
	if unchanged {
		return nil
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := w.persist(ctx, text); err != nil {
			lastErr = err
			if attempt >= len(retryBackoff) {
				return lastErr
			}
			select {
			case <-time.After(retryBackoff[attempt]):
			case <-w.stopCh:
				return lastErr
			}
			continue
		}

		w.mu.Lock()
		w.lastPersistedHash = hash
		w.dirty = false
		w.mu.Unlock()
		return nil
	}
}

// flush synchronously persists pending state, used when a Room is about to
// be destroyed (spec.md §4.4 invariant: pending writes MUST be awaited
// before a room's resources are released).
func (w *persistenceWorker) flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case w.flushReq <- flushRequest{done: done}:
	case <-w.doneCh:
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop tears down the worker goroutine without flushing; callers that need
// a final write must call flush first.
func (w *persistenceWorker) stop() {
	select {
	case <-w.doneCh:
		return
	default:
	}
	close(w.stopCh)
	<-w.doneCh
}

// contentHash fingerprints a document's text so the persistence worker can
// skip writing back content that hasn't actually changed since last flush.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
