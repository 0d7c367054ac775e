package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// authorizeCacheTTL bounds how stale a cached Authorize decision may be
// before it is reloaded from the store, per spec.md §5.
const authorizeCacheTTL = 30 * time.Second

// invalidationChannel is published to whenever a role changes, a participant
// is removed, or a session is deleted, so Transport can force-close affected
// live subscribers per spec.md §5.
const invalidationChannel = "codecollab.session.invalidate"

// Invalidation is the payload published on invalidationChannel.
type Invalidation struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"` // empty means "every participant of this session"
}

// authorizeCache wraps a redis client with the per-(userId,sessionId)
// Authorize cache and its invalidation pub/sub channel. Grounded on the
// teacher's valkey-backed presence cache idea (internal/presence), adapted
// here to a decision cache instead of an online/offline set.
type authorizeCache struct {
	rdb *redis.Client
}

func newAuthorizeCache(rdb *redis.Client) *authorizeCache {
	return &authorizeCache{rdb: rdb}
}

func cacheKey(sessionID, userID string) string {
	return fmt.Sprintf("codecollab:authz:%s:%s", sessionID, userID)
}

func (c *authorizeCache) get(ctx context.Context, sessionID, userID string) (Decision, bool) {
	if c.rdb == nil {
		return Decision{}, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(sessionID, userID)).Bytes()
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

func (c *authorizeCache) set(ctx context.Context, sessionID, userID string, d Decision) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, cacheKey(sessionID, userID), raw, authorizeCacheTTL)
}

// invalidate drops the cached decision(s) and publishes an Invalidation so
// live Transport subscribers can re-check affected connections.
func (c *authorizeCache) invalidate(ctx context.Context, sessionID, userID string) {
	if c.rdb == nil {
		return
	}
	if userID == "" {
		// Session-wide invalidation (e.g. delete): individual keys expire
		// on their own TTL; publish is enough to force live subscribers to
		// re-check without scanning for every participant's cache key.
	} else {
		c.rdb.Del(ctx, cacheKey(sessionID, userID))
	}

	raw, err := json.Marshal(Invalidation{SessionID: sessionID, UserID: userID})
	if err != nil {
		return
	}
	c.rdb.Publish(ctx, invalidationChannel, raw)
}

// SubscribeInvalidations lets Transport watch for role/removal/deletion
// events so it can force-close connections whose effective role drops below
// viewer, per spec.md §5.
func SubscribeInvalidations(ctx context.Context, rdb *redis.Client, handle func(Invalidation)) error {
	sub := rdb.Subscribe(ctx, invalidationChannel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					continue
				}
				handle(inv)
			}
		}
	}()
	return nil
}
