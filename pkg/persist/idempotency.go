package persist

import (
	"sync"
	"time"
)

// replayCache is the process-local idempotency cache. Entries are keyed by
// (conversation id, idempotency key) and swept lazily on each lookup, with
// no background timer. Never persisted.
type replayCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[replayKey]replayEntry
}

type replayKey struct {
	conversationID string
	key            string
}

type replayEntry struct {
	result    SaveResult
	expiresAt time.Time
}

func newReplayCache(ttl time.Duration) *replayCache {
	return &replayCache{
		ttl:     ttl,
		entries: make(map[replayKey]replayEntry),
	}
}

// lookup prunes expired entries, then returns the cached result for the key
// if one is still live.
func (c *replayCache) lookup(conversationID, key string, now time.Time) (*SaveResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	e, ok := c.entries[replayKey{conversationID, key}]
	if !ok {
		return nil, false
	}

	result := e.result
	result.Conversation = e.result.Conversation.Clone()
	return &result, true
}

// remember caches a successful save result under the given key.
func (c *replayCache) remember(conversationID, key string, result SaveResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result.Conversation = result.Conversation.Clone()
	c.entries[replayKey{conversationID, key}] = replayEntry{
		result:    result,
		expiresAt: now.Add(c.ttl),
	}
}
