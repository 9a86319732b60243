package retriever

import (
	"strings"
	"sync"
	"time"

	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/core/types"
	"github.com/Thabonel/wheels-wins-landing-page-sub001/pkg/prefilter"
)

// bucketWords is how many leading words identify an utterance for caching.
// Rapid follow-ups ("book it", "book it please") land in one bucket.
const bucketWords = 6

// maxCacheEntries caps the cache before an opportunistic sweep.
const maxCacheEntries = 1024

type cacheKey struct {
	userID string
	bucket string
	depth  types.Depth
}

// bucketKey folds an utterance to its coarse bucket: the normalized leading
// words. Folding reuses the prefilter's normalization so lookalike spellings
// share a bucket too.
func bucketKey(userID, utterance string, depth types.Depth) cacheKey {
	words := prefilter.Words(utterance)
	if len(words) > bucketWords {
		words = words[:bucketWords]
	}
	return cacheKey{
		userID: userID,
		bucket: strings.Join(words, " "),
		depth:  depth,
	}
}

type cacheEntry struct {
	bundle  types.ContextBundle
	expires time.Time
}

// ttlCache is a small per-process bundle cache. Safe for concurrent
// sessions of one user.
type ttlCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func newTTLCache(ttl time.Duration, now func() time.Time) *ttlCache {
	return &ttlCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		now:     now,
	}
}

func (c *ttlCache) get(key cacheKey) (types.ContextBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return types.ContextBundle{}, false
	}
	if c.now().After(entry.expires) {
		delete(c.entries, key)
		return types.ContextBundle{}, false
	}
	return entry.bundle, true
}

func (c *ttlCache) put(key cacheKey, bundle types.ContextBundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= maxCacheEntries {
		c.sweepLocked()
	}
	c.entries[key] = cacheEntry{bundle: bundle, expires: c.now().Add(c.ttl)}
}

func (c *ttlCache) sweepLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	// Still full of live entries: drop arbitrary ones rather than grow
	// without bound.
	for key := range c.entries {
		if len(c.entries) < maxCacheEntries {
			break
		}
		delete(c.entries, key)
	}
}
