package msgstore

import (
	"container/list"
	"sync"
)

// defaultCacheBytes is the default size bound for the dedup cache (C2),
// measured as the summed byte-length of cached keys (spec §3: "≈ 50 MB").
const defaultCacheBytes = 50 * 1024 * 1024

// dedupCache is a bounded, LRU-evicted map from payload bytes to the
// payload's C1 id. It accelerates intern() and is invalidated wholesale
// whenever C7 deletes any payload (see clear()), because a cached id may
// then point at a row that no longer exists.
//
// No suitable third-party LRU package appears anywhere in the corpus this
// repository was grounded on, so this is a small stdlib container/list
// implementation — see DESIGN.md.
type dedupCache struct {
	mu        sync.Mutex
	maxBytes  int
	curBytes  int
	ll        *list.List // front = most recently used
	items     map[string]*list.Element
}

type cacheEntry struct {
	key string
	id  int64
}

func newDedupCache(maxBytes int) *dedupCache {
	if maxBytes <= 0 {
		maxBytes = defaultCacheBytes
	}
	return &dedupCache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the cached id for bytes, if present, promoting it to
// most-recently-used.
func (c *dedupCache) get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return 0, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).id, true
}

// put inserts or updates a cache entry, evicting least-recently-used
// entries until the cache is back under its byte budget.
func (c *dedupCache) put(key string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).id = id
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, id: id})
	c.items[key] = el
	c.curBytes += len(key)

	for c.curBytes > c.maxBytes {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.evict(back)
	}
}

func (c *dedupCache) evict(el *list.Element) {
	entry := el.Value.(*cacheEntry)
	c.ll.Remove(el)
	delete(c.items, entry.key)
	c.curBytes -= len(entry.key)
}

// clear discards every cache entry. Called after any non-zero orphan sweep
// deletion count (spec §9: "invalidate the cache wholesale").
func (c *dedupCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.curBytes = 0
}

// len reports the number of cached entries. Used by tests and stats.
func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
