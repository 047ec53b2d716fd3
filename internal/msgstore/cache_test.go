package msgstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupCache_GetPutRoundTrip(t *testing.T) {
	c := newDedupCache(0)

	_, ok := c.get("hello")
	assert.False(t, ok)

	c.put("hello", 42)
	id, ok := c.get("hello")
	assert.True(t, ok)
	assert.EqualValues(t, 42, id)
}

func TestDedupCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newDedupCache(10) // ten bytes of key budget

	c.put("aaaaa", 1) // 5 bytes
	c.put("bbbbb", 2) // 5 bytes, now at budget

	// Touch "aaaaa" so "bbbbb" becomes the least recently used.
	_, _ = c.get("aaaaa")

	c.put("ccccc", 3) // pushes over budget; "bbbbb" should be evicted

	_, ok := c.get("bbbbb")
	assert.False(t, ok, "least recently used entry should have been evicted")

	_, ok = c.get("aaaaa")
	assert.True(t, ok)
	_, ok = c.get("ccccc")
	assert.True(t, ok)
}

func TestDedupCache_Clear(t *testing.T) {
	c := newDedupCache(0)
	c.put("a", 1)
	c.put("b", 2)
	assert.Equal(t, 2, c.len())

	c.clear()
	assert.Equal(t, 0, c.len())
	_, ok := c.get("a")
	assert.False(t, ok)
}

func TestDedupCache_UpdateExistingKeyPromotes(t *testing.T) {
	c := newDedupCache(0)
	c.put("x", 1)
	c.put("x", 2)

	id, ok := c.get("x")
	assert.True(t, ok)
	assert.EqualValues(t, 2, id)
	assert.Equal(t, 1, c.len())
}

func TestDedupCache_LargeValueIsCached(t *testing.T) {
	c := newDedupCache(defaultCacheBytes)
	big := strings.Repeat("x", 1024)
	c.put(big, 1)
	_, ok := c.get(big)
	assert.True(t, ok)
}
