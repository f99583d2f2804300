package toolindex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableCacheLRUEviction(t *testing.T) {
	c := newTableCache(2)
	a := newTable("a", 4, false)
	b := newTable("b", 4, false)
	d := newTable("d", 4, false)

	c.put("a", a)
	c.put("b", b)

	// Touch "a" so "b" becomes least recently used.
	_, ok := c.get("a")
	require.True(t, ok)

	c.put("d", d)
	require.Equal(t, 2, c.len())
	_, ok = c.get("b")
	require.False(t, ok)
	_, ok = c.get("a")
	require.True(t, ok)
}

func TestTableCacheEvict(t *testing.T) {
	c := newTableCache(2)
	c.put("a", newTable("a", 4, false))
	c.evict("a")
	_, ok := c.get("a")
	require.False(t, ok)
	c.evict("a") // evicting a missing entry is a no-op
}

func TestTableCachePutRefreshes(t *testing.T) {
	c := newTableCache(2)
	first := newTable("a", 4, false)
	second := newTable("a", 4, false)
	c.put("a", first)
	c.put("a", second)
	got, ok := c.get("a")
	require.True(t, ok)
	require.Same(t, second, got)
	require.Equal(t, 1, c.len())
}
