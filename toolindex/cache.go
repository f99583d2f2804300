package toolindex

import (
	"container/list"
	"sync"
)

// tableCache is a bounded cache of opened table handles keyed by table name,
// with least-recently-used eviction once maxSize entries are exceeded. It
// keeps no reference counts and no expiry: eviction only drops the cache's
// own pointer, and callers that still hold a handle keep a working table.
type tableCache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheNode struct {
	name  string
	table *Table
}

func newTableCache(maxSize int) *tableCache {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &tableCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// get returns the cached table for name, promoting it to most-recently-used.
func (c *tableCache) get(name string) (*Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheNode).table, true
}

// put inserts or refreshes the cached handle for name, evicting the least
// recently used entry if the cache is over capacity.
func (c *tableCache) put(name string, t *Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[name]; ok {
		el.Value.(*cacheNode).table = t
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheNode{name: name, table: t})
	c.entries[name] = el
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheNode).name)
	}
}

// evict drops the cached handle for name, if present.
func (c *tableCache) evict(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[name]
	if !ok {
		return
	}
	c.order.Remove(el)
	delete(c.entries, name)
}

// len returns the number of cached table handles.
func (c *tableCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
