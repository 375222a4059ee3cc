// Package stagecache keeps recently computed stage vectors for front ends
// that render many projects or re-render often.
//
// Entries never expire on their own. Whoever changes a project directory
// (an action finishing, a filesystem watcher) calls Invalidate.
package stagecache

import (
	"sync"
	"time"

	"github.com/p-blackswan/stm32pio/internal/config"
	"github.com/p-blackswan/stm32pio/internal/stage"
)

// Entry is a cached vector and when it was computed.
type Entry struct {
	Dir        string
	Vector     stage.Vector
	ComputedAt time.Time
}

type node struct {
	entry Entry
	prev  *node
	next  *node
}

// Cache is a thread-safe LRU of stage vectors keyed by project directory.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*node
	head     *node // most recently used (sentinel)
	tail     *node // least recently used (sentinel)

	hits, misses uint64
	now          func() time.Time
}

// New creates a cache holding at most capacity projects.
// Panics if capacity < 1.
func New(capacity int) *Cache {
	if capacity < 1 {
		panic("stagecache: capacity must be >= 1")
	}
	head, tail := &node{}, &node{}
	head.next = tail
	tail.prev = head
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*node, capacity),
		head:     head,
		tail:     tail,
		now:      time.Now,
	}
}

// Load returns the cached vector of cfg's project, computing and storing it
// on a miss.
func (c *Cache) Load(cfg *config.Config) stage.Vector {
	if e, ok := c.Get(cfg.Dir()); ok {
		return e.Vector
	}
	v := stage.Compute(cfg)
	c.Put(cfg.Dir(), v)
	return v
}

// Get returns the cached entry for dir.
func (c *Cache) Get(dir string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[dir]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	c.hits++
	c.moveToFront(n)
	return n.entry, true
}

// Put stores v for dir, evicting the least recently used project when full.
// It returns the evicted directory, if any.
func (c *Cache) Put(dir string, v stage.Vector) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{Dir: dir, Vector: v, ComputedAt: c.now()}
	if n, ok := c.items[dir]; ok {
		n.entry = e
		c.moveToFront(n)
		return "", false
	}

	var evicted string
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.remove(victim)
		delete(c.items, victim.entry.Dir)
		evicted = victim.entry.Dir
	}

	n := &node{entry: e}
	c.items[dir] = n
	c.pushFront(n)
	return evicted, evicted != ""
}

// Invalidate drops the entry for dir. It reports whether one existed.
func (c *Cache) Invalidate(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[dir]
	if !ok {
		return false
	}
	c.remove(n)
	delete(c.items, dir)
	return true
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[string]*node, c.capacity)
}

// Len is the number of cached projects.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Dirs lists cached directories from most to least recently used.
func (c *Cache) Dirs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	dirs := make([]string, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		dirs = append(dirs, cur.entry.Dir)
	}
	return dirs
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// --- list operations (caller must hold lock) ---

func (c *Cache) remove(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache) pushFront(n *node) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache) moveToFront(n *node) {
	c.remove(n)
	c.pushFront(n)
}
