package stream

import (
	"container/list"

	"terraflow.ai/internal/terrain/chunk"
)

type cacheEntry struct {
	pos   chunk.Position
	chunk *chunk.Chunk
}

// Cache maps chunk positions to chunks and remembers insertion order for
// eviction. Access does not refresh an entry's age.
type Cache struct {
	entries map[chunk.Position]*list.Element
	order   *list.List
}

func NewCache() *Cache {
	return &Cache{
		entries: map[chunk.Position]*list.Element{},
		order:   list.New(),
	}
}

func (c *Cache) Get(p chunk.Position) (*chunk.Chunk, bool) {
	el, ok := c.entries[p]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).chunk, true
}

func (c *Cache) Has(p chunk.Position) bool {
	_, ok := c.entries[p]
	return ok
}

// Put stores ch at p. Replacing an entry counts as a fresh insertion.
func (c *Cache) Put(p chunk.Position, ch *chunk.Chunk) {
	if el, ok := c.entries[p]; ok {
		c.order.Remove(el)
	}
	c.entries[p] = c.order.PushBack(&cacheEntry{pos: p, chunk: ch})
}

func (c *Cache) Delete(p chunk.Position) bool {
	el, ok := c.entries[p]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.entries, p)
	return true
}

func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) Clear() {
	clear(c.entries)
	c.order.Init()
}

// Positions lists cached positions oldest first.
func (c *Cache) Positions() []chunk.Position {
	out := make([]chunk.Position, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheEntry).pos)
	}
	return out
}

// Snapshot copies the position to chunk mapping. Chunks are shared; they are immutable.
func (c *Cache) Snapshot() map[chunk.Position]*chunk.Chunk {
	out := make(map[chunk.Position]*chunk.Chunk, len(c.entries))
	for p, el := range c.entries {
		out[p] = el.Value.(*cacheEntry).chunk
	}
	return out
}

// Evict removes non-visible entries, oldest first, until Len <= capacity.
// Visible entries are kept even if that leaves the cache over capacity.
func (c *Cache) Evict(visible map[chunk.Position]struct{}, capacity int) []chunk.Position {
	if len(c.entries) <= capacity {
		return nil
	}
	var evicted []chunk.Position
	for el := c.order.Front(); el != nil && len(c.entries) > capacity; {
		next := el.Next()
		e := el.Value.(*cacheEntry)
		if _, keep := visible[e.pos]; !keep {
			c.order.Remove(el)
			delete(c.entries, e.pos)
			evicted = append(evicted, e.pos)
		}
		el = next
	}
	return evicted
}
