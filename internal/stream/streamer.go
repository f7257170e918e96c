package stream

import (
	"terraflow.ai/internal/stream/pool"
	"terraflow.ai/internal/terrain/chunk"
	"terraflow.ai/internal/terrain/noise"
)

type Settings struct {
	Dims     chunk.Dims
	Padding  int
	Capacity int
}

// World is the generation identity cached chunks depend on. Epoch grows on
// every seed or params change.
type World struct {
	Seed   string       `json:"seed"`
	Params noise.Params `json:"params"`
	Epoch  uint64       `json:"epoch"`
}

// Update reports what a Streamer call changed.
type Update struct {
	Requests []pool.Request
	Inserted *chunk.Chunk
	Evicted  []chunk.Position
	Ready    bool
}

// Streamer is the synchronous core of streaming: visibility, the cache and
// the pending set. It is owned by one goroutine.
type Streamer struct {
	set   Settings
	world World

	cache   *Cache
	pending map[chunk.Position]struct{}

	hasViewport bool
	viewport    Viewport
	visible     []chunk.Position
	visibleSet  map[chunk.Position]struct{}

	readyWant map[chunk.Position]struct{}
	readyDone bool
}

func NewStreamer(set Settings, seed string, params noise.Params) *Streamer {
	return &Streamer{
		set:        set,
		world:      World{Seed: seed, Params: params, Epoch: 1},
		cache:      NewCache(),
		pending:    map[chunk.Position]struct{}{},
		visibleSet: map[chunk.Position]struct{}{},
	}
}

func (s *Streamer) World() World       { return s.world }
func (s *Streamer) Settings() Settings { return s.set }
func (s *Streamer) Cache() *Cache      { return s.cache }
func (s *Streamer) Pending() int       { return len(s.pending) }
func (s *Streamer) Viewport() Viewport { return s.viewport }
func (s *Streamer) IsReady() bool      { return s.readyDone }
func (s *Streamer) Visible() []chunk.Position {
	out := make([]chunk.Position, len(s.visible))
	copy(out, s.visible)
	return out
}

func (s *Streamer) IsPending(p chunk.Position) bool {
	_, ok := s.pending[p]
	return ok
}

// SetViewport recomputes the visible set and returns requests for chunks
// that are neither cached nor pending.
func (s *Streamer) SetViewport(v Viewport) Update {
	s.viewport = v
	s.hasViewport = true
	s.visible = VisibleChunks(v, s.set.Dims, s.set.Padding)
	s.visibleSet = positionSet(s.visible)
	if s.readyWant == nil {
		s.readyWant = positionSet(s.visible)
	}

	var up Update
	for _, p := range Missing(s.visible, s.cache, s.pending) {
		s.pending[p] = struct{}{}
		up.Requests = append(up.Requests, s.request(p))
	}
	up.Evicted = s.cache.Evict(s.visibleSet, s.set.Capacity)
	up.Ready = s.checkReady()
	return up
}

func (s *Streamer) request(p chunk.Position) pool.Request {
	return pool.Request{
		Pos:    p,
		Seed:   s.world.Seed,
		Params: s.world.Params,
		Epoch:  s.world.Epoch,
	}
}

// Complete stores a synthesized chunk. Results from an older epoch are
// dropped and reported with a nil Inserted.
func (s *Streamer) Complete(req pool.Request, c *chunk.Chunk) Update {
	if req.Epoch != s.world.Epoch || c == nil {
		return Update{}
	}
	delete(s.pending, req.Pos)
	s.cache.Put(req.Pos, c)
	return Update{
		Inserted: c,
		Evicted:  s.cache.Evict(s.visibleSet, s.set.Capacity),
		Ready:    s.checkReady(),
	}
}

// Abandon returns a chunk that could not be generated to Absent, so the
// next viewport update asks for it again.
func (s *Streamer) Abandon(req pool.Request) bool {
	if req.Epoch != s.world.Epoch {
		return false
	}
	if _, ok := s.pending[req.Pos]; !ok {
		return false
	}
	delete(s.pending, req.Pos)
	return true
}

// Reset installs a new world. All cached and pending chunks are dropped
// before requests for the current viewport are issued.
func (s *Streamer) Reset(seed string, params noise.Params) Update {
	s.world = World{Seed: seed, Params: params, Epoch: s.world.Epoch + 1}
	s.cache.Clear()
	clear(s.pending)
	s.readyWant = nil
	s.readyDone = false
	if !s.hasViewport {
		return Update{}
	}
	return s.SetViewport(s.viewport)
}

func (s *Streamer) checkReady() bool {
	if s.readyDone || s.readyWant == nil {
		return false
	}
	if s.allCached(s.readyWant) || s.allCached(s.visibleSet) {
		s.readyDone = true
		return true
	}
	return false
}

func (s *Streamer) allCached(set map[chunk.Position]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for p := range set {
		if !s.cache.Has(p) {
			return false
		}
	}
	return true
}

// TileAt looks a world tile up in the cached chunks.
func (s *Streamer) TileAt(x, y int) (chunk.Tile, bool) {
	c, ok := s.cache.Get(chunk.Containing(x, y, s.set.Dims.ChunkSize))
	if !ok {
		return chunk.Tile{}, false
	}
	return c.TileAtWorld(x, y)
}
